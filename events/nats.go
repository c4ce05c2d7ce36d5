package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"news-search-service/metrics"
	"news-search-service/model"
)

// Publisher receives the outcome of every fetch-and-replace attempt.
type Publisher interface {
	PublishResult(ctx context.Context, result model.FetchResult) error
	Close()
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	Subject string
}

// NATSPublisher publishes refresh results to a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     *zap.Logger
}

// ResultMessage is the envelope sent to NATS.
type ResultMessage struct {
	Result    model.FetchResult `json:"result"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Version   string            `json:"version"`
}

// NewNATSPublisher connects to NATS and reconnects indefinitely on loss.
func NewNATSPublisher(cfg NATSConfig, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("news-search-service"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS connection lost", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{conn: nc, subject: cfg.Subject, log: log}, nil
}

// Close closes the NATS connection
func (np *NATSPublisher) Close() {
	if np.conn != nil {
		np.conn.Close()
	}
}

// PublishResult publishes a fetch result to the configured subject.
func (np *NATSPublisher) PublishResult(_ context.Context, result model.FetchResult) error {
	data, err := encodeResult(result, time.Now())
	if err != nil {
		return err
	}

	err = np.conn.Publish(np.subject, data)
	metrics.NatsMessagesPublished.WithLabelValues(np.subject, metrics.Status(err)).Inc()
	if err != nil {
		return err
	}

	np.log.Debug("Published refresh result",
		zap.String("subject", np.subject),
		zap.String("keyword", result.Keyword),
		zap.String("request_id", result.RequestID))
	return nil
}

func encodeResult(result model.FetchResult, now time.Time) ([]byte, error) {
	return json.Marshal(ResultMessage{
		Result:    result,
		Timestamp: now,
		Source:    "news-search-service",
		Version:   "1.0",
	})
}

// Nop discards results; used when NATS is not configured.
type Nop struct{}

func (Nop) PublishResult(context.Context, model.FetchResult) error { return nil }
func (Nop) Close()                                                 {}
