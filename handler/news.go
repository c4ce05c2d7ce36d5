package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"news-search-service/fetcher"
	"news-search-service/middleware"
	"news-search-service/model"
	"news-search-service/refresh"
)

const defaultSearchesLimit = 20

// NewsHandler serves the keyword search endpoints.
type NewsHandler struct {
	policy *refresh.Policy
	log    *zap.Logger
	now    func() time.Time
}

// NewNewsHandler creates a new news handler
func NewNewsHandler(policy *refresh.Policy, log *zap.Logger) *NewsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &NewsHandler{
		policy: policy,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type searchRequest struct {
	Keyword string `json:"keyword" form:"keyword"`
}

// Search makes sure the cached articles for the keyword are fresh and returns them.
func (h *NewsHandler) Search(c *gin.Context) {
	user := middleware.User(c)

	var req searchRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": refresh.ErrEmptyKeyword.Error()})
		return
	}

	ctx := c.Request.Context()
	refreshed, err := h.policy.EnsureFresh(ctx, keyword, user, h.now())
	if err != nil {
		var upErr *fetcher.UpstreamError
		if errors.As(err, &upErr) {
			// serve whatever is cached alongside the failure
			articles, aerr := h.policy.Articles(ctx, keyword, user)
			if aerr != nil {
				h.log.Error("Loading cached articles failed",
					zap.String("keyword", keyword),
					zap.String("user", user),
					zap.Error(aerr))
			}
			h.log.Warn("Search served without refresh",
				zap.String("keyword", keyword),
				zap.String("user", user),
				zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    upErr.Error(),
				"keyword":  keyword,
				"articles": nonNil(articles),
			})
			return
		}
		h.log.Error("Search failed", zap.String("keyword", keyword), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	articles, err := h.policy.Articles(ctx, keyword, user)
	if err != nil {
		h.log.Error("Loading cached articles failed", zap.String("keyword", keyword), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"keyword":   keyword,
		"refreshed": refreshed,
		"articles":  nonNil(articles),
	})
}

// SearchResults returns the cached articles for a keyword without fetching.
func (h *NewsHandler) SearchResults(c *gin.Context) {
	user := middleware.User(c)
	keyword := strings.TrimSpace(c.Param("keyword"))

	articles, err := h.policy.Articles(c.Request.Context(), keyword, user)
	if err != nil {
		if errors.Is(err, refresh.ErrEmptyKeyword) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"keyword": keyword, "articles": nonNil(articles)})
}

// History returns the top five articles per cached keyword, optionally after
// refreshing every keyword.
func (h *NewsHandler) History(c *gin.Context) {
	user := middleware.User(c)
	ctx := c.Request.Context()

	doRefresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	response := gin.H{}

	if doRefresh {
		results, err := h.policy.RefreshAll(ctx, user)
		if results == nil {
			results = []model.FetchResult{}
		}
		response["results"] = results
		if err != nil {
			var msgs []string
			for _, r := range results {
				if !r.Success {
					msgs = append(msgs, r.Keyword+": "+r.Error)
				}
			}
			if len(msgs) == 0 {
				msgs = []string{err.Error()}
			}
			response["errors"] = msgs
			h.log.Warn("History refresh had failures",
				zap.String("user", user),
				zap.Int("failed", len(msgs)))
		}
	}

	history, err := h.policy.TopFive(ctx, user)
	if err != nil {
		h.log.Error("Loading history failed", zap.String("user", user), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	response["history"] = history

	c.JSON(http.StatusOK, response)
}

// Searches returns the user's recent search log.
func (h *NewsHandler) Searches(c *gin.Context) {
	user := middleware.User(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultSearchesLimit)))
	if err != nil || limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit, must be between 1 and 100"})
		return
	}

	records, err := h.policy.Searches(c.Request.Context(), user, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []model.SearchRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"searches": records})
}

func nonNil(articles []model.Article) []model.Article {
	if articles == nil {
		return []model.Article{}
	}
	return articles
}
