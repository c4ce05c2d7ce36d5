package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports the service as healthy.
func HealthCheck(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": service})
	}
}
