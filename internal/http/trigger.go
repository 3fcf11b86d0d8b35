package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/duespark/dunning/internal/collector"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// triggerHandler runs one worker batch. The scheduler calls this on a fixed
// cadence; a run that finds the lock held is a success (another instance is
// already working), not a retryable failure.
func triggerHandler(c *collector.Collector, secret string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if !bearerMatches(ctx.Request().Header.Get("Authorization"), secret) {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		res, err := c.ProcessCollections(ctx.Request().Context())
		if err != nil {
			log.Errorf("worker run failed: %v", err)

			return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}

		return ctx.JSON(http.StatusOK, res)
	}
}

func bearerMatches(header, secret string) bool {
	if secret == "" {
		return false
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
