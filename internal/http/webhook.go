package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duespark/dunning/internal/model"
	"github.com/duespark/dunning/internal/repository"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type deliveryEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// eventStatus maps provider event types to delivery statuses. Unknown events
// are acknowledged without effect so the provider stops retrying them.
func eventStatus(event string) (model.DeliveryStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "accepted", "sent":
		return model.DeliverySent, true
	case "delivered":
		return model.DeliveryDelivered, true
	case "bounce", "bounced":
		return model.DeliveryBounced, true
	case "failed", "dropped":
		return model.DeliveryFailed, true
	default:
		return "", false
	}
}

func deliveryWebhookHandler(msgs repository.SentMessagesRepository, secret string, logger *zap.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		if !signatureMatches(body, c.Request().Header.Get("X-Signature"), secret) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "bad signature"})
		}

		var ev deliveryEvent
		if err := json.Unmarshal(body, &ev); err != nil || ev.MessageID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad payload"})
		}

		status, known := eventStatus(ev.Event)
		if !known {
			return c.JSON(http.StatusOK, map[string]any{"ignored": true})
		}

		var deliveredAt *time.Time
		if status == model.DeliveryDelivered {
			t := time.Now()
			if ev.Timestamp > 0 {
				t = time.Unix(ev.Timestamp, 0)
			}
			deliveredAt = &t
		}

		found, err := msgs.UpdateDeliveryStatus(c.Request().Context(), ev.MessageID, status, deliveredAt)
		if err != nil {
			logger.Error("delivery status update failed",
				zap.String("external_message_id", ev.MessageID), zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "update failed"})
		}
		if !found {
			// provider retries can outlive our rows; log and ack
			logger.Warn("delivery event for unknown message",
				zap.String("external_message_id", ev.MessageID), zap.String("event", ev.Event))
		}

		return c.JSON(http.StatusOK, map[string]any{"updated": found})
	}
}

func signatureMatches(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(header))), []byte(want))
}
