package http

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/duespark/dunning/internal/collection"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type manualAction int

const (
	actionPause manualAction = iota
	actionResume
	actionComplete
	actionResponded
)

type actionReq struct {
	Note string `json:"note"`
}

const maxNoteLen = 500

// actionHandler serves the manual pause/resume/complete/responded endpoints.
// Transitions the state table does not allow come back as 422 with a
// structured INVALID_TRANSITION code.
func actionHandler(m *collection.Machine, action manualAction) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing id"})
		}

		var req actionReq
		_ = c.Bind(&req) // note is optional; an empty body is fine
		req.Note = strings.TrimSpace(req.Note)
		if utf8.RuneCountInString(req.Note) > maxNoteLen {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "note too long"})
		}

		now := time.Now()
		ctx := c.Request().Context()

		var err error
		switch action {
		case actionPause:
			err = m.Pause(ctx, id, req.Note, now)
		case actionResume:
			err = m.Resume(ctx, id, req.Note, now)
		case actionComplete:
			err = m.CompleteManually(ctx, id, req.Note, now)
		case actionResponded:
			err = m.MarkResponded(ctx, id, now)
		}

		if err != nil {
			var te *collection.TransitionError
			switch {
			case errors.Is(err, collection.ErrNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			case errors.As(err, &te):
				return c.JSON(http.StatusUnprocessableEntity, map[string]any{
					"error": "invalid transition",
					"code":  te.Code(),
					"from":  te.From.String(),
					"to":    te.To.String(),
				})
			default:
				log.Errorf("manual action failed: %v", err)

				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "action failed"})
			}
		}

		return c.JSON(http.StatusOK, map[string]any{"ok": true, "id": id})
	}
}
