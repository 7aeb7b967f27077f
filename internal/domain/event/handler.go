package event

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	orc *Orchestrator
}

func NewHandler(orc *Orchestrator) *Handler {
	return &Handler{orc: orc}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/events", h.PostEvents)
	e.OPTIONS("/events", h.PostEvents)
	e.GET("/healthz", h.Healthz)
}

// PostEvents ingests an Event Grid delivery: a single event object or an
// array of them. Subscription validation handshakes are echoed back without
// touching the pipeline. DischargeCreated events are processed in order; the
// first failure returns 500 so the upstream redelivers the batch.
func (h *Handler) PostEvents(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed JSON")
	}

	if obj, ok := payload.(map[string]interface{}); ok {
		if code, ok := obj["validationCode"].(string); ok && code != "" {
			return c.JSON(http.StatusOK, map[string]string{"validationResponse": code})
		}
	}

	events := asEventList(payload)
	if len(events) > 0 && events[0].EventType == TypeSubscriptionValidation {
		code := events[0].DataString("validationCode")
		return c.JSON(http.StatusOK, map[string]string{"validationResponse": code})
	}

	for i := range events {
		if events[i].EventType != TypeDischargeCreated {
			continue
		}
		if err := h.orc.HandleDischarge(c.Request().Context(), &events[i]); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "event processing failed")
		}
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// asEventList normalizes the payload to a slice of events, dropping array
// entries that are not objects.
func asEventList(payload interface{}) []IncomingEvent {
	var raws []interface{}
	switch v := payload.(type) {
	case []interface{}:
		raws = v
	case map[string]interface{}:
		raws = []interface{}{v}
	default:
		return nil
	}

	var events []IncomingEvent
	for _, raw := range raws {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		var evt IncomingEvent
		b, err := json.Marshal(obj)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(b, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	return events
}
