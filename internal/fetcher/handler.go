package fetcher

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/openhls/s2-downloader/internal/pkg/response"
)

// SubscriptionHandler serves the push subscription ingress.
type SubscriptionHandler struct {
	processor *PushProcessor
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a push event handler.
func NewSubscriptionHandler(processor *PushProcessor, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		processor: processor,
		validate:  validator.New(),
		logger:    logger,
	}
}

// HandleEvent handles POST /events. Admitted and deliberately filtered
// events both return 200; only malformed payloads are a client error.
func (h *SubscriptionHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var notification Notification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		response.BadRequest(w, "Invalid JSON payload")
		return
	}

	if err := h.validate.Struct(notification); err != nil {
		response.ValidationError(w, "value", err.Error())
		return
	}

	outcome, err := h.processor.Process(r.Context(), notification)
	if err != nil {
		if errors.Is(err, ErrMalformedNotification) {
			response.BadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to process push event", slog.String("error", err.Error()))
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]string{"status": string(outcome)})
}
