package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

const (
	webhookBodyLimit = 1 << 20
	signatureHeader  = "Stripe-Signature"
)

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// handleStripeWebhook answers 200 for processed, ignored and dropped events
// and 400 otherwise, so Stripe retries deliveries that failed for a reason
// other than attribution.
func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	eventType, outcome := "", "rejected"
	defer func() {
		h.metrics.observeWebhook(eventType, outcome, h.now().Sub(start))
	}()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	signature := r.Header.Get(signatureHeader)
	if signature == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing Stripe signature"})
		return
	}

	res, err := h.svc.HandleWebhook(r.Context(), payload, signature)
	if res != nil {
		eventType = string(res.EventType)
	}
	if err != nil {
		if errors.Is(err, subscription.ErrWebhookVerificationFailed) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid Stripe signature"})
			return
		}
		outcome = "failed"
		h.log.ErrorContext(r.Context(), "stripe webhook processing failed",
			logger.EventType(eventType),
			logger.Error(err),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "processing failed"})
		return
	}

	outcome = string(res.Outcome)
	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}
