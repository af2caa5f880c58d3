package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("billing: encode response", slog.Int("status", status), logger.Error(err))
	}
}

// statusForKind maps an error kind onto the response status.
func statusForKind(kind subscription.Kind) int {
	switch kind {
	case subscription.KindValidation:
		return http.StatusBadRequest
	case subscription.KindAuthorization:
		return http.StatusForbidden
	case subscription.KindNotFound:
		return http.StatusNotFound
	case subscription.KindConflict:
		return http.StatusConflict
	case subscription.KindAttribution:
		return http.StatusUnprocessableEntity
	case subscription.KindProviderTransient:
		return http.StatusServiceUnavailable
	case subscription.KindProviderPermanent:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err with the status of its kind. Server-side failures
// are logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	kind := subscription.KindOf(err)
	if errors.Is(err, subscription.ErrUnauthenticated) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: string(kind)})
		return
	}

	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		level := slog.LevelError
		if status == http.StatusServiceUnavailable {
			level = slog.LevelWarn
		}
		log.Log(r.Context(), level, "billing request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			logger.Error(err),
		)
		writeJSON(w, status, errorResponse{Error: http.StatusText(status), Code: string(kind)})
		return
	}

	resp := errorResponse{Error: publicMessage(err), Code: string(kind)}
	if errors.Is(err, subscription.ErrAlreadyHasSubscription) {
		resp.Code = subscription.ErrAlreadyHasSubscription.Error()
	}
	writeJSON(w, status, resp)
}

// publicMessage returns the innermost message of a tagged error, without the
// operation prefix.
func publicMessage(err error) string {
	var tagged *subscription.Error
	if errors.As(err, &tagged) && tagged.Err != nil {
		return tagged.Err.Error()
	}
	return err.Error()
}
