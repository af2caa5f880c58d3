package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/lmsadmin/pkg/audit"
	"github.com/dmitrymomot/lmsadmin/pkg/logger"
	"github.com/dmitrymomot/lmsadmin/pkg/subscription"
)

type checkoutRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Email      string `json:"email"`
	Name       string `json:"name"`
}

type syncSessionRequest struct {
	SessionID string `json:"session_id"`
}

type subscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

// subscriptionResponse is the current-subscription view. Subscription is
// null when the user never subscribed.
type subscriptionResponse struct {
	Subscription  *subscription.Subscription `json:"subscription"`
	Entitled      bool                       `json:"entitled"`
	DaysRemaining int                        `json:"days_remaining"`
	AdminGranted  bool                       `json:"admin_granted"`
}

func (h *Handler) subscriptionView(sub *subscription.Subscription) subscriptionResponse {
	if sub == nil {
		return subscriptionResponse{}
	}
	return subscriptionResponse{
		Subscription:  sub,
		Entitled:      h.svc.IsEntitled(sub),
		DaysRemaining: sub.DaysRemainingAt(h.now()),
		AdminGranted:  sub.IsAdminGranted(),
	}
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	caller := callerOrEmpty(r)
	sub, err := h.svc.GetCurrentSubscription(r.Context(), caller.UserID)
	if err != nil {
		if subscription.KindOf(err) == subscription.KindNotFound {
			writeJSON(w, http.StatusOK, subscriptionResponse{})
			return
		}
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.subscriptionView(sub))
}

func (h *Handler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !h.bind(w, r, &req) {
		return
	}
	link, err := h.svc.CreateCheckoutSession(r.Context(), callerOrEmpty(r), subscription.CheckoutOptions{
		PriceID:    strings.TrimSpace(req.PriceID),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
		Email:      strings.TrimSpace(req.Email),
		Name:       strings.TrimSpace(req.Name),
	})
	if !h.done(w, r, "checkout", err) {
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *Handler) syncCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req syncSessionRequest
	if !h.bind(w, r, &req) {
		return
	}
	sub, err := h.svc.SyncCheckoutSession(r.Context(), callerOrEmpty(r), strings.TrimSpace(req.SessionID))
	if !h.done(w, r, "sync_session", err) {
		return
	}
	writeJSON(w, http.StatusOK, h.subscriptionView(sub))
}

func (h *Handler) syncSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !h.bind(w, r, &req) {
		return
	}
	action := "sync_subscription"
	admin := strings.HasPrefix(r.URL.Path, "/admin/")
	if admin {
		action = "admin_sync_subscription"
	}
	subID := strings.TrimSpace(req.SubscriptionID)
	sub, err := h.svc.SyncSubscription(r.Context(), callerOrEmpty(r), subID)
	if admin {
		opts := []audit.EventOption{audit.WithResource("subscription", subID)}
		if sub != nil {
			opts = append(opts,
				audit.WithMetadata("user_id", sub.UserID),
				audit.WithMetadata("status", string(sub.Status)),
			)
		}
		h.recordAudit(r.Context(), AuditActionSyncSubscription, err, opts...)
	}
	if !h.done(w, r, action, err) {
		return
	}
	writeJSON(w, http.StatusOK, h.subscriptionView(sub))
}

func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	h.setCancellation(w, r, true)
}

func (h *Handler) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setCancellation(w, r, false)
}

// setCancellation targets the caller's current subscription when the body
// names none.
func (h *Handler) setCancellation(w http.ResponseWriter, r *http.Request, cancel bool) {
	var req subscriptionRequest
	if !h.bind(w, r, &req) {
		return
	}
	caller := callerOrEmpty(r)
	action, fn := "reactivate", h.svc.ReactivateSubscription
	if cancel {
		action, fn = "cancel", h.svc.CancelSubscription
	}

	subID := strings.TrimSpace(req.SubscriptionID)
	if subID == "" {
		current, err := h.svc.GetCurrentSubscription(r.Context(), caller.UserID)
		if !h.done(w, r, action, err) {
			return
		}
		subID = current.SubscriptionID
	}

	sub, err := fn(r.Context(), caller, subID)
	if !h.done(w, r, action, err) {
		return
	}
	writeJSON(w, http.StatusOK, h.subscriptionView(sub))
}

func (h *Handler) createPortalLink(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if !h.bind(w, r, &req) {
		return
	}
	link, err := h.svc.CreatePortalLink(r.Context(), callerOrEmpty(r), strings.TrimSpace(req.ReturnURL))
	if !h.done(w, r, "portal", err) {
		return
	}
	writeJSON(w, http.StatusOK, link)
}

type grantRequest struct {
	UserID       string `json:"user_id"`
	DurationDays int    `json:"duration_days"`
}

func (h *Handler) grantSubscription(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !h.bind(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	sub, err := h.svc.GrantSubscription(r.Context(), userID, req.DurationDays)
	opts := []audit.EventOption{
		audit.WithResource("user", userID),
		audit.WithMetadata("requested_days", req.DurationDays),
	}
	if sub != nil {
		opts = append(opts,
			audit.WithMetadata("subscription_id", sub.SubscriptionID),
			audit.WithMetadata("period_end", sub.CurrentPeriodEnd.Format(time.RFC3339)),
		)
	}
	h.recordAudit(r.Context(), AuditActionGrant, err, opts...)
	if !h.done(w, r, "admin_grant", err) {
		return
	}
	h.log.InfoContext(r.Context(), "admin granted subscription",
		slog.String("admin_id", callerOrEmpty(r).UserID),
		logger.UserID(sub.UserID),
		logger.SubscriptionID(sub.SubscriptionID),
	)
	writeJSON(w, http.StatusCreated, h.subscriptionView(sub))
}

type sweepResponse struct {
	Expired int `json:"expired"`
}

func (h *Handler) runSweep(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	expired, err := h.svc.ExpireSubscriptions(r.Context())
	h.metrics.observeSweep(expired, h.now().Sub(start), err)
	h.recordAudit(r.Context(), AuditActionSweep, err,
		audit.WithResource("subscriptions", ""),
		audit.WithMetadata("expired", expired),
	)
	if !h.done(w, r, "admin_sweep", err) {
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Expired: expired})
}

// bind decodes the request body and answers 400 or 415 on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeJSON(w, r, v); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(subscription.KindValidation)})
		return false
	}
	return true
}

// done records the action result and writes the error response, if any.
// It reports whether the handler should go on.
func (h *Handler) done(w http.ResponseWriter, r *http.Request, action string, err error) bool {
	if err == nil {
		h.metrics.observeAction(action, "ok")
		return true
	}
	h.metrics.observeAction(action, string(subscription.KindOf(err)))
	writeError(w, r, h.log, err)
	return false
}
