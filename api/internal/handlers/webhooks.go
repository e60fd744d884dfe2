package handlers

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/metrics"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/service"
	"github.com/ecocrm-platform/ecocrm-stack/common/httputil"
)

const maxWebhookBody = 1 << 20

// ChatwootWebhook handles POST /webhooks/chatwoot?t=<token>.
// A request with a wrong token is rejected before anything touches storage:
// unauthenticated bodies never enter the audit log.
func (h *Handler) ChatwootWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := r.URL.Query().Get("t")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		httputil.WriteError(w, http.StatusForbidden, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "empty body")
		return
	}

	headers := map[string]string{
		"Content-Type": r.Header.Get("Content-Type"),
		"User-Agent":   r.Header.Get("User-Agent"),
	}

	result, err := h.webhooks.Process(r.Context(), body, headers)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		metrics.WebhooksTotal.WithLabelValues("error").Inc()
		httputil.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}

	metrics.WebhooksTotal.WithLabelValues(result.Status).Inc()
	metrics.WebhookBytesTotal.Add(float64(len(body)))

	// The malformed body is already in the audit log; the sender still gets
	// told its payload was unparseable.
	if result.Status == service.WebhookInvalid {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
