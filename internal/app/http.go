package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"matterops/api/internal/snapshot"
	"matterops/api/internal/util"
)

// Handler exposes the webhook ingress and diagnostic endpoints.
type Handler struct {
	svc               *Service
	clioWebhookSecret string
	ghlWebhookSecret  string
}

func NewHandler(svc *Service, clioSecret, ghlSecret string) *Handler {
	return &Handler{svc: svc, clioWebhookSecret: clioSecret, ghlWebhookSecret: ghlSecret}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", h.handleHealth)
	mux.HandleFunc("/api/ready", h.handleReady)
	mux.HandleFunc("/webhooks/clio/matter", h.signed(h.clioWebhookSecret, h.handleMatterWebhook))
	mux.HandleFunc("/webhooks/clio/calendar", h.signed(h.clioWebhookSecret, h.handleCalendarWebhook))
	mux.HandleFunc("/webhooks/clio/task", h.signed(h.clioWebhookSecret, h.handleTaskWebhook))
	mux.HandleFunc("/webhooks/ghl/contact", h.signed(h.ghlWebhookSecret, h.handleContactWebhook))
	mux.HandleFunc("/api/traces", h.handleTraces)
	mux.HandleFunc("/api/matters/", h.handleMatters)
	return requestLogger(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Ping(ctx); err != nil {
		writeError(w, domainError(http.StatusServiceUnavailable, "not_ready", "database unreachable", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// signed wraps a webhook handler with HMAC-SHA256 signature verification.
// An empty secret disables verification, for local development.
func (h *Handler) signed(secret string, next func(http.ResponseWriter, *http.Request, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, methodNotAllowed(http.MethodPost))
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, domainError(http.StatusBadRequest, "bad_request", "cannot read body", nil))
			return
		}
		if secret != "" {
			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			want := hex.EncodeToString(mac.Sum(nil))
			got := r.Header.Get("X-Webhook-Signature")
			if got == "" || !hmac.Equal([]byte(want), []byte(got)) {
				writeError(w, domainError(http.StatusUnauthorized, "bad_signature", "webhook signature mismatch", nil))
				return
			}
		}
		next(w, r, body)
	}
}

func (h *Handler) handleMatterWebhook(w http.ResponseWriter, r *http.Request, body []byte) {
	var event StageChangedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, badPayload("invalid stage payload", err.Error()))
		return
	}
	if event.MatterID == 0 || event.StageID == "" {
		writeError(w, badPayload("matter_id and stage_id are required", nil))
		return
	}

	result, err := h.svc.HandleStageChanged(r.Context(), event)
	if err != nil {
		writeError(w, mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCalendarWebhook(w http.ResponseWriter, r *http.Request, body []byte) {
	var event CalendarEntryCreatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, badPayload("invalid calendar payload", err.Error()))
		return
	}
	if event.MatterID == 0 || event.CalendarEntryID == 0 || event.StartAt.IsZero() {
		writeError(w, badPayload("matter_id, calendar_entry_id and start_at are required", nil))
		return
	}

	result, err := h.svc.HandleCalendarEntryCreated(r.Context(), event)
	if err != nil {
		writeError(w, mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTaskWebhook(w http.ResponseWriter, r *http.Request, body []byte) {
	var event TaskCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, badPayload("invalid task payload", err.Error()))
		return
	}
	if event.TaskID == 0 {
		writeError(w, badPayload("task_id is required", nil))
		return
	}

	result, err := h.svc.HandleTaskCompleted(r.Context(), event)
	if err != nil {
		writeError(w, mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleContactWebhook(w http.ResponseWriter, r *http.Request, body []byte) {
	var event ContactEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, badPayload("invalid contact payload", err.Error()))
		return
	}

	if err := h.svc.HandleContactEvent(r.Context(), event); err != nil {
		writeError(w, mapError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, methodNotAllowed(http.MethodGet))
		return
	}

	query := r.URL.Query().Get("q")
	var matterID int64
	if raw := r.URL.Query().Get("matter_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, domainError(http.StatusBadRequest, "bad_request", "matter_id must be numeric", nil))
			return
		}
		matterID = parsed
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	events := h.svc.SearchTraces(r.Context(), query, matterID, limit)
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleMatters routes /api/matters/{id}/snapshot.
func (h *Handler) handleMatters(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/matters/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "snapshot" {
		writeError(w, domainError(http.StatusNotFound, "not_found", "unknown route", nil))
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, methodNotAllowed(http.MethodPost))
		return
	}
	matterID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, domainError(http.StatusBadRequest, "bad_request", "matter id must be numeric", nil))
		return
	}

	result, err := h.svc.CaptureMatterSnapshot(r.Context(), matterID)
	if errors.Is(err, snapshot.ErrChromeMissing) {
		writeError(w, domainError(http.StatusNotImplemented, "chrome_missing", "no chromium binary available", nil))
		return
	}
	if err != nil {
		writeError(w, mapError(err))
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

func mapError(err error) *DomainError {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain
	}
	log.Printf("app: internal error: %v", err)
	return domainError(http.StatusBadGateway, "upstream_error", "processing failed", nil)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("app: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err *DomainError) {
	writeJSON(w, err.Status, map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"details": err.Details,
	})
}

// requestLogger tags each request with an id and logs method, path, status
// and latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := util.NewID("req")
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		recorder.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(recorder, r)
		log.Printf("%s %s %s %d %s", requestID, r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
