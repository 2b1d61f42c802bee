package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storesync/internal/database"
	"storesync/internal/events"
	"storesync/internal/export"
	"storesync/internal/metrics"
	"storesync/internal/models"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	action := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/webhooks/"))
	if action == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	entry := &models.WebhookLog{
		Route:        r.URL.Path,
		Method:       r.Method,
		Body:         string(body),
		Headers:      s.headerSnapshot(r),
		Action:       action,
		ResponseCode: http.StatusAccepted,
	}
	if err := s.db.CreateWebhookLog(r.Context(), entry); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("record webhook")
		writeError(w, http.StatusInternalServerError, "failed to record webhook")
		return
	}

	metrics.IncWebhook(action)
	_ = s.bus.PublishJSON(events.EventWebhookReceived, events.WebhookEventPayload{
		LogID:  entry.ID,
		Action: action,
		Route:  entry.Route,
		Body:   entry.Body,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"log_id": entry.ID, "status": "accepted"})
}

// headerSnapshot serializes request headers for the log row, stripping
// the API key.
func (s *HTTPServer) headerSnapshot(r *http.Request) string {
	headers := make(map[string]string, len(r.Header))
	apiKeyHeader := s.auth.headerName()
	for name, values := range r.Header {
		if strings.EqualFold(name, apiKeyHeader) {
			continue
		}
		headers[name] = strings.Join(values, ", ")
	}
	raw, err := json.Marshal(headers)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filters := taskFilters(r)
	limit := parseLimit(r, models.DefaultListLimit)

	tasks, err := s.db.FindTasks(r.Context(), filters, "id DESC", limit)
	if err != nil {
		s.storeError(w, err, "list tasks")
		return
	}
	count, err := s.db.CountTasks(r.Context(), filters)
	if err != nil {
		s.storeError(w, err, "count tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": count})
}

func (s *HTTPServer) handleTaskActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")

	switch rest {
	case "export":
		s.handleTaskExport(w, r)
		return
	case "retry":
		s.handleBulkRetry(w, r)
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if len(parts) == 1 {
		s.handleGetTask(w, r, id)
		return
	}

	switch parts[1] {
	case "retry":
		s.handleRetryTask(w, r, id)
	case "mark-success":
		s.handleMarkSuccess(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	task, err := s.db.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.storeError(w, err, "get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleRetryTask(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if _, err := s.db.GetTask(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.storeError(w, err, "get task")
		return
	}

	retried, err := s.db.RetryTasks(r.Context(), []int64{id})
	if err != nil {
		s.storeError(w, err, "retry task")
		return
	}
	if retried == 0 {
		writeError(w, http.StatusConflict, "only failed tasks can be retried")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"retried": retried})
}

func (s *HTTPServer) handleBulkRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		IDs []int64 `json:"ids"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	retried, err := s.db.RetryTasks(r.Context(), body.IDs)
	if err != nil {
		s.storeError(w, err, "retry tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"retried": retried})
}

func (s *HTTPServer) handleMarkSuccess(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.db.MarkTaskSuccess(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNoRowsAffected) {
			if _, getErr := s.db.GetTask(r.Context(), id); errors.Is(getErr, database.ErrNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			writeError(w, http.StatusConflict, "only failed tasks can be marked successful")
			return
		}
		s.storeError(w, err, "mark task success")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": models.StatusSuccess})
}

func (s *HTTPServer) handleTaskExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tasks, err := s.db.FindTasks(r.Context(), taskFilters(r), "id DESC", parseLimit(r, 10000))
	if err != nil {
		s.storeError(w, err, "export tasks")
		return
	}

	fileName := fmt.Sprintf("tasks_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	if err := export.WriteTaskReport(w, tasks); err != nil {
		s.logger.Error().Err(err).Msg("stream task report")
	}
}

func (s *HTTPServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.drainer == nil {
		writeError(w, http.StatusServiceUnavailable, "drain is not available on this instance")
		return
	}

	var budget time.Duration
	if r.Body != nil && r.ContentLength != 0 {
		var body struct {
			Budget string `json:"budget"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if body.Budget != "" {
			parsed, err := time.ParseDuration(body.Budget)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid budget duration")
				return
			}
			budget = parsed
		}
	}

	stats, err := s.drainer.Drain(r.Context(), budget)
	if err != nil {
		s.logger.Error().Err(err).Msg("on-demand drain")
		writeError(w, http.StatusInternalServerError, "drain failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now()
	tasksRemoved, err := s.db.PurgeTasks(r.Context(), now, s.policy)
	if err != nil {
		s.storeError(w, err, "purge tasks")
		return
	}
	logsRemoved, err := s.db.PurgeWebhookLogs(r.Context(), now, s.policy)
	if err != nil {
		s.storeError(w, err, "purge webhook logs")
		return
	}

	metrics.AddPurged("tasks", tasksRemoved)
	metrics.AddPurged("webhook_logs", logsRemoved)

	writeJSON(w, http.StatusOK, map[string]any{
		"tasks_removed":        tasksRemoved,
		"webhook_logs_removed": logsRemoved,
	})
}

func (s *HTTPServer) handleRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	window := time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		window = parsed
	}

	rates, err := s.db.Rates(r.Context(), time.Now(), window)
	if err != nil {
		s.storeError(w, err, "queue rates")
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

func (s *HTTPServer) handleWebhookLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var filters []database.Filter
	for _, field := range []string{"action", "route", "method"} {
		if value := strings.TrimSpace(r.URL.Query().Get(field)); value != "" {
			filters = append(filters, database.Eq(field, value))
		}
	}

	logs, err := s.db.FindWebhookLogs(r.Context(), filters, "id DESC", parseLimit(r, models.DefaultListLimit))
	if err != nil {
		s.storeError(w, err, "list webhook logs")
		return
	}
	count, err := s.db.CountWebhookLogs(r.Context(), filters)
	if err != nil {
		s.storeError(w, err, "count webhook logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook_logs": logs, "count": count})
}

// storeError maps storage failures onto HTTP status codes. Validation
// problems are the caller's fault, everything else is ours.
func (s *HTTPServer) storeError(w http.ResponseWriter, err error, op string) {
	var vErr *database.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, http.StatusBadRequest, vErr.Error())
		return
	}
	s.logger.Error().Err(err).Str("op", op).Msg("storage failure")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func taskFilters(r *http.Request) []database.Filter {
	var filters []database.Filter
	for _, field := range []string{"status", "type", "type_group"} {
		if value := strings.TrimSpace(r.URL.Query().Get(field)); value != "" {
			filters = append(filters, database.Eq(field, value))
		}
	}
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		filters = append(filters, database.Like("name", "%"+name+"%"))
	}
	return filters
}

func parseLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
