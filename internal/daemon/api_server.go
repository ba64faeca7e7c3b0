package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/services"
	"gleaner/internal/store"
)

const maxBodyBytes = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, h))
	}
	handle("GET /api/status", s.handleStatus)
	handle("GET /api/jobs", s.handleListJobs)
	handle("POST /api/jobs", s.handleSubmit)
	handle("POST /api/jobs/retry", s.handleRetry)
	handle("GET /api/interviews/{id}", s.handleInterview)
	handle("POST /api/interviews/{id}/run", s.handleSubmit)
	handle("POST /api/sweep", s.handleSweep)
	handle("POST /api/notify/test", s.handleNotifyTest)
	// Long-polled; no write timeout is set on the server for this reason.
	handle("GET /api/logs", s.handleLogs)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_serve_failed", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.shutdown()
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, fromStatus(s.daemon.Status(r.Context())))
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	jobs, err := s.daemon.ListJobs(r.Context(), query.Get("interview"), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": fromJobs(jobs)})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if id := r.PathValue("id"); id != "" {
		req.InterviewID = id
	}
	job, created, err := s.daemon.Enqueue(r.Context(), Submission{
		InterviewID:    req.InterviewID,
		IdempotencyKey: req.IdempotencyKey,
		ResumeFrom:     req.ResumeFrom,
		SkipSteps:      req.SkipSteps,
		Instructions:   req.Instructions,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, SubmitResponse{Job: fromJob(job), Created: created})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.daemon.RetryFailed(r.Context(), req.IDs...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"retried": n})
}

func (s *apiServer) handleInterview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	iv, err := s.daemon.store.GetInterview(ctx, id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	analysis, _, err := s.daemon.store.GetAnalysis(ctx, id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	jobs, err := s.daemon.ListJobs(ctx, id, 10)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, InterviewResponse{
		ID:                  iv.ID,
		Title:               iv.Title,
		Status:              string(iv.Status),
		CompletedSteps:      analysis.CompletedSteps,
		CurrentStep:         analysis.CurrentStep,
		Progress:            analysis.Progress,
		StatusDetail:        analysis.StatusDetail,
		LastError:           analysis.LastError,
		EvidenceCount:       analysis.EvidenceCount,
		SpeakerReviewNeeded: iv.SpeakerReviewNeeded,
		Jobs:                fromJobs(jobs),
	})
}

func (s *apiServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.daemon.Sweep(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fromReport(report))
}

func (s *apiServer) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		s.writeFailure(w, fmt.Errorf("%s: %w", message, err))
		return
	}
	s.writeJSON(w, http.StatusOK, NotifyResponse{Sent: sent, Message: message})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, LogsResponse{})
		return
	}
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := parseFlag(query.Get("follow"))
	interviewID := strings.TrimSpace(query.Get("interview"))
	component := strings.TrimSpace(query.Get("component"))

	var resp LogsResponse
	if parseFlag(query.Get("tail")) && since == 0 && !follow {
		resp.Events, resp.Next = hub.Tail(limit)
	} else {
		events, next, err := hub.Fetch(r.Context(), since, limit, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeFailure(w, err)
			return
		}
		resp.Events, resp.Next = events, next
	}

	filtered := resp.Events[:0]
	for _, evt := range resp.Events {
		if interviewID != "" && evt.InterviewID != interviewID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	resp.Events = filtered
	s.writeJSON(w, http.StatusOK, resp)
}

func parseFlag(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

// decodeBody reads an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(s.logger, "api request failed", "api_request_failed", logging.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
