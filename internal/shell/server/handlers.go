package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"

	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/history"
)

// maxPayloadBytes caps webhook bodies. GitHub itself refuses payloads over
// 25 MB; anything near that is not a push event we care about.
const maxPayloadBytes = 1 << 20

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"app":    s.appName,
		"host":   s.params.SSHHost,
	})
}

// =============================================================================
// Run History
// =============================================================================

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history is not enabled"})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var (
		records []history.Record
		err     error
	)
	if appName := r.URL.Query().Get("app"); appName != "" {
		records, err = s.store.ListByApp(r.Context(), appName, limit)
	} else {
		records, err = s.store.List(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list runs"})
		return
	}

	s.respondJSON(w, http.StatusOK, records)
}

// =============================================================================
// Push Webhook
// =============================================================================

// handleHook accepts a GitHub push event and redeploys the application. The
// response is sent before the deployment runs: GitHub abandons webhook
// deliveries after 10 seconds and a rollout takes minutes.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	if appName := chi.URLParam(r, "app"); appName != s.appName {
		s.logger.Warn("hook for unknown application", "app", appName)
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown application"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	payload, err := gh.ValidatePayload(r, []byte(s.cfg.Secret))
	if err != nil {
		s.logger.Warn("webhook signature rejected", "error", err)
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "invalid signature"})
		return
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		s.logger.Warn("webhook payload unparseable", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	push, ok := event.(*gh.PushEvent)
	if !ok {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "ignoring non-push event"})
		return
	}

	if ref := push.GetRef(); ref != "refs/heads/"+s.branch {
		s.logger.Info("push to non-target ref, skipping", "ref", ref, "branch", s.branch)
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "not target branch, skipping"})
		return
	}

	if !s.tryLock() {
		s.logger.Warn("deployment already in progress, rejecting", "app", s.appName)
		s.recordRejection(r.Context(), push.GetAfter())
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "deployment already in progress"})
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "deployment accepted",
		"app":     s.appName,
		"commit":  push.GetAfter(),
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.unlock()
		s.deploy(push.GetAfter())
	}()
}

// deploy executes one run end to end. The orchestrator records the run in
// history itself; here we only log the outcome, the HTTP response is long
// gone.
func (s *Server) deploy(commit string) {
	logger := s.logger.With("app", s.appName, "commit", commit)
	logger.Info("deployment started")

	res, err := s.runner.Execute(context.Background(), s.params)
	if err != nil {
		stage := pipeline.Stage("")
		if res != nil && res.Run != nil {
			stage = res.Run.Stage
		}
		logger.Error("deployment failed", "stage", stage, "error", err)
		return
	}

	logger.Info("deployment completed", "duration", res.Run.Duration().Round(time.Millisecond).String())
}

// recordRejection writes a history row for a push turned away by the deploy
// lock, so the operator can see that a delivery arrived and was not acted on.
func (s *Server) recordRejection(ctx context.Context, commit string) {
	if s.store == nil {
		return
	}

	now := time.Now().UTC()
	rec := &history.Record{
		ID:         uuid.New().String(),
		AppName:    s.appName,
		RepoURL:    s.params.RepoURL,
		Branch:     s.branch,
		Commit:     commit,
		Host:       s.params.SSHHost,
		Stage:      pipeline.StageCollectingConfig,
		Status:     pipeline.RunStatusRejected,
		Error:      "deployment already in progress",
		StartedAt:  now,
		FinishedAt: &now,
	}
	if err := s.store.Append(ctx, rec); err != nil {
		s.logger.Error("recording rejected run", "error", err)
	}
}

// respondJSON writes data as a JSON body with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}
