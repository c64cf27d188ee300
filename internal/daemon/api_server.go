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

	"narrasync/internal/api"
	"narrasync/internal/captions"
	"narrasync/internal/config"
	"narrasync/internal/logging"
	"narrasync/internal/script"
	"narrasync/internal/services"
	"narrasync/internal/timeline"
)

const maxRequestBytes = 1 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	manager *timeline.Manager
	voice   string

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, services.Wrap(services.ErrConfiguration, "api-server", "listen", "paths.api_bind is empty", nil)
	}

	srv := &apiServer{
		bind:    bind,
		logger:  logger,
		daemon:  d,
		manager: d.manager,
		voice:   cfg.Voice.BaseURL,
	}
	srv.server = &http.Server{
		Handler:           authMiddleware(cfg.Paths.APIToken, srv.routes().ServeHTTP),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects/{id}", s.handleProject)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)
	mux.HandleFunc("GET /api/projects/{id}/status", s.handleProjectStatus)
	mux.HandleFunc("GET /api/projects/{id}/captions", s.handleCaptions)
	mux.HandleFunc("GET /api/projects/{id}/captions.srt", s.handleCaptionsSRT)
	mux.HandleFunc("GET /api/projects/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/projects/{id}/regenerate", s.handleRegenerate)
	mux.HandleFunc("POST /api/projects/{id}/resync", s.handleResync)
	mux.HandleFunc("POST /api/projects/{id}/segments", s.handleInsertSegment)
	mux.HandleFunc("PUT /api/projects/{id}/segments/order", s.handleReorder)
	mux.HandleFunc("PATCH /api/projects/{id}/segments/{segment}", s.handleUpdateSegment)
	mux.HandleFunc("DELETE /api/projects/{id}/segments/{segment}", s.handleDeleteSegment)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		ProjectDBPath: status.ProjectDBPath,
		LockFilePath:  status.LockFilePath,
		Projects:      status.Projects,
		VoiceBaseURL:  s.voice,
	})
}

func (s *apiServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.manager.List(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ProjectListResponse{Projects: api.FromProjects(projects)})
}

func (s *apiServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req api.CreateProjectRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var breakdown *script.Breakdown
	if len(req.Segments) > 0 {
		breakdown = &script.Breakdown{Title: req.Title}
		for _, text := range req.Segments {
			breakdown.Segments = append(breakdown.Segments, script.Entry{Text: text})
		}
	}
	engine, err := s.manager.Create(r.Context(), req.Title, breakdown)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromEngine(engine))
}

func (s *apiServer) handleProject(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromEngine(engine))
}

func (s *apiServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromEngineStatus(engine))
}

func (s *apiServer) handleCaptions(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.CaptionsResponse{ProjectID: engine.ID(), Captions: engine.Captions()})
}

func (s *apiServer) handleCaptionsSRT(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := captions.WriteSRT(w, engine.SubtitleCues()); err != nil {
		logging.WarnWithContext(s.log(), "srt response write failed", "srt_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "client received a truncated subtitle file"),
		)
	}
}

// handleResolve answers ?t=<ms> or ?frame=<n>&fps=<rate>.
func (s *apiServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("t")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api-server", "resolve", "t must be integer milliseconds", err))
			return
		}
		s.writeJSON(w, http.StatusOK, api.ResolveResponse{TimeMs: ms, Frame: engine.Resolve(ms)})
		return
	}
	frame, ferr := strconv.ParseInt(strings.TrimSpace(query.Get("frame")), 10, 64)
	fps, perr := strconv.ParseFloat(strings.TrimSpace(query.Get("fps")), 64)
	ms, valid := captions.FrameTimeMs(frame, fps)
	if ferr != nil || perr != nil || !valid {
		s.writeFailure(w, r, services.Wrap(services.ErrValidation, "api-server", "resolve", "provide t, or frame and a positive fps", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.ResolveResponse{TimeMs: ms, Frame: engine.ResolveFrame(frame, fps)})
}

func (s *apiServer) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req api.RegenerateRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	ctx := services.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
	result, err := engine.Regenerate(ctx, req.SegmentIDs...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromRegenerate(result))
}

func (s *apiServer) handleResync(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	report, err := engine.Resync(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDrift(report))
}

func (s *apiServer) handleInsertSegment(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req api.InsertSegmentRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	order := -1
	if req.Order != nil {
		order = *req.Order
	}
	seg, err := engine.Insert(r.Context(), order, req.Text)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, seg)
}

func (s *apiServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	var req api.ReorderRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := engine.Reorder(r.Context(), req.SegmentIDs); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromEngine(engine))
}

func (s *apiServer) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	segmentID := r.PathValue("segment")
	var req api.UpdateSegmentRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	ctx := services.WithSegmentID(r.Context(), segmentID)
	seg, err := engine.Update(ctx, segmentID, timeline.SegmentUpdate{
		Text:       req.Text,
		Style:      req.CaptionStyle,
		ClearStyle: req.ClearStyle,
		Duration:   req.Duration,
		Order:      req.Order,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, seg)
}

func (s *apiServer) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.engine(w, r)
	if !ok {
		return
	}
	if err := engine.Delete(r.Context(), r.PathValue("segment")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) engine(w http.ResponseWriter, r *http.Request) (*timeline.Engine, bool) {
	id := r.PathValue("id")
	engine, err := s.manager.Open(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return nil, false
	}
	return engine, true
}

// decodeBody reads a JSON body into dst. Unknown fields are rejected; an
// empty body is accepted only when optional is set.
func decodeBody(r *http.Request, dst any, optional bool) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return services.Wrap(services.ErrValidation, "api-server", "decode", "invalid request body", err)
	}
	return nil
}

func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, body := api.FromError(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.log()).Error("api request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeJSON(w, status, body)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
