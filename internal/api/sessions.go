package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/modelrunner/internal/engine"
	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

var errSessionNotFound = errors.New("session not found")

// sessionTable holds the sessions opened through the API.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*openSession
}

type openSession struct {
	session  *engine.Session
	resolved *engine.Resolved
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*openSession)}
}

func (t *sessionTable) put(o *openSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[o.session.ID()] = o
}

func (t *sessionTable) get(id string) (*openSession, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	return o, nil
}

func (t *sessionTable) remove(id string) (*openSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errSessionNotFound, id)
	}
	delete(t.sessions, id)
	return o, nil
}

func (t *sessionTable) list() []*openSession {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*openSession, 0, len(t.sessions))
	for _, o := range t.sessions {
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b *openSession) int { return strings.Compare(a.session.ID(), b.session.ID()) })
	return out
}

// createSessionRequest is the JSON body for POST /v1/sessions.
type createSessionRequest struct {
	engineRequest
	Model engine.ModelSpec `json:"model"`
}

// sessionResponse describes an open session.
type sessionResponse struct {
	ID         string           `json:"id"`
	Engine     engine.EngineDir `json:"engine"`
	Requested  string           `json:"requested_version"`
	Exact      bool             `json:"exact"`
	Concurrent bool             `json:"concurrent"`
	Model      engine.ModelSpec `json:"model"`
}

func (o *openSession) response() sessionResponse {
	return sessionResponse{
		ID:         o.session.ID(),
		Engine:     o.session.Context().Dir(),
		Requested:  o.resolved.Requested,
		Exact:      o.resolved.Exact,
		Concurrent: o.session.Context().Concurrent(),
		Model:      o.session.Spec(),
	}
}

// runRequest is the JSON body for POST /v1/sessions/{id}/run. Preprocess
// and Postprocess map tensor names to transform pipelines applied before
// and after inference.
type runRequest struct {
	Inputs        []tensor.Payload            `json:"inputs"`
	Outputs       []tensor.Payload            `json:"outputs"`
	Preprocess    map[string][]transform.Step `json:"preprocess,omitempty"`
	Postprocess   map[string][]transform.Step `json:"postprocess,omitempty"`
	ReleaseInputs bool                        `json:"release_inputs,omitempty"`
}

type runResponse struct {
	SessionID string           `json:"session_id"`
	Outputs   []tensor.Payload `json:"outputs"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Framework == "" {
		req.Framework = req.Model.Framework
	}
	if req.Model.Framework == "" {
		req.Model.Framework = req.Framework
	}
	if req.Model.Folder != "" && !filepath.IsAbs(req.Model.Folder) {
		req.Model.Folder = filepath.Join(s.cfg.ModelsDir, req.Model.Folder)
	}

	d, err := s.descriptor(req.engineRequest)
	if err != nil {
		s.writeFailure(w, "create session", err)
		return
	}
	resolved, err := d.Resolve(s.logger)
	if err != nil {
		s.writeFailure(w, "create session", err)
		return
	}

	c, err := s.loader.Acquire(r.Context(), resolved)
	if err != nil {
		s.writeFailure(w, "create session", err)
		return
	}
	sess, err := c.NewSession(r.Context(), req.Model)
	if err != nil {
		if relErr := s.loader.Release(c); relErr != nil {
			s.logger.Warn("release engine context", "engine_dir", resolved.Dir.Path, "error", relErr)
		}
		s.writeFailure(w, "create session", err)
		return
	}

	o := &openSession{session: sess, resolved: resolved}
	s.sessions.put(o)
	s.logger.Info("session opened",
		"session_id", sess.ID(),
		"engine_dir", resolved.Dir.Name,
		"model_folder", req.Model.Folder,
	)
	s.writeJSON(w, http.StatusCreated, o.response())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	open := s.sessions.list()
	out := make([]sessionResponse, len(open))
	for i, o := range open {
		out[i] = o.response()
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "get session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, o.response())
}

func (s *Server) handleRunSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "run session", err)
		return
	}

	var req runRequest
	if err := decodeBody(w, r, maxTensorBody, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inputs, err := tensor.FromPayloads(req.Inputs)
	if err != nil {
		s.writeFailure(w, "run session", err)
		return
	}
	outputs, err := tensor.FromPayloads(req.Outputs)
	if err != nil {
		s.writeFailure(w, "run session", err)
		return
	}
	if err := applySteps(inputs, req.Preprocess); err != nil {
		s.writeFailure(w, "run session", err)
		return
	}

	var opts []engine.RunOption
	if req.ReleaseInputs {
		opts = append(opts, engine.WithReleaseInputs())
	}
	if err := o.session.Run(r.Context(), inputs, outputs, opts...); err != nil {
		s.writeFailure(w, "run session", err)
		return
	}

	if err := applySteps(outputs, req.Postprocess); err != nil {
		s.writeFailure(w, "run session", err)
		return
	}
	payloads, err := tensor.Payloads(outputs)
	if err != nil {
		s.writeFailure(w, "run session", err)
		return
	}
	s.writeJSON(w, http.StatusOK, runResponse{SessionID: o.session.ID(), Outputs: payloads})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	o, err := s.sessions.remove(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, "close session", err)
		return
	}
	if err := s.closeSession(r.Context(), o); err != nil {
		s.writeFailure(w, "close session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// closeSession closes the model and gives the engine context back to the
// loader.
func (s *Server) closeSession(ctx context.Context, o *openSession) error {
	closeErr := o.session.Close(ctx)
	relErr := s.loader.Release(o.session.Context())
	if errors.Is(relErr, engine.ErrEngineClosed) {
		relErr = nil
	}
	s.logger.Info("session closed", "session_id", o.session.ID())
	return errors.Join(closeErr, relErr)
}

// CloseSessions closes every session still open.
func (s *Server) CloseSessions(ctx context.Context) error {
	var errs []error
	for _, o := range s.sessions.list() {
		if _, err := s.sessions.remove(o.session.ID()); err != nil {
			continue
		}
		if err := s.closeSession(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", o.session.ID(), err))
		}
	}
	return errors.Join(errs...)
}
