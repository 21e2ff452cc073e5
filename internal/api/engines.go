package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/seantiz/modelrunner/internal/engine"
)

// engineRequest selects an engine. Device, strictness and the engines
// directory default to the server configuration.
type engineRequest struct {
	Framework string `json:"framework"`
	Version   string `json:"version"`
	Device    string `json:"device,omitempty"`
	Strict    *bool  `json:"strict,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

// descriptor turns the request into a resolution request.
func (s *Server) descriptor(req engineRequest) (*engine.Descriptor, error) {
	if strings.TrimSpace(req.Framework) == "" {
		return nil, fmt.Errorf("%w: framework is required", engine.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Version) == "" {
		return nil, fmt.Errorf("%w: version is required", engine.ErrInvalidInput)
	}
	d := &engine.Descriptor{
		Framework:  req.Framework,
		Version:    req.Version,
		EnginesDir: s.cfg.EnginesDir,
		Device:     s.cfg.Device,
		Strict:     s.cfg.StrictVersion,
	}
	if req.Device != "" {
		d.Device = strings.ToLower(req.Device)
	}
	if req.Strict != nil {
		d.Strict = *req.Strict
	}
	if req.Platform != "" {
		p, err := engine.ParsePlatform(req.Platform)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", engine.ErrInvalidInput, err)
		}
		d.Platform = &p
	}
	return d, nil
}

func (s *Server) handleListAdapters(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleListEngines(w http.ResponseWriter, _ *http.Request) {
	dirs, err := engine.ListEngines(s.cfg.EnginesDir)
	if err != nil {
		s.writeFailure(w, "list engines", err)
		return
	}
	if dirs == nil {
		dirs = []engine.EngineDir{}
	}
	s.writeJSON(w, http.StatusOK, dirs)
}

func (s *Server) handleResolveEngine(w http.ResponseWriter, r *http.Request) {
	var req engineRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	d, err := s.descriptor(req)
	if err != nil {
		s.writeFailure(w, "resolve engine", err)
		return
	}
	resolved, err := d.Resolve(s.logger)
	if err != nil {
		s.writeFailure(w, "resolve engine", err)
		return
	}

	s.writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleListContexts(w http.ResponseWriter, _ *http.Request) {
	infos := s.loader.Loaded()
	if infos == nil {
		infos = []engine.ContextInfo{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}
