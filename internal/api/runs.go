package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/modelrunner/internal/download"
	"github.com/seantiz/modelrunner/internal/engine"
	"github.com/seantiz/modelrunner/internal/model"
	"github.com/seantiz/modelrunner/internal/store"
	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20  // 1 MB
	maxTensorBody    = 64 << 20 // 64 MB
)

// listRunsResponse wraps the paginated run list.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps err to a status code. Server-side failures are logged
// and reported with a generic message naming the action.
func (s *Server) writeFailure(w http.ResponseWriter, action string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(action, "error", err)
		s.writeError(w, status, "failed to "+action)
		return
	}
	s.writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, errSessionNotFound),
		errors.Is(err, engine.ErrEngineNotFound),
		errors.Is(err, engine.ErrEngineVersionMismatch):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEngineClosed),
		errors.Is(err, engine.ErrAmbiguousEngine):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, tensor.ErrInvalidTensor),
		errors.Is(err, tensor.ErrEmptyTensor),
		errors.Is(err, tensor.ErrWrongForm),
		errors.Is(err, tensor.ErrUnsupportedConversion),
		errors.Is(err, transform.ErrInvalidParameter),
		errors.Is(err, transform.ErrUnsupportedScope),
		errors.Is(err, transform.ErrUnknownOperation),
		errors.Is(err, download.ErrInvalidURL):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInferenceExecution),
		errors.Is(err, engine.ErrEngineLoad):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body of at most limit bytes into v.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return json.NewDecoder(r.Body).Decode(v)
}

// pageParams reads limit and offset, clamping them to sane values.
func pageParams(r *http.Request) (limit, offset int) {
	limit = parseIntQuery(r, "limit", defaultListLimit)
	offset = parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
