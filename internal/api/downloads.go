package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/modelrunner/internal/model"
	"github.com/seantiz/modelrunner/internal/store"
)

// createDownloadRequest is the JSON body for POST /v1/downloads. Dest is a
// folder name under the models directory.
type createDownloadRequest struct {
	Dest string   `json:"dest"`
	URLs []string `json:"urls"`
}

// listDownloadsResponse wraps the paginated download list.
type listDownloadsResponse struct {
	Downloads []*model.Download `json:"downloads"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := decodeBody(w, r, maxBodySize, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Dest == "" || !filepath.IsLocal(req.Dest) {
		s.writeError(w, http.StatusUnprocessableEntity, "dest must be a relative folder name")
		return
	}

	d, err := s.downloads.Start(r.Context(), filepath.Join(s.cfg.ModelsDir, req.Dest), req.URLs)
	if err != nil {
		s.writeFailure(w, "start download", err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, d)
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	downloads, total, err := s.store.ListDownloads(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list downloads", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}
	if downloads == nil {
		downloads = []*model.Download{}
	}

	s.writeJSON(w, http.StatusOK, listDownloadsResponse{
		Downloads: downloads,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDownload(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	if err != nil {
		s.logger.Error("get download", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get download")
		return
	}

	if snap, ok := s.downloads.Progress(id); ok {
		d.Progress = snap
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.store.GetDownload(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	if err != nil {
		s.logger.Error("get download", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get download")
		return
	}
	if model.Terminal(d.Status) || !s.downloads.Cancel(id) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("download is %s", d.Status))
		return
	}

	s.writeJSON(w, http.StatusAccepted, d)
}

func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Finished downloads replay their stored snapshot and close.
	ch, unsub, err := s.downloads.Subscribe(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "download not found")
		return
	}
	if err != nil {
		s.logger.Error("subscribe to download progress", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get download")
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				final, err := s.store.GetDownload(r.Context(), id)
				if err != nil {
					s.logger.Error("get download after progress", "error", err)
					return
				}
				_ = writeSSEEvent(w, "done", final.Status)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				s.logger.Error("encode progress", "error", err)
				return
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
