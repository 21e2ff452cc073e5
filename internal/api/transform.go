package api

import (
	"net/http"

	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

// transformRequest is the JSON body for POST /v1/transform.
type transformRequest struct {
	Tensor   tensor.Payload   `json:"tensor"`
	Pipeline []transform.Step `json:"pipeline"`
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := decodeBody(w, r, maxTensorBody, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := req.Tensor.Tensor()
	if err != nil {
		s.writeFailure(w, "transform", err)
		return
	}
	p, err := transform.Build(req.Pipeline)
	if err != nil {
		s.writeFailure(w, "transform", err)
		return
	}
	if err := p.Apply(t); err != nil {
		s.writeFailure(w, "transform", err)
		return
	}

	out, err := tensor.PayloadOf(t)
	if err != nil {
		s.writeFailure(w, "transform", err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}
