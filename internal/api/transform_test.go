package api

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/seantiz/modelrunner/internal/tensor"
	"github.com/seantiz/modelrunner/internal/transform"
)

func TestTransform(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req := transformRequest{
		Tensor: tensor.Payload{Name: "x", Axes: "yx", DType: tensor.Uint8, Shape: []int{2, 2}, Data: []float64{0, 1, 2, 3}},
		Pipeline: []transform.Step{
			{Name: "scale_linear", Kwargs: map[string]any{"gain": 2, "offset": 0}},
			{Name: "binarize", Kwargs: map[string]any{"threshold": 3}},
		},
	}
	resp := postJSON(t, ts.URL+"/v1/transform", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out tensor.Payload
	decodeJSON(t, resp, &out)

	if out.DType != tensor.Float32 {
		t.Errorf("dtype = %v, want float32", out.DType)
	}
	if !slices.Equal(out.Data, []float64{0, 0, 1, 1}) {
		t.Errorf("data = %v, want [0 0 1 1]", out.Data)
	}
}

func TestTransformErrors(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	x := tensor.Payload{Name: "x", Axes: "yx", Shape: []int{2, 2}, Data: []float64{0, 1, 2, 3}}
	tests := []struct {
		name string
		req  transformRequest
	}{
		{"unknown operation", transformRequest{Tensor: x, Pipeline: []transform.Step{{Name: "sharpen"}}}},
		{"missing parameter", transformRequest{Tensor: x, Pipeline: []transform.Step{{Name: "clip", Kwargs: map[string]any{"min": 0}}}}},
		{"empty tensor", transformRequest{Tensor: tensor.Payload{Name: "x", Axes: "yx"}, Pipeline: []transform.Step{{Name: "binarize", Kwargs: map[string]any{"threshold": 1}}}}},
		{"bad axes", transformRequest{Tensor: tensor.Payload{Name: "x", Axes: "yy", Shape: []int{2, 2}, Data: x.Data}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/transform", tt.req)
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422", resp.StatusCode)
			}
		})
	}
}
