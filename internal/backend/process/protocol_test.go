package process

import (
	"bytes"
	"testing"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/tensor"
)

func TestWriteReadRequest(t *testing.T) {
	buf, err := tensor.Encode([]int16{1, -2, 3, -4}, []int{2, 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	original := Request{
		ID:     7,
		Type:   ReqRun,
		Handle: "model-1",
		Inputs: []backend.TensorBuffer{{Name: "input0", Axes: "yx", Buffer: buf}},
	}

	var frame bytes.Buffer
	if err := WriteMessage(&frame, &original); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var decoded Request
	if err := ReadMessage(&frame, &decoded); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	if decoded.ID != 7 || decoded.Type != ReqRun || decoded.Handle != "model-1" {
		t.Errorf("decoded header = %+v", decoded)
	}
	if len(decoded.Inputs) != 1 {
		t.Fatalf("Inputs len = %d, want 1", len(decoded.Inputs))
	}
	in := decoded.Inputs[0]
	if in.Name != "input0" || in.Axes != "yx" {
		t.Errorf("input = %s/%s, want input0/yx", in.Name, in.Axes)
	}
	if !in.Buffer.Equal(buf) {
		t.Errorf("buffer = %+v, want %+v", in.Buffer, buf)
	}
	if in.Buffer.DType != tensor.Int16 {
		t.Errorf("dtype = %s, want int16", in.Buffer.DType)
	}
}

func TestWriteReadResultMessage(t *testing.T) {
	original := Message{
		Type:     MsgTypeResult,
		ID:       3,
		Response: &Response{Error: "boom", Corrupted: true},
	}

	var frame bytes.Buffer
	if err := WriteMessage(&frame, &original); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	var decoded Message
	if err := ReadMessage(&frame, &decoded); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if decoded.Response == nil || decoded.Response.Error != "boom" || !decoded.Response.Corrupted {
		t.Errorf("decoded response = %+v", decoded.Response)
	}
}

func TestReadMessageTruncatedLength(t *testing.T) {
	// Only 2 bytes instead of 4; reading the length prefix must fail.
	buf := bytes.NewReader([]byte{0x00, 0x01})
	var req Request
	if err := ReadMessage(buf, &req); err == nil {
		t.Fatal("expected error for truncated length prefix")
	}
}

func TestReadMessageTruncatedPayload(t *testing.T) {
	// Length prefix says 100 bytes, but only 2 bytes of payload follow.
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x64})
	buf.Write([]byte{0x7B, 0x7D})

	var req Request
	if err := ReadMessage(&buf, &req); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestReadMessageOversized(t *testing.T) {
	// Length prefix claims MaxMessageSize + 1; rejected before allocating.
	var buf bytes.Buffer
	oversize := uint32(MaxMessageSize + 1)
	buf.Write([]byte{
		byte(oversize >> 24), byte(oversize >> 16),
		byte(oversize >> 8), byte(oversize),
	})

	var req Request
	if err := ReadMessage(&buf, &req); err == nil {
		t.Fatal("expected error for oversized message")
	}
}
