package process

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/seantiz/modelrunner/internal/backend"
)

// MaxMessageSize is the maximum allowed frame payload (512 MiB). Tensor data
// travels inside frames, so the limit is far above typical control traffic.
const MaxMessageSize = 512 << 20

// Host→adapter request types.
const (
	ReqLoad   = "load"
	ReqRun    = "run"
	ReqUnload = "unload"
	ReqClose  = "close"
)

// Adapter→host message types.
const (
	MsgTypeHello  = "hello"
	MsgTypeLog    = "log"
	MsgTypeResult = "result"
)

// Request is the frame sent from host to adapter. ID is echoed in the
// matching result.
type Request struct {
	ID     uint64                 `json:"id"`
	Type   string                 `json:"type"`
	Model  *backend.ModelSpec     `json:"model,omitempty"`
	Handle backend.ModelHandle    `json:"handle,omitempty"`
	Inputs []backend.TensorBuffer `json:"inputs,omitempty"`
}

// Response is the outcome of one request.
type Response struct {
	Handle  backend.ModelHandle    `json:"handle,omitempty"`
	Outputs []backend.TensorBuffer `json:"outputs,omitempty"`
	Error   string                 `json:"error,omitempty"`
	// Corrupted is set when the adapter cannot serve further requests.
	Corrupted bool `json:"corrupted,omitempty"`
}

// Message is the envelope for all adapter→host frames. The adapter sends one
// hello on start, any number of log lines, and exactly one result per request.
type Message struct {
	Type     string        `json:"type"`
	ID       uint64        `json:"id,omitempty"`
	Line     string        `json:"line,omitempty"`
	Info     *backend.Info `json:"info,omitempty"`
	Response *Response     `json:"response,omitempty"`
}

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", len(data), MaxMessageSize)
	}

	frame := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	if _, err := w.Write(append(frame, data...)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message size %d exceeds maximum %d", length, MaxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}

	return nil
}
