// Package agent implements the adapter side of the child-process protocol.
// A backend adapter binary wraps its backend.Adapter in an Agent and serves
// requests from the host over stdin and stdout until the host sends close or
// closes the pipe.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/seantiz/modelrunner/internal/backend"
	"github.com/seantiz/modelrunner/internal/backend/process"
)

// Agent serves one host connection.
type Agent struct {
	r io.Reader
	w io.Writer

	// writeMu protects frame writes from the serve loop and the logger.
	writeMu sync.Mutex
}

// New creates an agent reading requests from r and writing frames to w.
func New(r io.Reader, w io.Writer) *Agent {
	return &Agent{r: r, w: w}
}

// Logger returns a logger whose records are delivered to the host as log
// frames.
func (a *Agent) Logger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(frameWriter{a}, &slog.HandlerOptions{Level: level}))
}

// Serve announces adapter to the host and handles requests until the host
// sends close, closes the connection, or ctx ends. The adapter is closed
// before Serve returns.
func (a *Agent) Serve(ctx context.Context, adapter backend.Adapter) error {
	info := adapter.Info()
	if err := a.send(&process.Message{Type: process.MsgTypeHello, Info: &info}); err != nil {
		adapter.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("send hello: %w", err)
	}

	for {
		var req process.Request
		if err := process.ReadMessage(a.r, &req); err != nil {
			closeErr := adapter.Close(context.WithoutCancel(ctx))
			if errors.Is(err, io.EOF) {
				return closeErr
			}
			return fmt.Errorf("read request: %w", err)
		}

		resp := a.handle(ctx, adapter, &req)
		if err := a.send(&process.Message{Type: process.MsgTypeResult, ID: req.ID, Response: &resp}); err != nil {
			adapter.Close(context.WithoutCancel(ctx))
			return fmt.Errorf("send result: %w", err)
		}
		if req.Type == process.ReqClose {
			return nil
		}
		if err := ctx.Err(); err != nil {
			adapter.Close(context.WithoutCancel(ctx))
			return err
		}
	}
}

// handle executes one request. A panicking adapter is reported as
// corrupted.
func (a *Agent) handle(ctx context.Context, adapter backend.Adapter, req *process.Request) (resp process.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = process.Response{Error: fmt.Sprintf("adapter panic: %v", r), Corrupted: true}
		}
	}()

	switch req.Type {
	case process.ReqLoad:
		if req.Model == nil {
			return process.Response{Error: "load request without model"}
		}
		if err := validatePath(req.Model.Folder, req.Model.Weights); err != nil {
			return process.Response{Error: fmt.Sprintf("invalid weights path: %v", err)}
		}
		h, err := adapter.Load(ctx, *req.Model)
		if err != nil {
			return errorResponse(err)
		}
		return process.Response{Handle: h}

	case process.ReqRun:
		outputs, err := adapter.Run(ctx, req.Handle, req.Inputs)
		if err != nil {
			return errorResponse(err)
		}
		return process.Response{Outputs: outputs}

	case process.ReqUnload:
		return errorResponse(adapter.Unload(ctx, req.Handle))

	case process.ReqClose:
		return errorResponse(adapter.Close(ctx))

	default:
		return process.Response{Error: fmt.Sprintf("unknown request type: %q", req.Type)}
	}
}

func errorResponse(err error) process.Response {
	if err == nil {
		return process.Response{}
	}
	return process.Response{
		Error:     err.Error(),
		Corrupted: errors.Is(err, backend.ErrAdapterCorrupted),
	}
}

func (a *Agent) send(msg *process.Message) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return process.WriteMessage(a.w, msg)
}

// frameWriter turns each written line into a log frame.
type frameWriter struct {
	a *Agent
}

func (f frameWriter) Write(p []byte) (int, error) {
	for line := range bytes.Lines(p) {
		text := strings.TrimRight(string(line), "\r\n")
		if text == "" {
			continue
		}
		if err := f.a.send(&process.Message{Type: process.MsgTypeLog, Line: text}); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// validatePath checks that path lies within baseDir.
func validatePath(baseDir, path string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(absBase, path)
	}
	cleaned := filepath.Clean(path)
	if !strings.HasPrefix(cleaned, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes model folder %q", path, baseDir)
	}
	return nil
}
