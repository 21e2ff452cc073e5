package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/seantiz/modelrunner/internal/backend"
)

// Adapter implements backend.Adapter by forwarding every call to a child
// process. Calls are serialised: one request is in flight at a time.
type Adapter struct {
	cfg    Config
	dir    string
	logger *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	outFile *os.File
	stdout  *bufio.Reader
	exited  chan struct{} // closed once the child has been reaped
	info    backend.Info

	mu        sync.Mutex
	nextID    uint64
	corrupted error
}

var _ backend.Adapter = (*Adapter)(nil)

// Start launches command (relative paths resolve against dir) with dir as
// its working directory and waits for its hello frame.
func Start(ctx context.Context, cfg Config, dir, command string, args []string, logger *slog.Logger) (*Adapter, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve engine dir: %w", err)
	}
	if !filepath.IsAbs(command) {
		command = filepath.Join(absDir, command)
	}

	cmd := exec.Command(command, args...)
	cmd.Dir = absDir
	cmd.Env = append(os.Environ(), EnvEngineDir+"="+absDir)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	// stdout is a plain pipe so that reaping the child never closes the read
	// end before buffered frames are consumed.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = outW

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("start %s: %w", command, err)
	}
	outW.Close()
	activeProcesses.Inc()

	a := &Adapter{
		cfg:     cfg,
		dir:     absDir,
		logger:  logger.With("engine_dir", absDir),
		cmd:     cmd,
		stdin:   stdin,
		outFile: outR,
		stdout:  bufio.NewReader(outR),
		exited:  make(chan struct{}),
	}

	var stderrDone sync.WaitGroup
	stderrDone.Go(func() { a.forwardStderr(stderr) })
	go func() {
		stderrDone.Wait()
		err := cmd.Wait()
		activeProcesses.Dec()
		a.logger.Debug("adapter process exited", "pid", cmd.Process.Pid, "error", err)
		close(a.exited)
	}()

	info, err := a.handshake(ctx)
	processStartDuration.Observe(time.Since(startedAt).Seconds())
	if err != nil {
		a.kill()
		outR.Close()
		return nil, err
	}
	a.info = info
	a.logger.Info("adapter process started",
		"pid", cmd.Process.Pid,
		"adapter", info.Name,
		"framework", info.Framework,
		"version", info.Version,
	)
	return a, nil
}

// handshake waits for the hello frame.
func (a *Adapter) handshake(ctx context.Context) (backend.Info, error) {
	type hello struct {
		info backend.Info
		err  error
	}
	ch := make(chan hello, 1)
	go func() {
		var msg Message
		if err := ReadMessage(a.stdout, &msg); err != nil {
			ch <- hello{err: fmt.Errorf("read hello: %w", err)}
			return
		}
		if msg.Type != MsgTypeHello || msg.Info == nil {
			ch <- hello{err: fmt.Errorf("expected hello frame, got %q", msg.Type)}
			return
		}
		ch <- hello{info: *msg.Info}
	}()

	timer := time.NewTimer(a.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case h := <-ch:
		return h.info, h.err
	case <-timer.C:
		return backend.Info{}, fmt.Errorf("no hello from adapter within %s", a.cfg.StartTimeout)
	case <-ctx.Done():
		return backend.Info{}, fmt.Errorf("wait for hello: %w", ctx.Err())
	}
}

// forwardStderr logs each stderr line of the child at DEBUG.
func (a *Adapter) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		a.logger.Debug("adapter stderr", "line", scanner.Text())
	}
}

// Info returns the description sent in the hello frame. Calls into a child
// process are always serialised, so Concurrent is false.
func (a *Adapter) Info() backend.Info {
	info := a.info
	info.Concurrent = false
	return info
}

// Dir returns the absolute engine directory the child was started from.
func (a *Adapter) Dir() string { return a.dir }

// Pid returns the child's process id.
func (a *Adapter) Pid() int { return a.cmd.Process.Pid }

func (a *Adapter) Load(ctx context.Context, spec backend.ModelSpec) (backend.ModelHandle, error) {
	resp, err := a.call(ctx, Request{Type: ReqLoad, Model: &spec})
	if err != nil {
		return "", err
	}
	if resp.Handle == "" {
		return "", fmt.Errorf("adapter returned an empty model handle")
	}
	return resp.Handle, nil
}

func (a *Adapter) Run(ctx context.Context, h backend.ModelHandle, inputs []backend.TensorBuffer) ([]backend.TensorBuffer, error) {
	resp, err := a.call(ctx, Request{Type: ReqRun, Handle: h, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	return resp.Outputs, nil
}

func (a *Adapter) Unload(ctx context.Context, h backend.ModelHandle) error {
	_, err := a.call(ctx, Request{Type: ReqUnload, Handle: h})
	return err
}

// Close asks the child to shut down and waits up to the shutdown timeout for
// it to exit, killing it otherwise.
func (a *Adapter) Close(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()

	var closeErr error
	if _, err := a.call(shutdownCtx, Request{Type: ReqClose}); err != nil && !errors.Is(err, backend.ErrAdapterCorrupted) {
		closeErr = err
	}
	a.stdin.Close()

	select {
	case <-a.exited:
	case <-shutdownCtx.Done():
		a.logger.Warn("adapter process did not exit, killing", "pid", a.Pid())
		a.kill()
	}
	a.outFile.Close()
	return closeErr
}

// call sends one request and waits for its result. Transport failures, a
// dead child or an abandoned call mark the adapter corrupted.
func (a *Adapter) call(ctx context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.corrupted != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrAdapterCorrupted, a.corrupted)
	}
	a.nextID++
	req.ID = a.nextID

	start := time.Now()
	if err := WriteMessage(a.stdin, &req); err != nil {
		requestsTotal.WithLabelValues(req.Type, statusFailed).Inc()
		return nil, a.markCorrupted(fmt.Errorf("send %s: %w", req.Type, err))
	}

	type result struct {
		resp *Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := a.readResult(req.ID)
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		requestDuration.WithLabelValues(req.Type).Observe(time.Since(start).Seconds())
		if r.err != nil {
			requestsTotal.WithLabelValues(req.Type, statusFailed).Inc()
			return nil, a.markCorrupted(r.err)
		}
		if r.resp.Corrupted {
			requestsTotal.WithLabelValues(req.Type, statusFailed).Inc()
			return nil, a.markCorrupted(errors.New(r.resp.Error))
		}
		if r.resp.Error != "" {
			requestsTotal.WithLabelValues(req.Type, statusFailed).Inc()
			return nil, errors.New(r.resp.Error)
		}
		requestsTotal.WithLabelValues(req.Type, statusCompleted).Inc()
		return r.resp, nil
	case <-ctx.Done():
		requestsTotal.WithLabelValues(req.Type, statusKilled).Inc()
		a.kill()
		<-ch
		return nil, a.markCorrupted(fmt.Errorf("%s abandoned: %w", req.Type, ctx.Err()))
	}
}

// readResult reads frames until the result for id, forwarding log lines.
func (a *Adapter) readResult(id uint64) (*Response, error) {
	for {
		var msg Message
		if err := ReadMessage(a.stdout, &msg); err != nil {
			return nil, fmt.Errorf("read adapter message: %w", err)
		}

		switch msg.Type {
		case MsgTypeLog:
			a.logger.Debug("adapter log", "line", msg.Line)
		case MsgTypeResult:
			if msg.Response == nil {
				return nil, fmt.Errorf("received result message with nil response")
			}
			if msg.ID != id {
				return nil, fmt.Errorf("result for request %d, want %d", msg.ID, id)
			}
			return msg.Response, nil
		default:
			return nil, fmt.Errorf("unknown message type: %q", msg.Type)
		}
	}
}

// markCorrupted records cause and returns it wrapped in ErrAdapterCorrupted.
// The caller holds a.mu.
func (a *Adapter) markCorrupted(cause error) error {
	if a.corrupted == nil {
		a.corrupted = cause
		a.logger.Error("adapter process corrupted", "pid", a.Pid(), "error", cause)
	}
	return fmt.Errorf("%w: %w", backend.ErrAdapterCorrupted, cause)
}

// kill terminates the child and waits for it to be reaped.
func (a *Adapter) kill() {
	if err := a.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		a.logger.Debug("kill adapter process", "error", err)
	}
	<-a.exited
}
