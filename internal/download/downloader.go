package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrDownloadFailed is returned when at least one file could not be fetched.
	ErrDownloadFailed = errors.New("download failed")

	// ErrInvalidURL is returned by Plan for URLs that cannot be saved.
	ErrInvalidURL = errors.New("invalid download url")
)

// DefaultWorkers bounds concurrent file downloads when no limit is given.
const DefaultWorkers = 4

// chunkSize is the copy buffer size; a progress event is sent per chunk.
const chunkSize = 64 << 10

// partialSuffix marks files still being written.
const partialSuffix = ".partial"

// Result lists what a download produced.
type Result struct {
	// Files are the paths written, in request order.
	Files []string
	// Failed are the URLs that could not be fetched.
	Failed []string
}

// Downloader fetches files over HTTP with a bounded number of workers.
type Downloader struct {
	client   *http.Client
	workers  int
	logger   *slog.Logger
	fileURLs bool
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithFileURLs lets the downloader copy local files named by file:// URLs.
// Only trusted callers such as the CLI should enable it.
func WithFileURLs() Option {
	return func(d *Downloader) { d.fileURLs = true }
}

// NewDownloader creates a downloader. A nil client means http.DefaultClient;
// workers below one means DefaultWorkers. Only http and https URLs are
// accepted unless WithFileURLs is given.
func NewDownloader(client *http.Client, workers int, logger *slog.Logger, opts ...Option) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	if workers < 1 {
		workers = DefaultWorkers
	}
	d := &Downloader{client: client, workers: workers, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan is the package Plan restricted to the schemes this downloader
// accepts.
func (d *Downloader) Plan(urls []string) ([]string, error) {
	names, err := Plan(urls)
	if err != nil {
		return nil, err
	}
	if !d.fileURLs {
		for _, raw := range urls {
			if u, err := url.Parse(raw); err == nil && u.Scheme == "file" {
				return nil, fmt.Errorf("%w: %q: file urls are not allowed", ErrInvalidURL, raw)
			}
		}
	}
	return names, nil
}

// FileName returns the local name a URL is saved under: the last path
// segment.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %w", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file" {
		return "", fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidURL, rawURL, u.Scheme)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidURL, rawURL)
	}
	return name, nil
}

// Plan maps each URL to its file name and rejects duplicates.
func Plan(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no urls to download", ErrInvalidURL)
	}
	names := make([]string, len(urls))
	seen := make(map[string]string, len(urls))
	for i, u := range urls {
		name, err := FileName(u)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q and %q both save as %s", ErrInvalidURL, prev, u, name)
		}
		seen[name] = u
		names[i] = name
	}
	return names, nil
}

// Download saves every URL into dest, sending progress events keyed by file
// name on events, which it closes when done. A failed file does not stop the
// others. The returned error wraps ErrDownloadFailed and names every failed
// URL; cancelling ctx fails the files still in flight.
func (d *Downloader) Download(ctx context.Context, dest string, urls []string, events chan<- Event) (*Result, error) {
	defer close(events)

	names, err := d.Plan(urls)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}

	res := &Result{Files: make([]string, len(urls))}
	failed := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, u := range urls {
		target := filepath.Join(dest, names[i])
		res.Files[i] = target
		g.Go(func() error {
			if err := d.fetch(ctx, u, target, names[i], events); err != nil {
				d.logger.Warn("download failed", "url", u, "error", err)
				downloadsFailed.Inc()
				events <- Event{File: names[i], Size: -1, Err: err}
				failed[i] = err
				return nil
			}
			return nil
		})
	}
	g.Wait()

	var msgs []string
	for i, err := range failed {
		if err != nil {
			res.Failed = append(res.Failed, urls[i])
			msgs = append(msgs, fmt.Sprintf("%s: %v", urls[i], err))
		}
	}
	if len(msgs) > 0 {
		return res, fmt.Errorf("%w: %d of %d files: %s", ErrDownloadFailed, len(msgs), len(urls), strings.Join(msgs, "; "))
	}
	return res, nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, target, name string, events chan<- Event) error {
	body, size, err := d.open(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()

	partial := target + partialSuffix
	f, err := os.Create(partial)
	if err != nil {
		return err
	}

	events <- Event{File: name, Size: size}
	pw := &progressWriter{w: f, name: name, size: size, events: events}
	_, err = io.CopyBuffer(pw, contextReader{ctx, body}, make([]byte, chunkSize))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && pw.n != size {
		err = fmt.Errorf("got %d bytes, want %d", pw.n, size)
	}
	if err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, target); err != nil {
		return err
	}

	downloadedBytes.Add(float64(pw.n))
	events <- Event{File: name, Bytes: pw.n, Size: size, Done: true}
	return nil
}

// open returns the body and expected size (-1 if unknown) of rawURL.
func (d *Downloader) open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, err
	}
	if u.Scheme == "file" {
		if !d.fileURLs {
			return nil, 0, fmt.Errorf("%w: file urls are not allowed", ErrInvalidURL)
		}
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, 0, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, info.Size(), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}

type progressWriter struct {
	w      io.Writer
	name   string
	size   int64
	n      int64
	events chan<- Event
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.n += int64(n)
	p.events <- Event{File: p.name, Bytes: p.n, Size: p.size}
	return n, err
}

// contextReader stops a copy once ctx ends.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}
