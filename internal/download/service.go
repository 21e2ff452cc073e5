package download

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/modelrunner/internal/model"
	"github.com/seantiz/modelrunner/internal/store"
)

// Service runs downloads in the background, records them in the store and
// streams their progress through a Broker. Only running downloads are held
// in memory; a finished download's final snapshot lives in the store.
type Service struct {
	store      store.Store
	downloader *Downloader
	broker     *Broker
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu       sync.RWMutex
	trackers map[string]*Tracker
	cancels  map[string]context.CancelFunc
}

// NewService creates a download service.
func NewService(s store.Store, d *Downloader, logger *slog.Logger) *Service {
	return &Service{
		store:      s,
		downloader: d,
		broker:     NewBroker(),
		logger:     logger,
		trackers:   make(map[string]*Tracker),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Subscribe streams the progress snapshots of download id. For a download
// this service is running, the channel closes when it ends. Otherwise the
// channel carries the stored final snapshot, if any, and is closed.
// store.ErrNotFound is returned for unknown ids.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan Snapshot, func(), error) {
	s.mu.RLock()
	if _, ok := s.trackers[id]; ok {
		ch, unsub := s.broker.Subscribe(id)
		s.mu.RUnlock()
		return ch, unsub, nil
	}
	s.mu.RUnlock()

	d, err := s.store.GetDownload(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Snapshot, 1)
	if len(d.Progress) > 0 {
		ch <- Snapshot(d.Progress).Clone()
	}
	close(ch)
	return ch, func() {}, nil
}

// Start records a running download of urls into dest and fetches the files
// in a goroutine. The URLs are checked before anything is recorded.
func (s *Service) Start(ctx context.Context, dest string, urls []string) (*model.Download, error) {
	names, err := s.downloader.Plan(urls)
	if err != nil {
		return nil, err
	}

	d := &model.Download{
		ID:        model.NewID(),
		Status:    model.StatusRunning,
		Dest:      dest,
		URLs:      urls,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateDownload(ctx, d); err != nil {
		return nil, fmt.Errorf("create download: %w", err)
	}

	tracker := NewTracker(names)
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.trackers[d.ID] = tracker
	s.cancels[d.ID] = cancel
	s.mu.Unlock()

	dCopy := *d
	s.wg.Go(func() {
		defer cancel()
		s.run(runCtx, &dCopy, tracker)
	})
	return d, nil
}

func (s *Service) run(ctx context.Context, d *model.Download, tracker *Tracker) {
	defer s.forget(d.ID)

	events := make(chan Event, 16)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		tracker.Consume(events, func(snap Snapshot) { s.broker.Publish(d.ID, snap) })
	}()

	res, err := s.downloader.Download(ctx, d.Dest, d.URLs, events)
	<-consumed

	now := time.Now().UTC()
	d.FinishedAt = &now
	d.Status = model.StatusCompleted
	switch {
	case ctx.Err() != nil:
		d.Status = model.StatusCancelled
		d.Error = ctx.Err().Error()
	case err != nil:
		d.Status = model.StatusFailed
		d.Error = err.Error()
	}
	if res != nil {
		d.Failed = res.Failed
	}
	d.Progress = tracker.Snapshot()

	if err := s.store.UpdateDownload(context.Background(), d); err != nil {
		s.logger.Error("failed to update download", "download_id", d.ID, "error", err)
	}
	s.logger.Info("download finished", "download_id", d.ID, "status", d.Status, "failed", len(d.Failed))
}

// forget ends the progress stream of a finished download and drops its
// in-memory state.
func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackers, id)
	delete(s.cancels, id)
	s.broker.Close(id)
	s.broker.Forget(id)
}

// Progress returns the latest snapshot of a download this service is
// running.
func (s *Service) Progress(id string) (Snapshot, bool) {
	s.mu.RLock()
	t, ok := s.trackers[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.Snapshot(), true
}

// Cancel stops a running download. It reports whether the download was
// known to this service.
func (s *Service) Cancel(id string) bool {
	s.mu.RLock()
	cancel, ok := s.cancels[id]
	s.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every background download finishes.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every running download and waits for all of them.
func (s *Service) Shutdown() {
	s.mu.RLock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.RUnlock()
	s.wg.Wait()
}
