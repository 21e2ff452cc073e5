package download

import (
	"maps"
	"sync"
)

// TotalKey is the snapshot key holding the aggregate progress.
const TotalKey = "total"

// Failed is the progress value of a file whose download failed.
const Failed = -1.0

// Event reports the state of one file. Workers send a final event with Done
// or Err set.
type Event struct {
	File string
	// Bytes is the number of bytes written so far.
	Bytes int64
	// Size is the expected size, or -1 when the server did not send one.
	Size int64
	Done bool
	Err  error
}

// Snapshot maps each file, and TotalKey, to a fraction in [0, 1]. A
// negative value marks a failure.
type Snapshot map[string]float64

type fileState struct {
	bytes  int64
	size   int64
	done   bool
	failed bool
}

// Tracker aggregates download events. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	files map[string]*fileState
	order []string
}

// NewTracker creates a tracker expecting the given files.
func NewTracker(files []string) *Tracker {
	t := &Tracker{files: make(map[string]*fileState, len(files))}
	for _, f := range files {
		if _, ok := t.files[f]; ok {
			continue
		}
		t.files[f] = &fileState{size: -1}
		t.order = append(t.order, f)
	}
	return t
}

// Apply records one event. Events for files that already finished are
// ignored.
func (t *Tracker) Apply(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.files[ev.File]
	if !ok {
		st = &fileState{size: -1}
		t.files[ev.File] = st
		t.order = append(t.order, ev.File)
	}
	if st.done || st.failed {
		return
	}
	st.bytes = ev.Bytes
	if ev.Size >= 0 {
		st.size = ev.Size
	}
	switch {
	case ev.Err != nil:
		st.failed = true
	case ev.Done:
		st.done = true
	}
}

// Consume applies events until the channel is closed, calling onUpdate
// with a fresh snapshot after each one when onUpdate is non-nil.
func (t *Tracker) Consume(events <-chan Event, onUpdate func(Snapshot)) {
	for ev := range events {
		t.Apply(ev)
		if onUpdate != nil {
			onUpdate(t.Snapshot())
		}
	}
}

// Snapshot returns the current progress of every file and the aggregate.
// The aggregate is byte-weighted when every size is known, the mean of the
// per-file fractions otherwise, and Failed once any file has failed.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(Snapshot, len(t.files)+1)
	var sum float64
	var bytes, size int64
	sized, failed, allDone := true, false, true
	for _, name := range t.order {
		st := t.files[name]
		f := st.fraction()
		snap[name] = f
		if st.failed {
			failed = true
			continue
		}
		allDone = allDone && st.done
		sum += f
		if st.size < 0 {
			sized = false
		}
		bytes += min(st.bytes, max(st.size, 0))
		size += max(st.size, 0)
	}

	switch {
	case failed:
		snap[TotalKey] = Failed
	case allDone:
		snap[TotalKey] = 1
	case sized && size > 0:
		snap[TotalKey] = min(clamp(float64(bytes)/float64(size)), 0.999)
	default:
		snap[TotalKey] = min(sum/float64(len(t.order)), 0.999)
	}
	return snap
}

// Finished reports whether every file completed or failed.
func (t *Tracker) Finished() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, st := range t.files {
		if !st.done && !st.failed {
			return false
		}
	}
	return true
}

// FailedFiles returns the files whose download failed, in request order.
func (t *Tracker) FailedFiles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, name := range t.order {
		if t.files[name].failed {
			out = append(out, name)
		}
	}
	return out
}

func (st *fileState) fraction() float64 {
	switch {
	case st.failed:
		return Failed
	case st.done:
		return 1
	case st.size > 0:
		// Never report completion before the worker does.
		return min(clamp(float64(st.bytes)/float64(st.size)), 0.999)
	default:
		return 0
	}
}

func clamp(f float64) float64 {
	return max(0, min(f, 1))
}

// Clone returns a copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	return maps.Clone(s)
}
