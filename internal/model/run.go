package model

import "time"

// Run and download status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Device preference constants.
const (
	DeviceAny = "any"
	DeviceCPU = "cpu"
	DeviceGPU = "gpu"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is a final state.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Run is one inference call recorded in the run ledger.
type Run struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"`
	Framework   string     `json:"framework"`
	EngineDir   string     `json:"engine_dir"`
	ModelFolder string     `json:"model_folder"`
	Inputs      []string   `json:"inputs,omitempty"`
	Outputs     []string   `json:"outputs,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Download is a batch of files fetched into a model folder.
type Download struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Dest   string   `json:"dest"`
	URLs   []string `json:"urls"`
	Failed []string `json:"failed,omitempty"`
	Error  string   `json:"error,omitempty"`
	// Progress is the per-file snapshot, recorded when the download ends.
	Progress   map[string]float64 `json:"progress,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}
