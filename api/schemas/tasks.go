package schemas

import "time"

// -- Task Schemas --

// TaskStatus is the bookkeeping state of a submitted extraction.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the task will not change again.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ScrapeRequest is the body of POST /scrape.
type ScrapeRequest struct {
	Credentials    Credentials      `json:"credentials"`
	FilterOptions  *FilterSelection `json:"filter_options,omitempty"`
	Headless       *bool            `json:"headless,omitempty"`
	ViewportWidth  int              `json:"viewport_width,omitempty"`
	ViewportHeight int              `json:"viewport_height,omitempty"`
}

// SessionConfig resolves the optional session fields against the defaults.
func (r ScrapeRequest) SessionConfig() SessionConfig {
	cfg := SessionConfig{
		Headless:       true,
		ViewportWidth:  r.ViewportWidth,
		ViewportHeight: r.ViewportHeight,
	}
	if r.Headless != nil {
		cfg.Headless = *r.Headless
	}
	return cfg.Normalize()
}

// Task is the record kept for a submitted extraction. It never carries the
// credentials used to start it.
type Task struct {
	TaskID      string            `json:"task_id"`
	RunID       string            `json:"run_id,omitempty"`
	Status      TaskStatus        `json:"status"`
	Result      *ExtractionResult `json:"data,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// SubmitResponse is returned by POST /scrape.
type SubmitResponse struct {
	TaskID  string     `json:"task_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
}
