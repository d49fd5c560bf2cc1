package store

import "time"

// RunRecord captures the outcome of one charge, measure, clear or reset run.
type RunRecord struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Cells     string    `json:"cells,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Verdict   string    `json:"verdict"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
	Ticks     int       `json:"ticks,omitempty"`
	Export    string    `json:"export,omitempty"`
	Error     string    `json:"error,omitempty"`
	Plan      string    `json:"plan,omitempty"`
}

// PlanRecord captures the outcome of a whole run plan.
type PlanRecord struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Verdict   string    `json:"verdict"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration"`
	Steps     int       `json:"steps"`
}
