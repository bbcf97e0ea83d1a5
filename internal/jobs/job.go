// Package jobs runs bake requests one at a time and keeps their results for
// the lifetime of the process.
package jobs

import (
	"context"
	"encoding/json"
)

// State is the lifecycle stage of a job.
type State string

const (
	Pending  State = "pending"
	Running  State = "running"
	Finished State = "finished"
	Failed   State = "error"
)

// Args is the opaque request a job was created with.
type Args map[string]any

// String returns the string value stored under key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Int returns the numeric value stored under key. JSON numbers and numeric
// strings are accepted.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		var n int
		if err := json.Unmarshal([]byte(v), &n); err == nil {
			return n
		}
	}
	return def
}

// Bool reports whether key holds a true value.
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	}
	return false
}

// Result is the output of a run. A failed job keeps whatever its run had
// produced before failing: once the document was persisted that is
// URLIgxcOriginal, serialised next to the job's error.
type Result struct {
	URLAoMapImage    string                `json:"urlAoMapImage,omitempty"`
	URLAoMappingJSON string                `json:"urlAoMappingJson,omitempty"`
	URLIgxcModified  string                `json:"urlIgxcModified,omitempty"`
	URLIgxcOriginal  string                `json:"urlIgxcOriginal,omitempty"`
	Transforms       map[string][9]float32 `json:"transforms,omitempty"`
	IgxcModified     any                   `json:"igxcModified,omitempty"`
}

// Job is the descriptor returned by Query and List.
type Job struct {
	ID    string `json:"jobId"`
	Args  Args   `json:"jobArgs"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
	*Result
}

// Runner executes one job. A non-nil error marks the job failed; the
// result may still carry partial output.
type Runner interface {
	Run(ctx context.Context, args Args) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, args Args) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, args Args) (*Result, error) {
	return f(ctx, args)
}
