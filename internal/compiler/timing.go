package compiler

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

type timingEvent struct {
	Run        string  `json:"run"`
	Phase      string  `json:"phase"`
	Kind       string  `json:"kind"`
	File       string  `json:"file,omitempty"`
	Component  string  `json:"component,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

// timingRecorder appends one JSON line per stage to a file shared by
// successive runs; the run id tells them apart.
type timingRecorder struct {
	enabled bool
	run     string
	start   time.Time
	mu      sync.Mutex
	events  []timingEvent
	file    *os.File
	enc     *json.Encoder
	err     error
}

func newTimingRecorder(run string, start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{run: run, start: start}
	if path == "" {
		return tr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.enabled = true
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Enabled() bool {
	return tr != nil && tr.enabled
}

func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.file == nil {
		return
	}
	_ = tr.file.Close()
}

func (tr *timingRecorder) record(phase, kind, file, component, status string, start time.Time, duration time.Duration) {
	if !tr.Enabled() {
		return
	}
	startMS := durationToMS(start.Sub(tr.start))
	durationMS := durationToMS(duration)
	event := timingEvent{
		Run:        tr.run,
		Phase:      phase,
		Kind:       kind,
		File:       file,
		Component:  component,
		Status:     status,
		StartMS:    startMS,
		DurationMS: durationMS,
		EndMS:      startMS + durationMS,
	}
	tr.mu.Lock()
	tr.events = append(tr.events, event)
	if tr.enc != nil {
		_ = tr.enc.Encode(event)
	}
	tr.mu.Unlock()
}

// stage times fn as a file-level stage.
func (tr *timingRecorder) stage(phase, file string, fn func() error) error {
	start := time.Now()
	err := fn()
	tr.record(phase, "stage", file, "", status(err), start, time.Since(start))
	return err
}

// component times fn as a per-component step.
func (tr *timingRecorder) component(phase, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	tr.record(phase, "component", "", name, status(err), start, time.Since(start))
	return err
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}

// resolveTimingPath picks the JSONL path: the environment override first,
// then the configured path when timing is on.
func (c *Compiler) resolveTimingPath() string {
	if envPath := os.Getenv("FILAMENT_TIMING_JSONL"); envPath != "" {
		return envPath
	}
	if c.Config.Analysis.Timing {
		if c.Config.Analysis.TimingPath != "" {
			return c.Config.Analysis.TimingPath
		}
		return "timing.jsonl"
	}
	return ""
}
