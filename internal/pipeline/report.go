package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"apkrepack/internal/faults"
	"apkrepack/internal/sign"
)

// StageRecord is the outcome of one pipeline stage.
type StageRecord struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report is the machine-readable account of one run.
type Report struct {
	Input       string            `json:"input"`
	Output      string            `json:"output"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	FinalState  string            `json:"final_state"`
	Stages      []StageRecord     `json:"stages"`
	Attestation *sign.Attestation `json:"attestation,omitempty"`
}

func newReport(input, output string) *Report {
	return &Report{
		Input:     input,
		Output:    output,
		StartedAt: time.Now().UTC(),
	}
}

func (r *Report) record(name string, d time.Duration, err error) {
	rec := StageRecord{Name: name, DurationMS: d.Milliseconds()}
	if err != nil {
		rec.Error = err.Error()
	}
	r.Stages = append(r.Stages, rec)
}

// WriteFile persists the report as JSON. The write goes through a temp file
// and rename so a crash cannot leave a truncated report.
func (r *Report) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &faults.IOFailure{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return &faults.IOFailure{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		tmp.Close()
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return &faults.IOFailure{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		return &faults.IOFailure{Op: "chmod", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &faults.IOFailure{Op: "close", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &faults.IOFailure{Op: "rename", Path: path, Err: err}
	}
	committed = true
	return nil
}
