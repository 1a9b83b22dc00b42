package report

import (
	"encoding/json"
	"path/filepath"

	"github.com/blackwell-systems/usagewatch/internal/fetch"
	"github.com/blackwell-systems/usagewatch/internal/resolver"
	"github.com/google/uuid"
)

// Manifest records what a run was asked for and what it produced.
type Manifest struct {
	RunID     string                  `json:"run_id"`
	Command   string                  `json:"command"`
	Start     string                  `json:"start_date"`
	End       string                  `json:"end_date"`
	Status    string                  `json:"status"`
	Targets   []string                `json:"targets"`
	Missing   []resolver.MissingEmail `json:"missing_emails"`
	Empty     []string                `json:"empty_identifiers"`
	Skipped   []fetch.Skipped         `json:"skipped_identifiers"`
	Conflicts []resolver.Conflict     `json:"conflicts"`
	Warnings  []string                `json:"warnings,omitempty"`
	Files     []string                `json:"files"`
}

// NewManifest starts a manifest with a fresh run id.
func NewManifest(command string) *Manifest {
	return &Manifest{
		RunID:     uuid.NewString(),
		Command:   command,
		Targets:   []string{},
		Missing:   []resolver.MissingEmail{},
		Empty:     []string{},
		Skipped:   []fetch.Skipped{},
		Conflicts: []resolver.Conflict{},
		Files:     []string{},
	}
}

// RawMirror is the --raw-json payload: raw response bodies by identifier.
// Batched runs store their shared responses under "*".
type RawMirror map[string][]json.RawMessage

// NewRawMirror collects raw bodies from a fetch result.
func NewRawMirror(res *fetch.Result) RawMirror {
	m := make(RawMirror)
	if res == nil {
		return m
	}
	for _, b := range res.Batches {
		if len(b.Raw) > 0 {
			m[b.Identifier] = b.Raw
		}
	}
	if len(res.Shared) > 0 {
		m["*"] = res.Shared
	}
	return m
}

// Emit stages every table of rep, the optional raw mirror and the
// manifest, then commits them together. On failure nothing is left
// behind and the returned error matches ErrWriteFailed.
func Emit(w *Writer, rep *Report, stamp string, raw RawMirror, m *Manifest) ([]string, error) {
	for _, t := range rep.Tables {
		if err := w.CSV(FileName(rep.Kind, t.Name, rep.Range, stamp, "csv"), t); err != nil {
			w.Abort()
			return nil, err
		}
	}
	if raw != nil {
		if err := w.JSON(FileName(rep.Kind, "raw", rep.Range, stamp, "json"), raw); err != nil {
			w.Abort()
			return nil, err
		}
	}

	m.Start = rep.Range.StartDate()
	m.End = rep.Range.EndDate()
	m.Files = m.Files[:0]
	for _, p := range w.Pending() {
		m.Files = append(m.Files, filepath.Base(p))
	}
	if err := w.JSON(ManifestName(rep.Kind, stamp), m); err != nil {
		w.Abort()
		return nil, err
	}
	return w.Commit()
}
