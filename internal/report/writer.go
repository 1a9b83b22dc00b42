package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
)

// ErrWriteFailed matches every *WriteError.
var ErrWriteFailed = errors.New("report write failed")

// WriteError is a failure to stage or commit a report file.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is reports whether target is ErrWriteFailed.
func (e *WriteError) Is(target error) bool { return target == ErrWriteFailed }

// FileName returns <report>_<table>_<start>_to_<end>_<stamp>.<ext>.
func FileName(kind, table string, r analytics.DateRange, stamp, ext string) string {
	return fmt.Sprintf("%s_%s_%s_to_%s_%s.%s", kind, table, r.StartDate(), r.EndDate(), stamp, ext)
}

// ManifestName returns <report>_manifest_<stamp>.json.
func ManifestName(kind, stamp string) string {
	return fmt.Sprintf("%s_manifest_%s.json", kind, stamp)
}

type staged struct {
	tmp   string
	final string
}

// Writer stages files next to their destination and moves them into
// place together on Commit. Until then nothing is visible under the
// final names.
type Writer struct {
	dir    string
	staged []staged
}

// NewWriter returns a Writer targeting dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &WriteError{Op: "create", Path: dir, Err: err}
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// CSV stages t as name.
func (w *Writer) CSV(name string, t Table) error {
	return w.stage(name, func(f *os.File) error {
		cw := csv.NewWriter(f)
		if err := cw.Write(t.Columns); err != nil {
			return err
		}
		if err := cw.WriteAll(t.Rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

// JSON stages v, indented, as name.
func (w *Writer) JSON(name string, v any) error {
	return w.stage(name, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func (w *Writer) stage(name string, write func(*os.File) error) error {
	final := filepath.Join(w.dir, name)
	f, err := os.CreateTemp(w.dir, "."+name+".*.tmp")
	if err != nil {
		return &WriteError{Op: "stage", Path: final, Err: err}
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return &WriteError{Op: "stage", Path: final, Err: err}
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return &WriteError{Op: "write", Path: final, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return &WriteError{Op: "write", Path: final, Err: err}
	}
	w.staged = append(w.staged, staged{tmp: f.Name(), final: final})
	return nil
}

// Commit renames every staged file into place and returns the final
// paths. If any rename fails, files already moved are removed along with
// the remaining staged files.
func (w *Writer) Commit() ([]string, error) {
	var done []string
	for i, s := range w.staged {
		if err := os.Rename(s.tmp, s.final); err != nil {
			for _, p := range done {
				os.Remove(p)
			}
			for _, rest := range w.staged[i:] {
				os.Remove(rest.tmp)
			}
			w.staged = nil
			return nil, &WriteError{Op: "commit", Path: s.final, Err: err}
		}
		done = append(done, s.final)
	}
	w.staged = nil
	return done, nil
}

// Abort discards every staged file.
func (w *Writer) Abort() {
	for _, s := range w.staged {
		os.Remove(s.tmp)
	}
	w.staged = nil
}

// Pending returns the final paths of staged files.
func (w *Writer) Pending() []string {
	out := make([]string, len(w.staged))
	for i, s := range w.staged {
		out[i] = s.final
	}
	return out
}
