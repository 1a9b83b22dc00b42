package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/samber/lo"
)

// MappingPrefix starts every saved mapping file name.
const MappingPrefix = "email_api_mapping_"

// ErrNoMappingFile is returned when a directory holds no mapping file.
var ErrNoMappingFile = errors.New("no mapping file found")

// Mapping is an email to identifiers table as stored on disk.
type Mapping map[string][]string

// UnmarshalJSON accepts both "email": "key" and "email": ["key", ...].
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Mapping, len(raw))
	for email, v := range raw {
		var one string
		if err := json.Unmarshal(v, &one); err == nil {
			if one != "" {
				out[email] = []string{one}
			}
			continue
		}
		var many []string
		if err := json.Unmarshal(v, &many); err != nil {
			return fmt.Errorf("mapping for %s: want a string or a list of strings", email)
		}
		if many = lo.Compact(many); len(many) > 0 {
			out[email] = many
		}
	}
	*m = out
	return nil
}

// MarshalJSON writes single identifiers as plain strings so files stay
// readable by tools that expect one key per email.
func (m Mapping) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m))
	for email, ids := range m {
		if len(ids) == 1 {
			out[email] = ids[0]
		} else {
			out[email] = ids
		}
	}
	return json.Marshal(out)
}

// MappingFromResolution flattens a resolution for saving.
func MappingFromResolution(res *Resolution) Mapping {
	m := make(Mapping, len(res.Emails))
	for _, email := range res.Emails {
		m[email] = res.ByEmail[email]
	}
	return m
}

// MappingFileName returns the dated file name for a mapping saved on day.
func MappingFileName(day time.Time) string {
	return MappingPrefix + day.Format(analytics.DateLayout) + ".json"
}

// SaveMapping writes m into dir under the dated file name and returns its
// path. The file is written to a temp file first and renamed into place.
func SaveMapping(dir string, m Mapping, day time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding mapping: %w", err)
	}

	path := filepath.Join(dir, MappingFileName(day))
	tmp, err := os.CreateTemp(dir, ".mapping-*")
	if err != nil {
		return "", fmt.Errorf("staging mapping: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("staging mapping: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing mapping: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing mapping: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("saving mapping: %w", err)
	}
	return path, nil
}

// LoadMapping reads a mapping file.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mapping file %s: %w", path, err)
	}
	return m, nil
}

// LatestMappingFile returns the newest mapping file in dir. Names embed
// the save date, so the lexically greatest name is the newest.
func LatestMappingFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, MappingPrefix+"*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoMappingFile, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// FromMapping resolves emails offline against a saved mapping. Emails are
// visited in sorted order so the result does not depend on map order.
func FromMapping(m Mapping, emails []string) *Resolution {
	keys := lo.Keys(m)
	sort.Strings(keys)
	var entries []analytics.DirectoryEntry
	for _, email := range keys {
		for _, id := range m[email] {
			entries = append(entries, analytics.DirectoryEntry{Email: email, APIKey: id})
		}
	}
	return FromEntries(entries, emails)
}
