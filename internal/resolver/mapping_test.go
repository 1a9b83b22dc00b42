package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapping_AcceptsStringOrList(t *testing.T) {
	var m Mapping
	err := json.Unmarshal([]byte(`{"a@x.com": "id1", "b@x.com": ["id2", "id3"], "c@x.com": ""}`), &m)
	require.NoError(t, err)
	assert.Equal(t, Mapping{
		"a@x.com": {"id1"},
		"b@x.com": {"id2", "id3"},
	}, m)
}

func TestMapping_RejectsOtherShapes(t *testing.T) {
	var m Mapping
	err := json.Unmarshal([]byte(`{"a@x.com": 12}`), &m)
	assert.Error(t, err)
}

func TestSaveAndLoadMapping(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, 10, 17, 9, 0, 0, 0, time.UTC)
	want := Mapping{"a@x.com": {"id1"}, "b@x.com": {"id2", "id3"}}

	path, err := SaveMapping(dir, want, day)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "email_api_mapping_2025-10-17.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"a@x.com": "id1"`)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	got, err := LoadMapping(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".mapping-*"))
	assert.Empty(t, leftovers)
}

func TestLatestMappingFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"email_api_mapping_2025-09-30.json",
		"email_api_mapping_2025-10-02.json",
		"email_api_mapping_2025-10-01.json",
		"unrelated.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	got, err := LatestMappingFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "email_api_mapping_2025-10-02.json", filepath.Base(got))

	_, err = LatestMappingFile(t.TempDir())
	assert.ErrorIs(t, err, ErrNoMappingFile)
}

func TestFromMapping(t *testing.T) {
	m := Mapping{"b@x.com": {"id2"}, "A@x.com": {"id1"}}
	res := FromMapping(m, []string{"a@x.com", "missing@x.com"})
	assert.Equal(t, []string{"id1"}, res.Identifiers())
	assert.Equal(t, "A@x.com", res.Owner("id1"))
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "missing@x.com", res.Missing[0].Email)

	all := FromMapping(m, nil)
	assert.Equal(t, []string{"A@x.com", "b@x.com"}, all.Emails)
}
