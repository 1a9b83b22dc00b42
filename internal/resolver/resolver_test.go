package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	entries []analytics.DirectoryEntry
	err     error
	calls   int
}

func (f *fakeDirectory) Directory(ctx context.Context, r analytics.DateRange) (analytics.DirectoryResult, error) {
	f.calls++
	if f.err != nil {
		return analytics.DirectoryResult{}, f.err
	}
	return analytics.DirectoryResult{Entries: f.entries}, nil
}

func testRange(t *testing.T) analytics.DateRange {
	t.Helper()
	r, err := analytics.ParseDateRange("2025-10-01", "2025-10-02")
	require.NoError(t, err)
	return r
}

func TestResolve_MatchesCaseInsensitively(t *testing.T) {
	dir := &fakeDirectory{entries: []analytics.DirectoryEntry{
		{Email: "Alice@X.com", APIKey: "id1"},
		{Email: "carol@x.com", APIKey: "id3"},
	}}

	res, err := New(dir).Resolve(context.Background(), []string{" alice@x.com ", "b@x.com"}, testRange(t))
	require.NoError(t, err)

	assert.Equal(t, 1, dir.calls, "directory must be queried once per run")
	assert.Equal(t, []string{"Alice@X.com"}, res.Emails)
	assert.Equal(t, []string{"id1"}, res.ByEmail["Alice@X.com"])
	assert.Equal(t, "Alice@X.com", res.Owner("id1"))
	assert.Equal(t, []MissingEmail{{Email: "b@x.com", Note: NoteNoMatch}}, res.Missing)
	assert.Equal(t, []string{"id1"}, res.Identifiers())
}

func TestResolve_MissingEmailIsNotAnError(t *testing.T) {
	res, err := New(&fakeDirectory{}).Resolve(context.Background(), []string{"nobody@x.com"}, testRange(t))
	require.NoError(t, err)
	assert.Empty(t, res.Identifiers())
	require.Len(t, res.Missing, 1)
	assert.Equal(t, "nobody@x.com", res.Missing[0].Email)
}

func TestResolve_EmptyRequestMeansEveryone(t *testing.T) {
	dir := &fakeDirectory{entries: []analytics.DirectoryEntry{
		{Email: "b@x.com", APIKey: "id2"},
		{Email: "a@x.com", APIKey: "id1"},
		{Email: "b@x.com", APIKey: "id2"},
	}}
	res, err := New(dir).Resolve(context.Background(), nil, testRange(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x.com", "a@x.com"}, res.Emails)
	assert.Equal(t, []string{"id2", "id1"}, res.Identifiers())
	assert.Empty(t, res.Missing)
}

func TestResolve_KeepsEveryIdentifierOfAnEmail(t *testing.T) {
	dir := &fakeDirectory{entries: []analytics.DirectoryEntry{
		{Email: "a@x.com", APIKey: "old"},
		{Email: "a@x.com", APIKey: "new"},
		{Email: "a@x.com", APIKey: "old"},
	}}
	res, err := New(dir).Resolve(context.Background(), []string{"a@x.com"}, testRange(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, res.ByEmail["a@x.com"])
	assert.Equal(t, "a@x.com", res.Owner("new"))
}

func TestResolve_SharedIdentifierIsAConflict(t *testing.T) {
	dir := &fakeDirectory{entries: []analytics.DirectoryEntry{
		{Email: "z@x.com", APIKey: "shared"},
		{Email: "a@x.com", APIKey: "shared"},
		{Email: "a@x.com", APIKey: "own"},
	}}
	res, err := New(dir).Resolve(context.Background(), []string{"z@x.com", "a@x.com"}, testRange(t))
	require.NoError(t, err)

	assert.Equal(t, "a@x.com;z@x.com", res.Owner("shared"))
	assert.Equal(t, []Conflict{{Identifier: "shared", Emails: []string{"a@x.com", "z@x.com"}}}, res.Conflicts)
	assert.Equal(t, []string{"shared", "own"}, res.Identifiers())
}

func TestResolve_DirectoryFailure(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := New(&fakeDirectory{err: boom}).Resolve(context.Background(), []string{"a@x.com"}, testRange(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.ErrorIs(t, err, boom)
}

func TestTargets(t *testing.T) {
	res := FromEntries([]analytics.DirectoryEntry{
		{Email: "a@x.com", APIKey: "id1"},
		{Email: "b@x.com", APIKey: "id2"},
	}, []string{"b@x.com", "a@x.com"})

	got := Targets(res, []string{"id9", "id1", " ", "id9"})
	assert.Equal(t, []string{"id2", "id1", "id9"}, got)

	assert.Equal(t, []string{"id5"}, Targets(nil, []string{"id5"}))
}

func TestResolve_MissingEmailListsSimilar(t *testing.T) {
	dir := &fakeDirectory{entries: []analytics.DirectoryEntry{
		{Email: "jsmith@corp.com", APIKey: "id1"},
		{Email: "Bob@x.com", APIKey: "id2"},
		{Email: "JSmith@x.com", APIKey: "id3"},
	}}
	res, err := New(dir).Resolve(context.Background(), []string{"jsmith@old.com", "zed@x.com"}, testRange(t))
	require.NoError(t, err)

	require.Len(t, res.Missing, 2)
	assert.Equal(t, "jsmith@old.com", res.Missing[0].Email)
	assert.Equal(t, NoteNoMatch, res.Missing[0].Note)
	assert.Equal(t, []string{"JSmith@x.com", "jsmith@corp.com"}, res.Missing[0].Similar)
	assert.Nil(t, res.Missing[1].Similar)
}
