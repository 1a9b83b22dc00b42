package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQuerier answers from a per-identifier table keyed by the api_key
// filter value, or "" for unfiltered queries.
type fakeQuerier struct {
	mu     sync.Mutex
	rows   map[string][]analytics.Row
	errs   map[string]error
	delay  func(id string) time.Duration
	calls  atomic.Int32
	ranges []string
}

func (f *fakeQuerier) Query(ctx context.Context, spec analytics.QuerySpec) (analytics.QueryResult, error) {
	f.calls.Add(1)
	id := ""
	var start, end string
	for _, flt := range spec.Filters {
		switch {
		case flt.Name == analytics.FieldAPIKey:
			id = flt.Value
		case flt.Name == analytics.FieldDate && flt.Operator == analytics.OpGE:
			start = flt.Value
		case flt.Name == analytics.FieldDate && flt.Operator == analytics.OpLE:
			end = flt.Value
		}
	}
	f.mu.Lock()
	f.ranges = append(f.ranges, id+"@"+start+".."+end)
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(id)):
		case <-ctx.Done():
			return analytics.QueryResult{}, ctx.Err()
		}
	}
	if err := f.errs[id]; err != nil {
		return analytics.QueryResult{}, err
	}
	var rows []analytics.Row
	for _, row := range f.rows[id] {
		if d := row.String(analytics.FieldDate); d == "" || (d >= start && d <= end) {
			rows = append(rows, row)
		}
	}
	return analytics.QueryResult{Spec: spec, Rows: rows, Raw: []byte(`{}`)}, nil
}

func commandSpec(r analytics.DateRange) analytics.QuerySpec {
	return analytics.QuerySpec{
		DataSource: analytics.SourceCommandData,
		Selections: analytics.Select("api_key", "date", "bytes_added"),
	}.InRange(r)
}

func mustRange(t *testing.T, start, end string) analytics.DateRange {
	t.Helper()
	r, err := analytics.ParseDateRange(start, end)
	require.NoError(t, err)
	return r
}

func row(id, date string, bytes int) analytics.Row {
	return analytics.Row{"api_key": id, "date": date, "bytes_added": fmt.Sprint(bytes)}
}

func TestPerIdentifier_PreservesInputOrder(t *testing.T) {
	q := &fakeQuerier{
		rows: map[string][]analytics.Row{
			"id1": {row("id1", "2025-10-01", 1)},
			"id2": {row("id2", "2025-10-01", 2)},
			"id3": {row("id3", "2025-10-01", 3)},
		},
		// Later identifiers finish first.
		delay: func(id string) time.Duration {
			switch id {
			case "id1":
				return 30 * time.Millisecond
			case "id2":
				return 15 * time.Millisecond
			}
			return 0
		},
	}
	f := New(q, Options{Concurrency: 3}, nil)

	res, err := f.PerIdentifier(context.Background(), []string{"id1", "id2", "id3"}, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	require.NoError(t, err)
	require.Len(t, res.Batches, 3)
	for i, id := range []string{"id1", "id2", "id3"} {
		assert.Equal(t, id, res.Batches[i].Identifier)
		assert.Len(t, res.Batches[i].Rows, 1)
	}
}

func TestPerIdentifier_ParallelMatchesSequential(t *testing.T) {
	rows := map[string][]analytics.Row{}
	var ids []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("id%d", i)
		ids = append(ids, id)
		rows[id] = []analytics.Row{row(id, "2025-10-01", i), row(id, "2025-10-05", i*2)}
	}
	r := mustRange(t, "2025-10-01", "2025-10-07")

	seq, err := New(&fakeQuerier{rows: rows}, Options{Concurrency: 1, ChunkDays: 2}, nil).PerIdentifier(context.Background(), ids, r, commandSpec)
	require.NoError(t, err)
	par, err := New(&fakeQuerier{rows: rows}, Options{Concurrency: 8, ChunkDays: 2}, nil).PerIdentifier(context.Background(), ids, r, commandSpec)
	require.NoError(t, err)

	assert.Equal(t, seq.Batches, par.Batches)
}

func TestPerIdentifier_ChunksCoverRangeOnce(t *testing.T) {
	q := &fakeQuerier{rows: map[string][]analytics.Row{
		"id1": {row("id1", "2025-10-01", 1), row("id1", "2025-10-03", 1), row("id1", "2025-10-04", 1), row("id1", "2025-10-05", 1)},
	}}
	f := New(q, Options{Concurrency: 2, ChunkDays: 2}, nil)

	res, err := f.PerIdentifier(context.Background(), []string{"id1"}, mustRange(t, "2025-10-01", "2025-10-05"), commandSpec)
	require.NoError(t, err)
	assert.EqualValues(t, 3, q.calls.Load())
	assert.Len(t, res.Batches[0].Rows, 4, "every row fetched exactly once")
	assert.Len(t, res.Batches[0].Raw, 3)
}

func TestPerIdentifier_FailureSkipsOnlyThatIdentifier(t *testing.T) {
	q := &fakeQuerier{
		rows: map[string][]analytics.Row{
			"id1": {row("id1", "2025-10-01", 1)},
			"id3": {row("id3", "2025-10-01", 3)},
		},
		errs: map[string]error{"id2": &analytics.QueryError{Endpoint: "Analytics", StatusCode: 500, Err: analytics.ErrRejected}},
	}
	f := New(q, Options{Concurrency: 2}, nil)

	res, err := f.PerIdentifier(context.Background(), []string{"id1", "id2", "id3"}, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	require.NoError(t, err)
	require.Len(t, res.Batches, 2)
	assert.Equal(t, "id1", res.Batches[0].Identifier)
	assert.Equal(t, "id3", res.Batches[1].Identifier)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "id2", res.Skipped[0].Identifier)
	assert.ErrorIs(t, res.Skipped[0].Err, analytics.ErrRejected)
}

func TestPerIdentifier_EmptyIsFlaggedNotFailed(t *testing.T) {
	rows := map[string][]analytics.Row{}
	ids := []string{"id1", "id2", "id3", "id4", "id5"}
	for _, id := range ids {
		if id != "id4" {
			rows[id] = []analytics.Row{row(id, "2025-10-01", 1)}
		}
	}
	f := New(&fakeQuerier{rows: rows}, Options{Concurrency: 5}, nil)

	res, err := f.PerIdentifier(context.Background(), ids, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	require.NoError(t, err)
	assert.Len(t, res.Batches, 5)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, []string{"id4"}, res.Empty())
}

func TestPerIdentifier_UnauthorizedStopsNewRequests(t *testing.T) {
	q := &fakeQuerier{errs: map[string]error{
		"id1": &analytics.QueryError{Endpoint: "Analytics", StatusCode: 401, Err: analytics.ErrUnauthorized},
	}}
	f := New(q, Options{Concurrency: 1}, nil)

	res, err := f.PerIdentifier(context.Background(), []string{"id1", "id2", "id3", "id4"}, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, analytics.ErrUnauthorized)
	assert.EqualValues(t, 1, q.calls.Load())
}

func TestPerIdentifier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&fakeQuerier{}, Options{}, nil).PerIdentifier(ctx, []string{"id1"}, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPerIdentifier_RequestTimeout(t *testing.T) {
	q := &fakeQuerier{delay: func(string) time.Duration { return time.Second }}
	f := New(q, Options{Concurrency: 1, RequestTimeout: 10 * time.Millisecond}, nil)

	res, err := f.PerIdentifier(context.Background(), []string{"id1"}, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0].Err, context.DeadlineExceeded)
}

func TestBatched_SplitsRowsByIdentifier(t *testing.T) {
	q := &fakeQuerier{rows: map[string][]analytics.Row{
		"": {
			row("id2", "2025-10-01", 2),
			row("id1", "2025-10-01", 1),
			row("other", "2025-10-01", 9),
			row("id1", "2025-10-02", 5),
		},
	}}
	f := New(q, Options{Concurrency: 2}, nil)
	r := mustRange(t, "2025-10-01", "2025-10-02")

	res, err := f.Batched(context.Background(), []string{"id1", "id2", "id3"}, r, commandSpec)
	require.NoError(t, err)
	assert.EqualValues(t, 1, q.calls.Load())
	require.Len(t, res.Batches, 3)
	assert.Equal(t, "id1", res.Batches[0].Identifier)
	assert.Len(t, res.Batches[0].Rows, 2)
	assert.Len(t, res.Batches[1].Rows, 1)
	assert.True(t, res.Batches[2].Empty)
	assert.Len(t, res.Shared, 1)

	all, err := f.Batched(context.Background(), nil, r, commandSpec)
	require.NoError(t, err)
	var got []string
	for _, b := range all.Batches {
		got = append(got, b.Identifier)
	}
	assert.Equal(t, []string{"id1", "id2", "other"}, got)
}

func TestBatched_FailureSkipsRequested(t *testing.T) {
	q := &fakeQuerier{errs: map[string]error{"": analytics.ErrRejected}}
	f := New(q, Options{}, nil)

	res, err := f.Batched(context.Background(), []string{"id1", "id2"}, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	require.NoError(t, err)
	assert.Len(t, res.Skipped, 2)
	assert.Empty(t, res.Batches)

	_, err = f.Batched(context.Background(), nil, mustRange(t, "2025-10-01", "2025-10-01"), commandSpec)
	assert.ErrorIs(t, err, analytics.ErrRejected)
}

func TestSkipped_MarshalJSON(t *testing.T) {
	b, err := Skipped{Identifier: "id1", Err: errors.New("boom")}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"api_key":"id1","error":"boom"}`, string(b))
}
