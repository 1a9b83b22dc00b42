// Package fetch fans usage queries out across identifiers. The analytics
// service only filters on a single API key per query, so a report over N
// users costs N queries per date chunk.
package fetch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Querier runs a single usage query.
type Querier interface {
	Query(ctx context.Context, spec analytics.QuerySpec) (analytics.QueryResult, error)
}

// BuildFunc returns the unfiltered query for one date window. The fetcher
// adds the identifier filter itself.
type BuildFunc func(r analytics.DateRange) analytics.QuerySpec

// Options tunes the fan-out.
type Options struct {
	Concurrency       int
	RequestsPerSecond float64
	Burst             int
	RequestTimeout    time.Duration
	ChunkDays         int
}

// Batch holds every row fetched for one identifier.
type Batch struct {
	Identifier string
	Rows       []analytics.Row
	Raw        []json.RawMessage
	Empty      bool
}

// Skipped is an identifier whose query failed. The run continues without it.
type Skipped struct {
	Identifier string `json:"api_key"`
	Err        error  `json:"-"`
}

// MarshalJSON includes the error text.
func (s Skipped) MarshalJSON() ([]byte, error) {
	msg := ""
	if s.Err != nil {
		msg = s.Err.Error()
	}
	return json.Marshal(struct {
		Identifier string `json:"api_key"`
		Error      string `json:"error"`
	}{s.Identifier, msg})
}

// Result is the outcome of a fan-out. Batches follow the input order.
type Result struct {
	Batches []Batch
	Skipped []Skipped
	// Shared holds raw responses of batched queries, which belong to no
	// single identifier.
	Shared []json.RawMessage
}

// Empty returns the identifiers that returned no rows.
func (r *Result) Empty() []string {
	return lo.FilterMap(r.Batches, func(b Batch, _ int) (string, bool) {
		return b.Identifier, b.Empty
	})
}

// Fetcher issues queries with bounded concurrency and pacing.
type Fetcher struct {
	q         Querier
	limit     int
	limiter   *rate.Limiter
	timeout   time.Duration
	chunkDays int
	log       *slog.Logger
}

// New returns a Fetcher. A zero Concurrency runs one request at a time and
// a zero RequestsPerSecond disables pacing.
func New(q Querier, opts Options, log *slog.Logger) *Fetcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Fetcher{
		q:         q,
		limit:     opts.Concurrency,
		limiter:   rate.NewLimiter(limit, opts.Burst),
		timeout:   opts.RequestTimeout,
		chunkDays: opts.ChunkDays,
		log:       log,
	}
}

// chunkResult is the slot one worker writes.
type chunkResult struct {
	res analytics.QueryResult
	err error
}

// PerIdentifier runs build for every chunk of r filtered to each identifier.
// A failed identifier is skipped and the rest continue; a rejected service
// key stops the run and is returned. Output order matches ids regardless of
// completion order.
func (f *Fetcher) PerIdentifier(ctx context.Context, ids []string, r analytics.DateRange, build BuildFunc) (*Result, error) {
	chunks := r.Chunks(f.chunkDays)
	slots := make([][]chunkResult, len(ids))
	for i := range slots {
		slots[i] = make([]chunkResult, len(chunks))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)

schedule:
	for i, id := range ids {
		for c, chunk := range chunks {
			if gctx.Err() != nil {
				break schedule
			}
			spec := build(chunk).ForIdentifier(id)
			g.Go(func() error {
				res, err := f.run(gctx, spec)
				if err != nil && analytics.IsFatal(err) {
					return err
				}
				slots[i][c] = chunkResult{res: res, err: err}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Result{}
	for i, id := range ids {
		batch := Batch{Identifier: id}
		var failed error
		for _, cr := range slots[i] {
			if cr.err != nil {
				failed = cr.err
				break
			}
			batch.Rows = append(batch.Rows, cr.res.Rows...)
			if len(cr.res.Raw) > 0 {
				batch.Raw = append(batch.Raw, cr.res.Raw)
			}
		}
		if failed != nil {
			f.log.Warn("skipping identifier", "api_key", analytics.MaskKey(id), "error", failed)
			out.Skipped = append(out.Skipped, Skipped{Identifier: id, Err: failed})
			continue
		}
		batch.Empty = len(batch.Rows) == 0
		out.Batches = append(out.Batches, batch)
	}
	return out, nil
}

// Batched runs one unfiltered query per chunk and splits the rows by their
// api_key field. Only rows of the requested identifiers are kept, or every
// identifier seen when ids is empty (then batches are sorted by identifier).
// A failed chunk skips every requested identifier.
func (f *Fetcher) Batched(ctx context.Context, ids []string, r analytics.DateRange, build BuildFunc) (*Result, error) {
	chunks := r.Chunks(f.chunkDays)
	slots := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for c, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		spec := build(chunk)
		g.Go(func() error {
			res, err := f.run(gctx, spec)
			if err != nil && analytics.IsFatal(err) {
				return err
			}
			slots[c] = chunkResult{res: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Result{}
	byID := make(map[string][]analytics.Row)
	var seen []string
	for _, cr := range slots {
		if cr.err != nil {
			if len(ids) == 0 {
				return nil, cr.err
			}
			for _, id := range ids {
				out.Skipped = append(out.Skipped, Skipped{Identifier: id, Err: cr.err})
			}
			f.log.Warn("batched query failed", "error", cr.err)
			return out, nil
		}
		if len(cr.res.Raw) > 0 {
			out.Shared = append(out.Shared, cr.res.Raw)
		}
		for _, row := range cr.res.Rows {
			id := row.String(analytics.FieldAPIKey)
			if id == "" {
				continue
			}
			if _, ok := byID[id]; !ok {
				seen = append(seen, id)
			}
			byID[id] = append(byID[id], row)
		}
	}

	order := ids
	if len(order) == 0 {
		order = seen
		sort.Strings(order)
	}
	for _, id := range order {
		rows := byID[id]
		out.Batches = append(out.Batches, Batch{Identifier: id, Rows: rows, Empty: len(rows) == 0})
	}
	return out, nil
}

// run waits for a rate token and issues one query under the request timeout.
func (f *Fetcher) run(ctx context.Context, spec analytics.QuerySpec) (analytics.QueryResult, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return analytics.QueryResult{}, err
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := f.q.Query(ctx, spec)
	f.log.Debug("query", "spec", spec.String(), "rows", len(res.Rows), "elapsed", time.Since(start), "error", err)
	return res, err
}
