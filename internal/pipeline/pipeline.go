// Package pipeline runs one report end to end: resolve emails, fan out
// queries, fold the rows and write the files.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/blackwell-systems/usagewatch/internal/analyzer"
	"github.com/blackwell-systems/usagewatch/internal/config"
	"github.com/blackwell-systems/usagewatch/internal/fetch"
	"github.com/blackwell-systems/usagewatch/internal/report"
	"github.com/blackwell-systems/usagewatch/internal/resolver"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Kind names a report.
type Kind string

const (
	KindDirectory    Kind = "directory"
	KindCommands     Kind = "commands"
	KindAutocomplete Kind = "autocomplete"
	KindCascade      Kind = "cascade"
	KindCredits      Kind = "credits"
	KindActivity     Kind = "activity"
	KindWorkflow     Kind = "workflow"
)

// DirectoryLookbackDays is the default range of directory and workflow
// runs, which need a wider window to see every user.
const DirectoryLookbackDays = 30

// LatestMapping as a mapping file selects the newest saved mapping in the
// output directory.
const LatestMapping = "latest"

// Status summarizes how complete a run's data is.
type Status int

const (
	// StatusOK means every targeted identifier was queried.
	StatusOK Status = iota
	// StatusNoData means nothing matched: no identifiers or no rows.
	StatusNoData
	// StatusPartial means some identifiers were skipped after errors.
	StatusPartial
)

func (s Status) String() string {
	switch s {
	case StatusNoData:
		return "no data"
	case StatusPartial:
		return "partial"
	default:
		return "ok"
	}
}

// Request describes one run.
type Request struct {
	Kind        Kind
	Emails      []string
	Identifiers []string
	Range       analytics.DateRange
	// MappingFile resolves emails offline from a saved mapping instead of
	// the directory. LatestMapping picks the newest one.
	MappingFile string
	Batched     bool
	RawJSON     bool
	OutputDir   string
	Stamp       string
	Now         time.Time

	CreditLimit decimal.Decimal
	Thresholds  []float64
	// CreditInput reads usage from an existing cascade by_user CSV.
	CreditInput string

	ActivityDays int
}

// Outcome is what a run produced.
type Outcome struct {
	Kind        Kind
	Status      Status
	Report      *report.Report
	Manifest    *report.Manifest
	Files       []string
	Resolution  *resolver.Resolution
	Targets     []string
	Fetched     *fetch.Result
	MappingPath string
	Warnings    []string

	Commands     *analyzer.CommandAnalysis
	Autocomplete *analyzer.AutocompleteAnalysis
	Cascade      *analyzer.CascadeAnalysis
	Credits      *analyzer.CreditReport
	Activity     *analyzer.ActivityReport

	// Parts holds the sub-runs of a workflow.
	Parts []*Outcome
}

// Runner executes requests against one service.
type Runner struct {
	svc     analytics.Service
	cfg     *config.Config
	fetcher *fetch.Fetcher
	log     *slog.Logger
}

// New returns a Runner. The fetcher is built from cfg.Fetch.
func New(svc analytics.Service, cfg *config.Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		svc: svc,
		cfg: cfg,
		fetcher: fetch.New(svc, fetch.Options{
			Concurrency:       cfg.Fetch.Concurrency,
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			Burst:             cfg.Fetch.Burst,
			RequestTimeout:    cfg.Fetch.RequestTimeout,
			ChunkDays:         cfg.Fetch.ChunkDays,
		}, log),
		log: log,
	}
}

// Run executes req. Errors are fatal for the run; partial failures are
// reported through Outcome.Status.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	req = r.withDefaults(req)
	if err := req.Range.Validate(); err != nil {
		return nil, err
	}

	switch req.Kind {
	case KindWorkflow:
		return r.workflow(ctx, req)
	case KindCredits:
		if req.CreditInput != "" {
			return r.creditsFromFile(req)
		}
	}

	sel, err := r.selectTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Kind == KindDirectory {
		return r.directory(req, sel)
	}

	fetched, err := r.fetch(ctx, req, sel)
	if err != nil {
		return nil, err
	}
	return r.build(req, sel, fetched)
}

func (r *Runner) withDefaults(req Request) Request {
	if req.Now.IsZero() {
		req.Now = time.Now().UTC()
	}
	if req.Range.Start.IsZero() && req.Range.End.IsZero() {
		days := r.cfg.DefaultLookbackDays
		switch req.Kind {
		case KindActivity:
			days = r.cfg.Activity.LookbackDays
		case KindDirectory, KindWorkflow:
			days = DirectoryLookbackDays
		}
		req.Range = analytics.LastNDays(req.Now, days)
	}
	if req.Stamp == "" {
		req.Stamp = req.Now.Format(analytics.DateLayout)
	}
	if req.OutputDir == "" {
		req.OutputDir = r.cfg.OutputDir
	}
	if req.CreditLimit.IsZero() {
		req.CreditLimit = decimal.NewFromFloat(r.cfg.Credits.Limit)
	}
	if len(req.Thresholds) == 0 {
		req.Thresholds = r.cfg.Credits.Thresholds
	}
	if req.ActivityDays == 0 {
		req.ActivityDays = r.cfg.Activity.Days
	}
	return req
}

// selection is who a run is about.
type selection struct {
	res     *resolver.Resolution
	targets []string
	// all means no subjects were named, so every identifier counts.
	all      bool
	warnings []string
}

// selectTargets resolves emails and merges raw identifiers. The directory
// is required when emails are given or nothing is named. With only raw
// identifiers it is used for labels, and its absence is a warning.
func (r *Runner) selectTargets(ctx context.Context, req Request) (*selection, error) {
	emails := lo.Compact(lo.Map(req.Emails, func(s string, _ int) string { return strings.TrimSpace(s) }))
	ids := lo.Uniq(lo.Compact(lo.Map(req.Identifiers, func(s string, _ int) string { return strings.TrimSpace(s) })))
	sel := &selection{all: len(emails) == 0 && len(ids) == 0}

	if req.MappingFile != "" {
		path := req.MappingFile
		if path == LatestMapping {
			latest, err := resolver.LatestMappingFile(req.OutputDir)
			if err != nil {
				return nil, err
			}
			path = latest
		}
		m, err := resolver.LoadMapping(path)
		if err != nil {
			return nil, err
		}
		r.log.Info("using mapping file", "path", path, "emails", len(m))
		sel.res = resolver.FromMapping(m, emails)
	} else {
		res, err := resolver.New(r.svc).Resolve(ctx, emails, req.Range)
		switch {
		case err == nil:
			sel.res = res
		case len(emails) == 0 && len(ids) > 0 && !analytics.IsFatal(err):
			r.log.Warn("directory unavailable; identifiers will be unlabeled", "error", err)
			sel.warnings = append(sel.warnings, "user directory unavailable; identifiers are unlabeled")
		default:
			return nil, err
		}
	}

	switch {
	case len(emails) > 0:
		sel.targets = resolver.Targets(sel.res, ids)
	case len(ids) > 0:
		sel.targets = ids
	default:
		sel.targets = sel.res.Identifiers()
	}

	if sel.res != nil {
		for _, m := range sel.res.Missing {
			if len(m.Similar) > 0 {
				r.log.Warn("email not found in directory", "email", m.Email, "similar", strings.Join(m.Similar, ";"))
				continue
			}
			r.log.Warn("email not found in directory", "email", m.Email)
		}
		for _, c := range sel.res.Conflicts {
			r.log.Warn("identifier shared by several emails", "api_key", analytics.MaskKey(c.Identifier), "emails", strings.Join(c.Emails, ";"))
		}
	}
	r.log.Info("resolved targets", "identifiers", len(sel.targets), "range", req.Range.String())
	return sel, nil
}

func queryFor(kind Kind) (fetch.BuildFunc, error) {
	switch kind {
	case KindCommands:
		return analyzer.CommandQuery, nil
	case KindAutocomplete:
		return analyzer.AutocompleteQuery, nil
	case KindCascade, KindCredits, KindActivity:
		return analyzer.CascadeQuery, nil
	}
	return nil, fmt.Errorf("unknown report %q", kind)
}

func (r *Runner) fetch(ctx context.Context, req Request, sel *selection) (*fetch.Result, error) {
	build, err := queryFor(req.Kind)
	if err != nil {
		return nil, err
	}

	var res *fetch.Result
	switch {
	case len(sel.targets) == 0 && !sel.all:
		// Named subjects that resolved to nothing select nothing.
		return &fetch.Result{}, nil
	case req.Batched:
		ids := sel.targets
		if sel.all {
			ids = nil
		}
		res, err = r.fetcher.Batched(ctx, ids, req.Range, build)
	case len(sel.targets) == 0:
		return &fetch.Result{}, nil
	default:
		res, err = r.fetcher.PerIdentifier(ctx, sel.targets, req.Range, build)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", req.Kind, err)
	}
	if req.Batched && sel.all {
		sel.targets = lo.Map(res.Batches, func(b fetch.Batch, _ int) string { return b.Identifier })
	}
	r.log.Info("fetched", "report", req.Kind, "identifiers", len(res.Batches), "skipped", len(res.Skipped), "empty", len(res.Empty()))
	return res, nil
}

func tagged(res *fetch.Result) []analyzer.Tagged {
	return lo.Map(res.Batches, func(b fetch.Batch, _ int) analyzer.Tagged {
		return analyzer.Tagged{Identifier: b.Identifier, Rows: b.Rows}
	})
}

// build folds fetched rows for req.Kind and writes the report.
func (r *Runner) build(req Request, sel *selection, fetched *fetch.Result) (*Outcome, error) {
	roster := report.NewRoster(sel.res, sel.targets, fetched)
	out := &Outcome{
		Kind:       req.Kind,
		Resolution: sel.res,
		Targets:    sel.targets,
		Fetched:    fetched,
		Warnings:   sel.warnings,
	}
	rep := &report.Report{Kind: string(req.Kind), Range: req.Range}

	var facts []analyzer.Fact
	switch req.Kind {
	case KindCommands:
		facts = analyzer.CommandFacts(tagged(fetched))
		a := analyzer.AnalyzeCommands(facts)
		out.Commands = &a
		rep.Tables = report.CommandTables(a, roster)
	case KindAutocomplete:
		facts = analyzer.AutocompleteFacts(tagged(fetched))
		a := analyzer.AnalyzeAutocomplete(facts)
		out.Autocomplete = &a
		rep.Tables = report.AutocompleteTables(a, roster)
	case KindCascade:
		facts = analyzer.CascadeFacts(tagged(fetched))
		a := analyzer.AnalyzeCascade(facts)
		out.Cascade = &a
		rep.Tables = report.CascadeTables(a, roster)
	case KindCredits:
		facts = analyzer.CascadeFacts(tagged(fetched))
		a := analyzer.AnalyzeCascade(facts)
		credits := analyzer.FlagCredits(analyzer.CreditUsageFrom(a.ByUser, roster.Owner), req.CreditLimit, req.Thresholds)
		out.Cascade = &a
		out.Credits = &credits
		rep.Tables = report.CreditTables(credits)
	case KindActivity:
		facts = analyzer.CascadeFacts(tagged(fetched))
		act := analyzer.CheckActivity(facts, sel.targets, req.Now, req.ActivityDays)
		out.Activity = &act
		rep.Tables = []report.Table{report.ActivityTable(act, roster)}
	default:
		return nil, fmt.Errorf("unknown report %q", req.Kind)
	}

	switch {
	case len(fetched.Skipped) > 0:
		out.Status = StatusPartial
	case len(facts) == 0:
		out.Status = StatusNoData
	}
	out.Report = rep
	return out, r.emit(req, out, fetched)
}

// emit writes out.Report with its manifest and records the files.
func (r *Runner) emit(req Request, out *Outcome, fetched *fetch.Result) error {
	w, err := report.NewWriter(req.OutputDir)
	if err != nil {
		return err
	}

	m := report.NewManifest(string(req.Kind))
	m.Status = out.Status.String()
	m.Warnings = out.Warnings
	if out.Targets != nil {
		m.Targets = out.Targets
	}
	if res := out.Resolution; res != nil {
		m.Missing = append(m.Missing, res.Missing...)
		m.Conflicts = append(m.Conflicts, res.Conflicts...)
	}
	var raw report.RawMirror
	if fetched != nil {
		m.Empty = append(m.Empty, fetched.Empty()...)
		m.Skipped = append(m.Skipped, fetched.Skipped...)
		if req.RawJSON {
			raw = report.NewRawMirror(fetched)
		}
	}

	files, err := report.Emit(w, out.Report, req.Stamp, raw, m)
	if err != nil {
		return fmt.Errorf("writing %s report: %w", req.Kind, err)
	}
	out.Manifest = m
	out.Files = append(out.Files, files...)
	r.log.Info("report written", "report", req.Kind, "files", len(files), "dir", req.OutputDir, "run_id", m.RunID)
	return nil
}

// directory saves the resolved mapping and writes a directory report.
func (r *Runner) directory(req Request, sel *selection) (*Outcome, error) {
	out := &Outcome{
		Kind:       KindDirectory,
		Resolution: sel.res,
		Targets:    sel.targets,
		Warnings:   sel.warnings,
	}
	if sel.res == nil || len(sel.res.Emails) == 0 {
		out.Status = StatusNoData
	}

	tbl := report.Table{Name: "mapping", Columns: []string{"email", "api_key", "note"}}
	if sel.res != nil {
		for _, email := range sel.res.Emails {
			for _, id := range sel.res.ByEmail[email] {
				note := ""
				if strings.Contains(sel.res.Owner(id), ";") {
					note = "shared by " + sel.res.Owner(id)
				}
				tbl.Rows = append(tbl.Rows, []string{email, id, note})
			}
		}
		for _, m := range sel.res.Missing {
			tbl.Rows = append(tbl.Rows, []string{m.Email, "", m.Note})
		}

		if len(sel.res.Emails) > 0 {
			path, err := resolver.SaveMapping(req.OutputDir, resolver.MappingFromResolution(sel.res), req.Now)
			if err != nil {
				return nil, &report.WriteError{Op: "save", Path: req.OutputDir, Err: err}
			}
			out.MappingPath = path
			out.Files = append(out.Files, path)
			r.log.Info("mapping saved", "path", path, "emails", len(sel.res.Emails))
		}
	}

	out.Report = &report.Report{Kind: string(KindDirectory), Range: req.Range, Tables: []report.Table{tbl}}
	return out, r.emit(req, out, nil)
}

// creditsFromFile flags users from an existing cascade by_user CSV.
func (r *Runner) creditsFromFile(req Request) (*Outcome, error) {
	f, err := os.Open(req.CreditInput)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", report.ErrBadInput, err)
	}
	defer f.Close()

	usage, err := report.ReadCreditUsage(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", req.CreditInput, err)
	}
	credits := analyzer.FlagCredits(usage, req.CreditLimit, req.Thresholds)
	out := &Outcome{
		Kind:    KindCredits,
		Credits: &credits,
		Targets: lo.Map(usage, func(u analyzer.CreditUsage, _ int) string { return u.Identifier }),
		Report:  &report.Report{Kind: string(KindCredits), Range: req.Range, Tables: report.CreditTables(credits)},
	}
	if len(usage) == 0 {
		out.Status = StatusNoData
	}
	return out, r.emit(req, out, nil)
}

// workflow resolves once, saves the mapping, then produces the cascade
// and credit reports from a single fetch.
func (r *Runner) workflow(ctx context.Context, req Request) (*Outcome, error) {
	sel, err := r.selectTargets(ctx, req)
	if err != nil {
		return nil, err
	}

	dirReq := req
	dirReq.Kind = KindDirectory
	dir, err := r.directory(dirReq, sel)
	if err != nil {
		return nil, err
	}

	cascadeReq := req
	cascadeReq.Kind = KindCascade
	fetched, err := r.fetch(ctx, cascadeReq, sel)
	if err != nil {
		return nil, err
	}
	cascade, err := r.build(cascadeReq, sel, fetched)
	if err != nil {
		return nil, err
	}

	creditReq := req
	creditReq.Kind = KindCredits
	creditReq.RawJSON = false
	credits, err := r.build(creditReq, sel, fetched)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Kind:        KindWorkflow,
		Resolution:  sel.res,
		Targets:     sel.targets,
		Fetched:     fetched,
		MappingPath: dir.MappingPath,
		Warnings:    sel.warnings,
		Cascade:     cascade.Cascade,
		Credits:     credits.Credits,
		Parts:       []*Outcome{dir, cascade, credits},
	}
	out.Status = cascade.Status
	for _, p := range out.Parts {
		out.Files = append(out.Files, p.Files...)
	}
	return out, nil
}
