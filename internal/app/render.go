package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/blackwell-systems/usagewatch/internal/analyzer"
	"github.com/blackwell-systems/usagewatch/internal/fetch"
	"github.com/blackwell-systems/usagewatch/internal/output"
	"github.com/blackwell-systems/usagewatch/internal/pipeline"
	"github.com/blackwell-systems/usagewatch/internal/resolver"
)

// displayLimit caps rows printed per terminal table. Files carry all rows.
const displayLimit = 10

// runOutput is the JSON-serializable summary of a run.
type runOutput struct {
	Command     string                   `json:"command"`
	Status      string                   `json:"status"`
	RunID       string                   `json:"run_id,omitempty"`
	StartDate   string                   `json:"start_date,omitempty"`
	EndDate     string                   `json:"end_date,omitempty"`
	Targets     int                      `json:"targets"`
	Missing     []resolver.MissingEmail  `json:"missing_emails,omitempty"`
	Empty       []string                 `json:"empty_identifiers,omitempty"`
	Skipped     []fetch.Skipped          `json:"skipped_identifiers,omitempty"`
	Warnings    []string                 `json:"warnings,omitempty"`
	MappingPath string                   `json:"mapping_file,omitempty"`
	Credits     *analyzer.CreditReport   `json:"credits,omitempty"`
	Activity    *analyzer.ActivityReport `json:"activity,omitempty"`
	Files       []string                 `json:"files"`
	Parts       []runOutput              `json:"parts,omitempty"`
}

func toRunOutput(out *pipeline.Outcome) runOutput {
	ro := runOutput{
		Command:     string(out.Kind),
		Status:      out.Status.String(),
		Targets:     len(out.Targets),
		Warnings:    out.Warnings,
		MappingPath: out.MappingPath,
		Credits:     out.Credits,
		Activity:    out.Activity,
		Files:       out.Files,
	}
	if ro.Files == nil {
		ro.Files = []string{}
	}
	if m := out.Manifest; m != nil {
		ro.RunID = m.RunID
		ro.StartDate = m.Start
		ro.EndDate = m.End
		ro.Missing = m.Missing
		ro.Empty = m.Empty
		ro.Skipped = m.Skipped
	}
	for _, p := range out.Parts {
		ro.Parts = append(ro.Parts, toRunOutput(p))
	}
	return ro
}

// render prints the outcome as JSON or as styled text.
func render(w io.Writer, out *pipeline.Outcome) error {
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toRunOutput(out))
	}
	if len(out.Parts) > 0 {
		for _, p := range out.Parts {
			renderOne(w, p)
		}
		return nil
	}
	renderOne(w, out)
	return nil
}

func renderOne(w io.Writer, out *pipeline.Outcome) {
	fmt.Fprintln(w, output.Section(fmt.Sprintf("%s report", out.Kind)))
	if out.Report != nil {
		fmt.Fprintln(w, output.KeyValue("Range", out.Report.Range.String()))
	}
	fmt.Fprintln(w, output.KeyValue("Status", statusText(out.Status)))
	fmt.Fprintln(w, output.KeyValue("API keys", output.Number(int64(len(out.Targets)))))
	if m := out.Manifest; m != nil {
		if len(m.Missing) > 0 {
			fmt.Fprintln(w, output.KeyValue("Unmatched emails", strconv.Itoa(len(m.Missing))))
		}
		if len(m.Empty) > 0 {
			fmt.Fprintln(w, output.KeyValue("No data in range", strconv.Itoa(len(m.Empty))))
		}
		if len(m.Skipped) > 0 {
			fmt.Fprintln(w, output.KeyValue("Skipped", output.StyleError.Render(strconv.Itoa(len(m.Skipped)))))
		}
	}
	fmt.Fprintln(w)

	owner := out.Resolution.Owner
	switch {
	case out.Commands != nil:
		renderCommands(w, out.Commands, owner)
	case out.Autocomplete != nil:
		renderAutocomplete(w, out.Autocomplete, owner)
	case out.Credits != nil:
		renderCredits(w, out.Credits)
	case out.Cascade != nil:
		renderCascade(w, out.Cascade)
	case out.Activity != nil:
		renderActivity(w, out.Activity, owner)
	}

	if out.MappingPath != "" {
		fmt.Fprintf(w, " Mapping saved to %s\n", output.StyleBold.Render(out.MappingPath))
	}
	if m := out.Manifest; m != nil {
		for _, miss := range m.Missing {
			if len(miss.Similar) > 0 {
				fmt.Fprintf(w, " %s %s not found; similar: %s\n", output.StyleWarning.Render("?"), miss.Email, strings.Join(miss.Similar, ", "))
			}
		}
	}
	for _, warn := range out.Warnings {
		fmt.Fprintf(w, " %s %s\n", output.StyleWarning.Render("!"), warn)
	}
	if m := out.Manifest; m != nil {
		for _, s := range m.Skipped {
			fmt.Fprintf(w, " %s %s\n", output.StyleError.Render("✗"), output.StyleMuted.Render(s.Err.Error()))
		}
	}
	if len(out.Files) > 0 {
		fmt.Fprintf(w, " %s\n", output.StyleMuted.Render(fmt.Sprintf("%d files written", len(out.Files))))
		for _, f := range out.Files {
			fmt.Fprintf(w, "   %s\n", output.StyleMuted.Render(f))
		}
	}
	fmt.Fprintln(w)
}

func statusText(s pipeline.Status) string {
	switch s {
	case pipeline.StatusPartial:
		return output.StyleWarning.Render(s.String())
	case pipeline.StatusNoData:
		return output.StyleMuted.Render(s.String())
	}
	return output.StyleSuccess.Render(s.String())
}

func renderCommands(w io.Writer, a *analyzer.CommandAnalysis, owner func(string) string) {
	fmt.Fprintln(w, output.KeyValue("Commands", output.Number(a.Total.Value(analyzer.MeasureCommands))))
	fmt.Fprintln(w, output.KeyValue("Acceptance", fmt.Sprintf("%.1f%%", analyzer.AcceptanceRate(a.Total))))
	fmt.Fprintln(w, output.KeyValue("Bytes added", output.Bytes(a.Total.Value(analyzer.MeasureBytesAdded))))
	fmt.Fprintln(w)

	tbl := output.NewTable("#", "Email", "Commands", "Accepted", "Bytes added", "Lines added")
	for i, s := range a.TopUsers {
		tbl.AddRow(
			strconv.Itoa(i+1),
			label(owner(s.Get(analyzer.DimIdentifier)), s.Get(analyzer.DimIdentifier)),
			output.Number(s.Value(analyzer.MeasureCommands)),
			fmt.Sprintf("%.1f%%", analyzer.AcceptanceRate(s)),
			output.Bytes(s.Value(analyzer.MeasureBytesAdded)),
			output.Number(s.Value(analyzer.MeasureLinesAdded)),
		)
	}
	if tbl.Len() > 0 {
		tbl.Fprint(w)
		fmt.Fprintln(w)
	}
}

func renderAutocomplete(w io.Writer, a *analyzer.AutocompleteAnalysis, owner func(string) string) {
	fmt.Fprintln(w, output.KeyValue("Acceptances", output.Number(a.Total.Value(analyzer.MeasureAcceptances))))
	fmt.Fprintln(w, output.KeyValue("Lines accepted", output.Number(a.Total.Value(analyzer.MeasureLinesAccepted))))
	fmt.Fprintln(w)

	tbl := output.NewTable("#", "Email", "Acceptances", "Lines", "Bytes")
	for i, s := range analyzer.Top(a.ByUser, analyzer.MeasureAcceptances, displayLimit) {
		tbl.AddRow(
			strconv.Itoa(i+1),
			label(owner(s.Get(analyzer.DimIdentifier)), s.Get(analyzer.DimIdentifier)),
			output.Number(s.Value(analyzer.MeasureAcceptances)),
			output.Number(s.Value(analyzer.MeasureLinesAccepted)),
			output.Bytes(s.Value(analyzer.MeasureBytesAccepted)),
		)
	}
	if tbl.Len() > 0 {
		tbl.Fprint(w)
		fmt.Fprintln(w)
	}
}

func renderCascade(w io.Writer, a *analyzer.CascadeAnalysis) {
	fmt.Fprintln(w, output.KeyValue("Prompts", output.Number(a.Total.Value(analyzer.MeasurePrompts))))
	fmt.Fprintln(w, output.KeyValue("Prompt credits", analyzer.FormatCredits(a.Total.Value(analyzer.MeasurePromptCredits))))
	fmt.Fprintln(w, output.KeyValue("Flex credits", analyzer.FormatCredits(a.Total.Value(analyzer.MeasureFlexCredits))))
	fmt.Fprintln(w)

	tbl := output.NewTable("Model", "Prompts", "Prompt credits", "Flex credits")
	for _, s := range analyzer.Top(a.ByModel, analyzer.MeasurePromptCredits, displayLimit) {
		tbl.AddRow(
			s.Get(analyzer.DimModel),
			output.Number(s.Value(analyzer.MeasurePrompts)),
			analyzer.FormatCredits(s.Value(analyzer.MeasurePromptCredits)),
			analyzer.FormatCredits(s.Value(analyzer.MeasureFlexCredits)),
		)
	}
	if tbl.Len() > 0 {
		tbl.Fprint(w)
		fmt.Fprintln(w)
	}
}

func renderCredits(w io.Writer, rep *analyzer.CreditReport) {
	fmt.Fprintln(w, output.KeyValue("Credit limit", rep.Limit.StringFixed(2)))
	for _, c := range rep.Counts {
		fmt.Fprintln(w, output.KeyValue("At "+c.Label, strconv.Itoa(c.Users)))
	}
	fmt.Fprintln(w)

	if len(rep.Flags) == 0 {
		fmt.Fprintf(w, " %s\n\n", output.StyleSuccess.Render("No users above a threshold"))
		return
	}
	tbl := output.NewTable("Email", "Credits", "Usage", "Threshold")
	for i, f := range rep.Flags {
		if i >= displayLimit {
			break
		}
		tbl.AddRow(
			label(f.Email, f.Identifier),
			f.PromptCredits.StringFixed(2),
			output.UsageBar(f.Percentage.InexactFloat64(), 20),
			f.Label,
		)
	}
	tbl.Fprint(w)
	fmt.Fprintln(w)
}

func renderActivity(w io.Writer, rep *analyzer.ActivityReport, owner func(string) string) {
	fmt.Fprintln(w, output.KeyValue("Active since", rep.Cutoff))
	fmt.Fprintln(w, output.KeyValue("Active", output.StyleSuccess.Render(strconv.Itoa(len(rep.Active)))))
	fmt.Fprintln(w, output.KeyValue("Inactive", output.StyleWarning.Render(strconv.Itoa(len(rep.Inactive)))))
	fmt.Fprintln(w)

	tbl := output.NewTable("Email", "State", "Last active", "Days ago")
	add := func(list []analyzer.UserActivity, state string) {
		for _, u := range list {
			days := "-"
			if u.DaysSince >= 0 {
				days = strconv.Itoa(u.DaysSince)
			}
			tbl.AddRow(label(owner(u.Identifier), u.Identifier), state, u.LastActive, days)
		}
	}
	add(rep.Active, output.StyleSuccess.Render("active"))
	add(rep.Inactive, output.StyleMuted.Render("inactive"))
	if tbl.Len() > 0 {
		tbl.Fprint(w)
		fmt.Fprintln(w)
	}
}

// label prefers an email and falls back to the masked API key.
func label(email, id string) string {
	if email != "" {
		return email
	}
	return analytics.MaskKey(id)
}
