// Package resolver turns email addresses into the API keys the analytics
// service filters on. The service has no email filter, so every report
// starts here.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blackwell-systems/usagewatch/internal/analytics"
	"github.com/samber/lo"
)

// ErrDirectoryUnavailable wraps any failure to obtain the directory.
var ErrDirectoryUnavailable = errors.New("user directory unavailable")

// NoteNoMatch is recorded for requested emails absent from the directory.
const NoteNoMatch = "no directory match"

// Directory is the part of analytics.Service the resolver needs.
type Directory interface {
	Directory(ctx context.Context, r analytics.DateRange) (analytics.DirectoryResult, error)
}

// MissingEmail is a requested email that resolved to nothing.
type MissingEmail struct {
	Email string `json:"email"`
	Note  string `json:"note"`
	// Similar lists directory emails containing the local part of Email.
	Similar []string `json:"similar,omitempty"`
}

// Conflict is an identifier the directory reported for more than one email.
type Conflict struct {
	Identifier string   `json:"api_key"`
	Emails     []string `json:"emails"`
}

// Resolution is the outcome of resolving a set of emails.
type Resolution struct {
	// Emails lists resolved emails in request order (directory order when
	// no emails were requested), using the directory's spelling.
	Emails []string
	// ByEmail maps each resolved email to its identifiers, first seen first.
	ByEmail map[string][]string
	// Owners maps each identifier to its owner label. Conflicting
	// identifiers carry every email, sorted and joined by ";".
	Owners    map[string]string
	Missing   []MissingEmail
	Conflicts []Conflict
}

// Identifiers returns every resolved identifier in email order without
// duplicates.
func (r *Resolution) Identifiers() []string {
	var ids []string
	for _, email := range r.Emails {
		ids = append(ids, r.ByEmail[email]...)
	}
	return lo.Uniq(ids)
}

// Owner returns the owner label for id, or "" when unknown.
func (r *Resolution) Owner(id string) string {
	if r == nil {
		return ""
	}
	return r.Owners[id]
}

// Resolver resolves emails against the service directory.
type Resolver struct {
	dir Directory
}

// New returns a Resolver backed by dir.
func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve queries the directory once for r and returns identifiers for the
// requested emails. An empty request resolves every user in the directory.
// Unknown emails are listed in Missing; they are not an error.
func (res *Resolver) Resolve(ctx context.Context, emails []string, r analytics.DateRange) (*Resolution, error) {
	result, err := res.dir.Directory(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return FromEntries(result.Entries, emails), nil
}

// FromEntries builds a Resolution from directory entries, filtered to the
// requested emails. Entries with the same email and identifier collapse.
func FromEntries(entries []analytics.DirectoryEntry, emails []string) *Resolution {
	type account struct {
		email string
		ids   []string
	}
	accounts := make(map[string]*account)
	var order []string
	emailsByID := make(map[string][]string)

	for _, e := range entries {
		id := strings.TrimSpace(e.APIKey)
		email := strings.TrimSpace(e.Email)
		key := normalize(email)
		if id == "" || key == "" {
			continue
		}
		acct, ok := accounts[key]
		if !ok {
			acct = &account{email: email}
			accounts[key] = acct
			order = append(order, key)
		}
		if !lo.Contains(acct.ids, id) {
			acct.ids = append(acct.ids, id)
		}
		if !lo.Contains(emailsByID[id], acct.email) {
			emailsByID[id] = append(emailsByID[id], acct.email)
		}
	}

	requested := order
	spelled := make(map[string]string)
	if len(emails) > 0 {
		requested = nil
		for _, e := range emails {
			k := normalize(e)
			if k == "" {
				continue
			}
			if _, seen := spelled[k]; !seen {
				spelled[k] = strings.TrimSpace(e)
				requested = append(requested, k)
			}
		}
	}

	out := &Resolution{
		ByEmail: make(map[string][]string),
		Owners:  make(map[string]string),
	}
	for _, key := range requested {
		acct, ok := accounts[key]
		if !ok {
			out.Missing = append(out.Missing, MissingEmail{
				Email:   spelled[key],
				Note:    NoteNoMatch,
				Similar: similar(key, lo.Map(order, func(k string, _ int) string { return accounts[k].email })),
			})
			continue
		}
		out.Emails = append(out.Emails, acct.email)
		out.ByEmail[acct.email] = acct.ids
		for _, id := range acct.ids {
			owners := append([]string(nil), emailsByID[id]...)
			sort.Strings(owners)
			out.Owners[id] = strings.Join(owners, ";")
		}
	}

	var conflicted []string
	for id, owners := range emailsByID {
		if len(owners) > 1 {
			if _, wanted := out.Owners[id]; wanted {
				conflicted = append(conflicted, id)
			}
		}
	}
	sort.Strings(conflicted)
	for _, id := range conflicted {
		owners := append([]string(nil), emailsByID[id]...)
		sort.Strings(owners)
		out.Conflicts = append(out.Conflicts, Conflict{Identifier: id, Emails: owners})
	}
	return out
}

// Targets merges resolved identifiers with identifiers supplied directly.
// Resolved identifiers come first in email order, then raw identifiers in
// the order given; duplicates keep their first position.
func Targets(res *Resolution, raw []string) []string {
	var ids []string
	if res != nil {
		ids = res.Identifiers()
	}
	for _, id := range raw {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return lo.Uniq(ids)
}

// similar returns the known emails whose lowercase form contains the local
// part of key, sorted.
func similar(key string, known []string) []string {
	local, _, _ := strings.Cut(key, "@")
	if local == "" {
		return nil
	}
	var out []string
	for _, e := range known {
		if strings.Contains(strings.ToLower(e), local) {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
