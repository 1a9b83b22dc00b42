package analyzer

import (
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// allDims lists every dimension in a fixed order for set collection.
var allDims = []Dimension{DimIdentifier, DimDate, DimHour, DimLanguage, DimIDE, DimModel}

// GroupBy folds facts by the given dimensions. Summaries come back sorted
// by key, so the output is the same for any ordering of facts. Grouping by
// no dimensions yields a single summary over everything.
func GroupBy(facts []Fact, dims ...Dimension) []Summary {
	type acc struct {
		key    []string
		count  int
		values map[string]int64
		sets   map[Dimension]map[string]struct{}
	}
	others := lo.Without(allDims, dims...)
	groups := make(map[string]*acc)

	for _, f := range facts {
		key := make([]string, len(dims))
		for i, d := range dims {
			key[i] = f.Dim(d)
		}
		id := strings.Join(key, "\x00")
		a, ok := groups[id]
		if !ok {
			a = &acc{
				key:    key,
				values: make(map[string]int64),
				sets:   make(map[Dimension]map[string]struct{}),
			}
			groups[id] = a
		}
		a.count++
		for m, v := range f.Values {
			a.values[m] += v
		}
		for _, d := range others {
			v := f.Dim(d)
			if v == "" {
				continue
			}
			if a.sets[d] == nil {
				a.sets[d] = make(map[string]struct{})
			}
			a.sets[d][v] = struct{}{}
		}
	}

	out := make([]Summary, 0, len(groups))
	for _, a := range groups {
		s := Summary{
			Dims:   dims,
			Key:    a.key,
			Count:  a.count,
			Values: a.values,
			Sets:   make(map[Dimension][]string, len(a.sets)),
		}
		for d, set := range a.sets {
			vals := lo.Keys(set)
			sort.Strings(vals)
			s.Sets[d] = vals
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return slices.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

// TotalOf folds every fact into one summary.
func TotalOf(facts []Fact) Summary {
	all := GroupBy(facts)
	if len(all) == 0 {
		return Summary{Values: map[string]int64{}, Sets: map[Dimension][]string{}}
	}
	return all[0]
}

// Index maps the first key value of each summary to the summary. It is
// meant for single-dimension groupings such as per-identifier tables.
func Index(summaries []Summary) map[string]Summary {
	return lo.SliceToMap(summaries, func(s Summary) (string, Summary) {
		return s.Key[0], s
	})
}

// RankBy returns summaries ordered by measure descending. Ties keep key
// order, so the ranking is deterministic.
func RankBy(summaries []Summary, measure string) []Summary {
	out := slices.Clone(summaries)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].Values[measure], out[j].Values[measure]
		if vi != vj {
			return vi > vj
		}
		return slices.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

// Top returns at most n summaries ranked by measure.
func Top(summaries []Summary, measure string, n int) []Summary {
	ranked := RankBy(summaries, measure)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Rate returns num/den, or 0 when den is 0.
func Rate(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Percent returns num/den as a percentage, or 0 when den is 0.
func Percent(num, den int64) float64 {
	return Rate(num, den) * 100
}
