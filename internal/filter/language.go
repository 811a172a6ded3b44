// Package filter implements the ranking/filtering stage of the search
// pipeline: LanguagePriorityFilter, ResultsPerQualityFilter and the final
// Ranker. LanguagePriorityFilter sorts by a language group derived from
// title patterns first, falling back to the parsed languages field.
package filter

import (
	"regexp"
	"sort"
	"strings"

	"github.com/beluchon/stream-fusion/internal/model"
)

// frenchPatterns mirrors the original's FRENCH_PATTERNS constant: a regex
// per recognized language tag, checked against raw_title in order.
var frenchPatterns = []struct {
	lang    string
	pattern *regexp.Regexp
}{
	{"VFF", regexp.MustCompile(`(?i)\bVFF\b`)},
	{"VOF", regexp.MustCompile(`(?i)\bVOF\b`)},
	{"VFI", regexp.MustCompile(`(?i)\bVFI\b`)},
	{"VF2", regexp.MustCompile(`(?i)\bVF2\b`)},
	{"VFQ", regexp.MustCompile(`(?i)\bVFQ\b`)},
	{"VOSTFR", regexp.MustCompile(`(?i)\bVOSTFR\b`)},
	{"VQ", regexp.MustCompile(`(?i)\bVQ\b`)},
	{"FRENCH", regexp.MustCompile(`(?i)\bFRENCH\b`)},
}

var languagePriorityGroups = map[int][]string{
	1: {"VFF", "VOF", "VFI"},
	2: {"VF2", "VFQ"},
	3: {"VOSTFR"},
	4: {"VQ", "FRENCH"},
}

var languagePriorityMap = func() map[string]int {
	m := make(map[string]int)
	for priority, langs := range languagePriorityGroups {
		for _, l := range langs {
			m[l] = priority
		}
	}
	return m
}()

var shortLangCode = map[string]string{
	"fr":     "FRENCH",
	"vff":    "VFF",
	"vf":     "FRENCH",
	"vostfr": "VOSTFR",
	"multi":  "VFF",
	"voi":    "VOF",
	"vfi":    "VFI",
	"vf2":    "VF2",
	"vfq":    "VFQ",
}

// LanguagePriorityFilter stably sorts items by a priority derived from
// raw_title patterns, falling back to the parsed languages field; items
// matching nothing receive group 999.
type LanguagePriorityFilter struct{}

func (LanguagePriorityFilter) Apply(items []*model.TorrentItem) []*model.TorrentItem {
	for _, item := range items {
		item.LanguagePriority = languagePriority(item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LanguagePriority < items[j].LanguagePriority
	})
	return items
}

func languagePriority(item *model.TorrentItem) int {
	if lang := detectLanguageFromTitle(item.RawTitle); lang != "" {
		if p, ok := languagePriorityMap[lang]; ok {
			return p
		}
		return 998
	}
	if len(item.Languages) == 0 {
		return 999
	}
	best := 999
	for _, l := range item.Languages {
		code, ok := shortLangCode[strings.ToLower(l)]
		if !ok {
			continue
		}
		if p, ok := languagePriorityMap[code]; ok && p < best {
			best = p
		}
	}
	return best
}

func detectLanguageFromTitle(title string) string {
	if title == "" {
		return ""
	}
	for _, p := range frenchPatterns {
		if p.pattern.MatchString(title) {
			return p.lang
		}
	}
	return ""
}
