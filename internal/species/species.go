// Package species resolves user-typed bird names against the server's
// canonical species list.
//
// Canonical entries have the form "Scientific name_Common Name", e.g.
// "Troglodytes troglodytes_Eurasian Wren". Lookups combine Double Metaphone
// phonetic encoding (to survive misspellings that sound right) with
// Jaro-Winkler string similarity for ranking. A query matches an entry when
// any of its tokens phonetically overlaps a token of the entry's common or
// scientific name; among those candidates the highest Jaro-Winkler score
// wins. When nothing overlaps phonetically, a stricter pure-similarity pass
// runs as a fallback.
package species

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Entry is one species from the canonical list.
type Entry struct {
	// Canonical is the full "Scientific_Common" form the server expects in
	// species settings.
	Canonical string

	Scientific string
	Common     string
}

// Match is one ranked lookup result.
type Match struct {
	Entry Entry
	Score float64
}

// Option configures an [Index].
type Option func(*Index)

// WithPhoneticThreshold sets the minimum similarity for phonetically matched
// entries. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(ix *Index) { ix.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for the pure-similarity
// fallback used when no entry matches phonetically. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(ix *Index) { ix.fuzzyThreshold = threshold }
}

// Index is a searchable species list. It is read-only after construction and
// safe for concurrent use.
type Index struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	entries           []indexed
}

type indexed struct {
	entry  Entry
	tokens []string
	full   string              // lowercased "scientific common"
	codes  map[string]struct{} // Double Metaphone codes of all tokens
}

// NewIndex builds an Index from canonical "Scientific_Common" entries.
// Malformed entries (no underscore) are indexed under their full text so a
// sloppy server list still resolves.
func NewIndex(canonical []string, opts ...Option) *Index {
	ix := &Index{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(ix)
	}

	for _, raw := range canonical {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		e := Entry{Canonical: raw}
		if sci, common, ok := strings.Cut(raw, "_"); ok {
			e.Scientific = sci
			e.Common = common
		} else {
			e.Common = raw
		}

		full := strings.ToLower(strings.TrimSpace(e.Scientific + " " + e.Common))
		tokens := strings.Fields(full)
		ix.entries = append(ix.entries, indexed{
			entry:  e,
			tokens: tokens,
			full:   full,
			codes:  metaphoneCodes(tokens),
		})
	}
	return ix
}

// Len returns the number of indexed species.
func (ix *Index) Len() int { return len(ix.entries) }

// Search returns up to limit entries matching query, best first. A limit of
// zero or less means no cap. An empty query returns nil.
func (ix *Index) Search(query string, limit int) []Match {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return nil
	}
	queryTokens := strings.Fields(queryLower)
	queryCodes := metaphoneCodes(queryTokens)

	var phonetic, fuzzy []Match
	for _, ie := range ix.entries {
		score := similarity(queryTokens, ie.tokens, queryLower, ie.full)
		if codesOverlap(queryCodes, ie.codes) {
			if score >= ix.phoneticThreshold {
				phonetic = append(phonetic, Match{Entry: ie.entry, Score: score})
			}
		} else if score >= ix.fuzzyThreshold {
			fuzzy = append(fuzzy, Match{Entry: ie.entry, Score: score})
		}
	}

	// Phonetic candidates outrank pure-similarity ones; fall back only when
	// nothing sounded alike.
	matches := phonetic
	if len(matches) == 0 {
		matches = fuzzy
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Resolve returns the single best match for query, or ok=false when nothing
// clears the thresholds.
func (ix *Index) Resolve(query string) (Entry, bool) {
	matches := ix.Search(query, 1)
	if len(matches) == 0 {
		return Entry{}, false
	}
	return matches[0].Entry, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes (short or vowel-only words) are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score across full strings,
// space-stripped strings, and all token pairs. The pairwise pass lets a
// single typed word ("wren") score against one word of a longer name.
func similarity(queryTokens, entryTokens []string, queryFull, entryFull string) float64 {
	score := matchr.JaroWinkler(queryFull, entryFull, false)

	if len(queryTokens) > 1 || len(entryTokens) > 1 {
		joined1 := strings.Join(queryTokens, "")
		joined2 := strings.Join(entryTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	for _, qt := range queryTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(qt, et, false); s > score {
				score = s
			}
		}
	}
	return score
}
