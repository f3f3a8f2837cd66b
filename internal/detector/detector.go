// Package detector holds the deterministic pattern matchers used before
// masking (L0, counts only) and after masking (L2, pass/fail with reason
// codes). Both modes read the same pattern table.
package detector

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Detection represents a single matched span
type Detection struct {
	Category Category
	Value    string
	StartPos int
	EndPos   int
}

// VerificationOutcome is the result of a post-mask check
type VerificationOutcome struct {
	Passed   bool
	Failures []ReasonCode
}

// FailureStrings returns the failure reason codes as plain strings
func (o VerificationOutcome) FailureStrings() []string {
	out := make([]string, 0, len(o.Failures))
	for _, f := range o.Failures {
		out = append(out, string(f))
	}
	return out
}

// Detect counts matches per category. The text is not retained.
// Every category is present in the result, zero when nothing matched.
func Detect(text string) map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	for _, d := range FindAll(text) {
		counts[d.Category]++
	}
	return counts
}

// Verify checks masked text for residual identifying patterns.
// Any structured match fails; names fail only above NamePairThreshold.
func Verify(text string) VerificationOutcome {
	var failures []ReasonCode
	for _, sp := range structuredPatterns {
		for _, p := range sp.patterns {
			if p.MatchString(text) {
				failures = append(failures, reasonFor[sp.category])
				break
			}
		}
	}
	if len(NamePairs(text)) > NamePairThreshold {
		failures = append(failures, ReasonName)
	}
	return VerificationOutcome{
		Passed:   len(failures) == 0,
		Failures: failures,
	}
}

// FindAll returns every detection in the text, ordered by position.
// Overlapping matches within one category collapse to the earliest, longest span.
func FindAll(text string) []Detection {
	var detections []Detection
	for _, sp := range structuredPatterns {
		var spans []Detection
		for _, p := range sp.patterns {
			for _, m := range p.FindAllStringIndex(text, -1) {
				spans = append(spans, Detection{
					Category: sp.category,
					Value:    text[m[0]:m[1]],
					StartPos: m[0],
					EndPos:   m[1],
				})
			}
		}
		detections = append(detections, collapse(spans)...)
	}
	detections = append(detections, NamePairs(text)...)

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].StartPos < detections[j].StartPos
	})
	return detections
}

// NamePairs finds adjacent capitalized words separated only by whitespace.
// Pairs do not overlap: "Anna Maria Berg" yields a single pair.
func NamePairs(text string) []Detection {
	words := wordPattern.FindAllStringIndex(text, -1)
	var pairs []Detection
	for i := 0; i+1 < len(words); {
		a, b := words[i], words[i+1]
		if IsCapitalized(text[a[0]:a[1]]) &&
			IsCapitalized(text[b[0]:b[1]]) &&
			onlySpace(text[a[1]:b[0]]) {
			pairs = append(pairs, Detection{
				Category: CategoryName,
				Value:    text[a[0]:b[1]],
				StartPos: a[0],
				EndPos:   b[1],
			})
			i += 2
			continue
		}
		i++
	}
	return pairs
}

// NameRuns finds maximal runs of two or more adjacent capitalized words
// separated only by whitespace. Each run is returned word by word, so
// "Hej Anna Svensson" is a single run of three words.
func NameRuns(text string) [][]Detection {
	words := wordPattern.FindAllStringIndex(text, -1)
	var runs [][]Detection
	var current []Detection

	flush := func() {
		if len(current) >= 2 {
			runs = append(runs, current)
		}
		current = nil
	}

	for i, w := range words {
		word := text[w[0]:w[1]]
		if !IsCapitalized(word) {
			flush()
			continue
		}
		if len(current) > 0 && !onlySpace(text[words[i-1][1]:w[0]]) {
			flush()
		}
		current = append(current, Detection{Category: CategoryName, Value: word, StartPos: w[0], EndPos: w[1]})
	}
	flush()
	return runs
}

// IsCapitalized reports whether word is an uppercase letter followed by at
// least one lowercase letter and nothing else.
func IsCapitalized(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	for i, r := range word {
		if i == 0 {
			if !unicode.IsUpper(r) {
				return false
			}
			continue
		}
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}

func onlySpace(s string) bool {
	if s == "" {
		return false
	}
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}

// collapse drops spans that overlap an earlier kept span
func collapse(spans []Detection) []Detection {
	if len(spans) < 2 {
		return spans
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartPos != spans[j].StartPos {
			return spans[i].StartPos < spans[j].StartPos
		}
		return spans[i].EndPos > spans[j].EndPos
	})
	kept := spans[:1]
	for _, s := range spans[1:] {
		if s.StartPos < kept[len(kept)-1].EndPos {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}
