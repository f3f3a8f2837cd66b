// Package anonymizer replaces identifying substrings with stable placeholder
// tokens and records the token to original value mapping.
//
// The mapping never leaves the process: callers hand it to the RAM mapping
// store and must not serialize it into any response.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/upb/privacy-shield/internal/detector"
	"go.uber.org/zap"
)

// ModelID identifies this masking engine in receipts
const ModelID = "local/regex-anonymizer-v1"

// DefaultMaxChars bounds the input accepted by Anonymize
const DefaultMaxChars = 50000

// Level is the masking aggressiveness. Higher levels mask more at the cost
// of more false positives.
type Level int

const (
	// LevelBalanced masks structured identifiers, addresses, organizations
	// and runs of two or more capitalized words once stop words are trimmed
	// from their ends.
	LevelBalanced Level = 0
	// LevelBroad masks whole capitalized runs, stop words included, and
	// long digit runs.
	LevelBroad Level = 1
	// LevelAggressive also masks lone capitalized words inside sentences
	// and every run of four or more digits.
	LevelAggressive Level = 2
)

var (
	// ErrInvalidInput is returned when the text cannot be processed at all
	ErrInvalidInput = errors.New("anonymizer: input is not valid UTF-8 text")

	// ErrInputTooLarge is returned when the text exceeds the configured limit
	ErrInputTooLarge = errors.New("anonymizer: input exceeds maximum length")

	// ErrNotAnonymized is returned in production mode when masking could not
	// guarantee an anonymized result
	ErrNotAnonymized = errors.New("anonymizer: anonymization could not be guaranteed")
)

// Request holds the inputs of one masking pass
type Request struct {
	Text           string
	EventID        string
	ProductionMode bool
	Level          Level
	Language       string
}

// MaskingResult is the output of one masking pass
type MaskingResult struct {
	CleanText    string
	Mapping      map[string]string
	IsAnonymized bool
	Entities     map[EntityType]int
}

// Config holds anonymizer configuration
type Config struct {
	MaxChars        int
	DefaultLanguage string
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxChars:        DefaultMaxChars,
		DefaultLanguage: "sv",
	}
}

// Anonymizer is the masking engine. It holds no per-call state and is safe
// for concurrent use.
type Anonymizer struct {
	config Config
	logger *zap.Logger
}

// New creates an Anonymizer
func New(config Config, logger *zap.Logger) *Anonymizer {
	if config.MaxChars <= 0 {
		config.MaxChars = DefaultMaxChars
	}
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "sv"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Anonymizer{config: config, logger: logger}
}

// span is a candidate substring to mask
type span struct {
	entity EntityType
	start  int
	end    int
}

// Anonymize masks req.Text at req.Level. Each call starts from an empty
// mapping, so repeated calls never share state.
func (a *Anonymizer) Anonymize(ctx context.Context, req Request) (*MaskingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(req.Text) {
		return nil, ErrInvalidInput
	}
	if n := utf8.RuneCountInString(req.Text); n > a.config.MaxChars {
		return nil, fmt.Errorf("%w: %d > %d characters", ErrInputTooLarge, n, a.config.MaxChars)
	}
	if req.Level < LevelBalanced {
		req.Level = LevelBalanced
	}
	language := req.Language
	if language == "" {
		language = a.config.DefaultLanguage
	}

	spans := a.collect(req.Text, req.Level, stopWordSet(language))
	spans = resolveOverlaps(spans)

	clean, mapping, entities := render(req.Text, spans)

	isAnonymized := residualFree(clean, mapping)
	if req.ProductionMode && !isAnonymized {
		a.logger.Warn("anonymization could not be guaranteed",
			zap.String("event_id", req.EventID),
			zap.Int("level", int(req.Level)),
			zap.Int("tokens_created", len(mapping)))
		return nil, ErrNotAnonymized
	}

	a.logger.Debug("anonymization completed",
		zap.String("event_id", req.EventID),
		zap.Int("level", int(req.Level)),
		zap.Bool("is_anonymized", isAnonymized),
		zap.Int("tokens_created", len(mapping)),
		zap.Int("original_length", len(req.Text)),
		zap.Int("anonymized_length", len(clean)))

	return &MaskingResult{
		CleanText:    clean,
		Mapping:      mapping,
		IsAnonymized: isAnonymized,
		Entities:     entities,
	}, nil
}

// collect gathers every candidate span for the level
func (a *Anonymizer) collect(text string, level Level, stop map[string]struct{}) []span {
	var spans []span

	for _, d := range detector.FindAll(text) {
		if d.Category == detector.CategoryName {
			continue
		}
		spans = append(spans, span{entity: entityForCategory[d.Category], start: d.StartPos, end: d.EndPos})
	}

	for _, p := range addressPatterns {
		spans = append(spans, groupSpans(p, text, EntityAddress)...)
	}
	spans = append(spans, groupSpans(organizationPattern, text, EntityOrganization)...)

	for _, run := range detector.NameRuns(text) {
		if level == LevelBalanced {
			run = trimStopWords(run, stop)
		}
		if len(run) < 2 {
			continue
		}
		spans = append(spans, span{entity: EntityPerson, start: run[0].StartPos, end: run[len(run)-1].EndPos})
	}

	if level >= LevelBroad {
		spans = append(spans, groupSpans(broadNumberPattern, text, EntityNumber)...)
	}

	if level >= LevelAggressive {
		spans = append(spans, loneNames(text, stop)...)
		spans = append(spans, groupSpans(anyNumberPattern, text, EntityNumber)...)
	}

	return spans
}

// groupSpans returns group 1 of each match when the pattern has one, else the whole match
func groupSpans(p *regexp.Regexp, text string, entity EntityType) []span {
	var spans []span
	for _, m := range p.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[0], m[1]
		if len(m) >= 4 && m[2] >= 0 {
			start, end = m[2], m[3]
		}
		spans = append(spans, span{entity: entity, start: start, end: end})
	}
	return spans
}

// loneNames finds capitalized words used inside a sentence and masks every
// occurrence of them, sentence openers included.
func loneNames(text string, stop map[string]struct{}) []span {
	words := wordPattern.FindAllStringIndex(text, -1)
	names := make(map[string]struct{})
	for _, w := range words {
		word := text[w[0]:w[1]]
		if !detector.IsCapitalized(word) {
			continue
		}
		if _, skip := stop[word]; skip {
			continue
		}
		if opensSentence(text, w[0]) {
			continue
		}
		names[word] = struct{}{}
	}

	var spans []span
	for _, w := range words {
		if _, ok := names[text[w[0]:w[1]]]; ok {
			spans = append(spans, span{entity: EntityPerson, start: w[0], end: w[1]})
		}
	}
	return spans
}

// opensSentence reports whether the word at pos is the first of a sentence or line
func opensSentence(text string, pos int) bool {
	before := strings.TrimRightFunc(text[:pos], unicode.IsSpace)
	if before == "" {
		return true
	}
	if strings.Contains(text[len(before):pos], "\n") {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(before)
	return strings.ContainsRune(".!?:;\"'(", last)
}

// trimStopWords drops stop words from both ends of a name run, so a
// greeting or weekday never hides the name that follows it
func trimStopWords(run []detector.Detection, stop map[string]struct{}) []detector.Detection {
	for len(run) > 0 {
		if _, ok := stop[run[0].Value]; !ok {
			break
		}
		run = run[1:]
	}
	for len(run) > 0 {
		if _, ok := stop[run[len(run)-1].Value]; !ok {
			break
		}
		run = run[:len(run)-1]
	}
	return run
}

// resolveOverlaps keeps the earliest span, preferring longer spans and then
// higher priority entity types, and drops anything overlapping a kept span.
func resolveOverlaps(spans []span) []span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		if li, lj := spans[i].end-spans[i].start, spans[j].end-spans[j].start; li != lj {
			return li > lj
		}
		return priority(spans[i].entity) < priority(spans[j].entity)
	})

	kept := make([]span, 0, len(spans))
	for _, s := range spans {
		if s.end <= s.start {
			continue
		}
		if len(kept) > 0 && s.start < kept[len(kept)-1].end {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// render substitutes spans left to right. Identical originals of the same
// entity type share one token.
func render(text string, spans []span) (string, map[string]string, map[EntityType]int) {
	mapping := make(map[string]string)
	entities := make(map[EntityType]int)
	assigned := make(map[string]string)
	counters := make(map[EntityType]int)

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, s := range spans {
		value := text[s.start:s.end]
		key := string(s.entity) + "\x00" + value

		token, ok := assigned[key]
		if !ok {
			token = nextToken(text, s.entity, counters)
			assigned[key] = token
			mapping[token] = strings.TrimSpace(value)
		}
		entities[s.entity]++

		b.WriteString(text[cursor:s.start])
		b.WriteString(token)
		cursor = s.end
	}
	b.WriteString(text[cursor:])

	return b.String(), mapping, entities
}

// nextToken returns the next unused placeholder for entity. Placeholders
// that already occur literally in the input are skipped.
func nextToken(text string, entity EntityType, counters map[EntityType]int) string {
	p := placeholders[entity]
	for {
		counters[entity]++
		var suffix string
		if p.letters {
			suffix = letterSequence(counters[entity])
		} else {
			suffix = fmt.Sprintf("%d", counters[entity])
		}
		token := "[" + p.prefix + "_" + suffix + "]"
		if !strings.Contains(text, token) {
			return token
		}
	}
}

// letterSequence renders n (1-based) as A..Z, AA..AZ, BA...
func letterSequence(n int) string {
	var out []byte
	for n > 0 {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

// residualFree reports whether no original value survives in the clean text
func residualFree(clean string, mapping map[string]string) bool {
	for _, original := range mapping {
		if original != "" && strings.Contains(clean, original) {
			return false
		}
	}
	return true
}
