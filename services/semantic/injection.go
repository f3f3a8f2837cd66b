package semantic

import (
	"regexp"
	"sort"
)

// ReasonAuditorSteering is reported when masked text carries instructions
// aimed at the auditor model. Such text is never sent out.
const ReasonAuditorSteering = "auditor_steering_suspected"

// SteeringKind classifies text that tries to influence the auditor
type SteeringKind string

const (
	SteeringOverride   SteeringKind = "instruction_override"
	SteeringRole       SteeringKind = "role_manipulation"
	SteeringVerdict    SteeringKind = "verdict_forgery"
	SteeringDelimiter  SteeringKind = "delimiter_attack"
	SteeringPromptLeak SteeringKind = "system_prompt_leak"
)

var steeringPatterns = map[SteeringKind][]*regexp.Regexp{
	SteeringOverride: {
		regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+|any\s+)?(previous|prior|above|earlier|system)\s+(instructions?|prompts?|rules|commands?)`),
		regexp.MustCompile(`(?i)\b(ignorera|glöm)\s+(alla\s+)?(tidigare|föregående)\s+(instruktioner|regler)`),
	},
	SteeringRole: {
		regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\b`),
		regexp.MustCompile(`(?i)\b(pretend|act)\s+(to\s+be|as\s+if|as)\s+(a|an|you)\b`),
		regexp.MustCompile(`(?i)\bfrom\s+now\s+on,?\s+you\b`),
	},
	SteeringVerdict: {
		regexp.MustCompile(`(?i)"?semantic_risk"?\s*[:=]\s*(false|true)`),
		regexp.MustCompile(`(?i)\b(answer|respond|reply|return|output)\s+(with\s+)?(only\s+)?["']?(false|no\s+risk)`),
	},
	SteeringDelimiter: {
		regexp.MustCompile(`(?i)(\[/?(SYSTEM|ASSISTANT|INST)\]|<\|(system|user|assistant|im_start|im_end|end)\|>)`),
		regexp.MustCompile(`(?im)^\s*###\s*(system|assistant|instruction)`),
	},
	SteeringPromptLeak: {
		regexp.MustCompile(`(?i)\b(show|print|reveal|repeat)\s+(me\s+)?(your|the)\s+(system|original|hidden)\s+(prompt|instructions?)`),
	},
}

// DetectSteering returns the kinds of auditor steering found in text,
// sorted and without duplicates
func DetectSteering(text string) []SteeringKind {
	var kinds []SteeringKind
	for kind, patterns := range steeringPatterns {
		for _, p := range patterns {
			if p.MatchString(text) {
				kinds = append(kinds, kind)
				break
			}
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
