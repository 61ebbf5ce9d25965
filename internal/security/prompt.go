package security

import (
	"regexp"
	"strings"
	"unicode"
)

// injectionPatterns groups the detection expressions by attack family.
// The set is fixed at build time, so compilation failures are programmer
// errors and MustCompile is the right tool.
var injectionPatterns = []struct {
	family string
	exprs  []string
}{
	{"override", []string{
		`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
		`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`,
		`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`,
		`(?i)override\s+(all\s+)?(previous|above|prior)\s+(instructions?|rules?)`,
	}},
	{"roleplay", []string{
		`(?i)^(pretend|act|behave|imagine)\s+(you\s+are|to\s+be|as\s+if|like)`,
		`(?i)^you\s+are\s+now\s+a`,
		`(?i)^from\s+now\s+on,?\s+you\s+(are|will|must)`,
	}},
	{"fake instruction", []string{
		`(?i)^\s*(important|critical|urgent|system)\s*:\s*`,
		`(?i)^new\s+(instruction|task|rule)\s*:`,
		`(?i)^admin\s*(mode|override|command)\s*:`,
	}},
	{"delimiter escape", []string{
		`(?i)\]\s*\[\s*(system|assistant|instruction)`,
		`(?i)</?(system|instruction|prompt)>`,
		`(?i)---+\s*(system|new\s+instruction)`,
	}},
	{"jailbreak", []string{
		`(?i)do\s+anything\s+now`,
		`(?i)jailbreak`,
		`(?i)bypass\s+(safety|filter|restrictions?)`,
	}},
}

// PromptInjectionResult reports what the validator found in one input.
type PromptInjectionResult struct {
	Safe     bool     // no patterns matched
	Patterns []string // the expressions that matched, empty when safe
}

// PromptValidator flags text that tries to smuggle instructions into a
// model prompt. The answer pipeline screens every retrieved passage with
// it: indexed documents are untrusted, and a document carrying "ignore
// previous instructions" is an attack on the answer, not content.
//
// Pattern matching is a coarse net. It catches the common families above;
// it does not catch paraphrases or homoglyph substitutions (Cyrillic
// lookalikes for Latin letters), which would need a Unicode confusables
// table. Treat a pass as "nothing obvious", not "clean".
type PromptValidator struct {
	patterns []*regexp.Regexp
}

// NewPromptValidator compiles the built-in pattern set.
func NewPromptValidator() *PromptValidator {
	var compiled []*regexp.Regexp
	for _, g := range injectionPatterns {
		for _, expr := range g.exprs {
			compiled = append(compiled, regexp.MustCompile(expr))
		}
	}
	return &PromptValidator{patterns: compiled}
}

// Validate normalizes the input and runs every pattern over it, returning
// all expressions that matched.
func (v *PromptValidator) Validate(input string) PromptInjectionResult {
	normalized := normalizeInput(input)

	var detected []string
	for _, re := range v.patterns {
		if re.MatchString(normalized) {
			detected = append(detected, re.String())
		}
	}

	return PromptInjectionResult{
		Safe:     len(detected) == 0,
		Patterns: detected,
	}
}

// IsSafe reports whether Validate finds nothing.
func (v *PromptValidator) IsSafe(input string) bool {
	return v.Validate(input).Safe
}

// normalizeInput strips the evasion tricks the patterns cannot express:
// zero-width and combining characters vanish, and every run of whitespace
// becomes a single space, so "Ig(U+200B)nore   previous" matches the same
// as "Ignore previous".
func normalizeInput(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Mn, r):
			return -1
		case unicode.IsSpace(r):
			return ' '
		default:
			return r
		}
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}
