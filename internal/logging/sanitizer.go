package logging

import (
	"regexp"
)

// Sanitizer redacts secrets from log output.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Generated admin tokens
		`lw_[a-f0-9]{32}`,
		// Authorization headers
		`(?i)bearer\s+[a-zA-Z0-9._~+/-]{8,}=*`,
		// Admin token settings in env or query form
		`(?i)admin[_-]?token["'\s:=]+[^\s"'&]{8,}`,
		// GitHub tokens
		`gh[pousr]_[A-Za-z0-9]{36}`,
		// AWS access key ids
		`AKIA[0-9A-Z]{16}`,
		// Generic secrets
		`(?i)(secret|password|token)["'\s:=]+[^\s"'&]{8,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts every pattern match in input.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}

// AddLiteral redacts an exact value, such as the configured admin token.
func (s *Sanitizer) AddLiteral(value string) {
	if len(value) < 4 {
		return
	}
	s.patterns = append(s.patterns, regexp.MustCompile(regexp.QuoteMeta(value)))
}
