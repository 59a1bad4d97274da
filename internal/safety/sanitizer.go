// Package safety redacts secrets out of captured agent stdout/stderr
// before the supervisor truncates and hands output to the store, so a
// leaked API key never reaches task_events, the audit log, or an IPC
// broadcast.
package safety

import (
	"regexp"
)

// Warning describes a secret-looking match found in agent output.
type Warning struct {
	Pattern string // human description of what matched
	Sample  string // first few chars of the match, truncated, for logging
}

// Redactor scans and redacts secret-shaped substrings in captured
// process output.
type Redactor struct{}

// NewRedactor creates a Redactor.
func NewRedactor() *Redactor {
	return &Redactor{}
}

type leakPattern struct {
	re   *regexp.Regexp
	desc string
}

var leakPatterns = []leakPattern{
	{
		re:   regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
		desc: "API key",
	},
	{
		re:   regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`),
		desc: "Bearer token",
	},
	{
		re:   regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
		desc: "Google API key",
	},
	{
		re:   regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		desc: "OpenAI-shaped secret key",
	},
	{
		re:   regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{30,}`),
		desc: "GitHub token",
	},
	{
		re:   regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`),
		desc: "private key",
	},
	{
		re:   regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*"?[^\s"]{8,}"?`),
		desc: "password",
	},
}

// Scan reports every secret-shaped match in output without modifying it.
func (r *Redactor) Scan(output string) []Warning {
	if output == "" {
		return nil
	}
	var warnings []Warning
	for _, pat := range leakPatterns {
		matches := pat.re.FindAllString(output, 3)
		for _, match := range matches {
			sample := match
			if len(sample) > 20 {
				sample = sample[:17] + "..."
			}
			warnings = append(warnings, Warning{Pattern: pat.desc, Sample: sample})
		}
	}
	return warnings
}

// Redact replaces every secret-shaped match with a fixed placeholder.
func (r *Redactor) Redact(output string) string {
	if output == "" {
		return output
	}
	redacted := output
	for _, pat := range leakPatterns {
		redacted = pat.re.ReplaceAllString(redacted, "[REDACTED]")
	}
	return redacted
}
