// Package sections splits long-form model output into sections at
// machine-recognizable delimiter lines.
package sections

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	metrics "github.com/aixgo-dev/composer/pkg/observability"
)

// Pattern is a delimiter recognizer. The regexp must capture the section
// number and title as its first and second groups.
type Pattern struct {
	Label string
	re    *regexp.Regexp
}

// NewPattern compiles a delimiter pattern
func NewPattern(label, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile %s pattern: %w", label, err)
	}
	if re.NumSubexp() < 2 {
		return Pattern{}, fmt.Errorf("%s pattern must capture number and title", label)
	}
	return Pattern{Label: label, re: re}, nil
}

// MustPattern is NewPattern for package-level patterns
func MustPattern(label, expr string) Pattern {
	p, err := NewPattern(label, expr)
	if err != nil {
		panic(err)
	}
	return p
}

var (
	// Microcycle matches "***** MICROCYCLE 1: Base Building *****"
	Microcycle = MustPattern("microcycle", `\*{5}\s*MICROCYCLE\s+(\d+)\s*:\s*(.*?)\s*\*{5}`)

	// Mesocycle matches "--- MESOCYCLE 1: Hypertrophy ---"
	Mesocycle = MustPattern("mesocycle", `-{3}\s*MESOCYCLE\s+(\d+)\s*:\s*(.*?)\s*-{3}`)
)

// Header is a parsed delimiter
type Header struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// Extract returns the trimmed text between consecutive delimiters, the last
// section running to the end of doc. Text before the first delimiter is
// dropped. When doc has no delimiter the result is empty and a warning is
// logged.
func Extract(doc string, p Pattern) []string {
	matches := p.re.FindAllStringIndex(doc, -1)
	if len(matches) == 0 {
		metrics.RecordSectionExtraction(p.Label, "empty")
		slog.Warn("no section delimiters found", "pattern", p.Label, "length", len(doc))
		return []string{}
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		end := len(doc)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		out[i] = strings.TrimSpace(doc[m[1]:end])
	}
	metrics.RecordSectionExtraction(p.Label, "ok")
	return out
}

// ExtractHeaders returns the number and title of every delimiter in doc
func ExtractHeaders(doc string, p Pattern) []Header {
	matches := p.re.FindAllStringSubmatch(doc, -1)
	headers := make([]Header, 0, len(matches))
	for _, m := range matches {
		n, _ := strconv.Atoi(m[1])
		headers = append(headers, Header{Number: n, Title: strings.TrimSpace(m[2])})
	}
	return headers
}

// Validation reports whether a declared section count matches
type Validation struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

// ValidateCount compares the count a model declared with the sections
// actually extracted. A mismatch is reported, not raised.
func ValidateCount(label string, declared int, sections []string) Validation {
	if declared == len(sections) {
		return Validation{IsValid: true}
	}
	return Validation{
		Error: fmt.Sprintf("declared %d %ss but extracted %d", declared, label, len(sections)),
	}
}
