// Package diag carries the findings of consistency scans (sweep, refcount
// validation, offline inspection) in a form the CLI can render or emit as JSON.
package diag

import (
	"fmt"
	"log/slog"
)

// Severity classifies how serious a finding is
type Severity int

const (
	SevInfo     Severity = iota // Informational
	SevWarning                  // Counter drift repaired in place
	SevError                    // Line state repaired, data may be lost
	SevCritical                 // Structural corruption, block or file unusable
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	case SevCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Level maps the severity to a slog level.
func (s Severity) Level() slog.Level {
	switch s {
	case SevInfo:
		return slog.LevelInfo
	case SevWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// MarshalText renders the severity name in JSON output.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Category classifies the kind of finding
type Category int

const (
	CatStructure Category = iota // markers, headers, shape echo
	CatRefcount                  // refcount vs active flag
	CatRegister                  // free list vs bitvector
	CatChain                     // block chain membership
	CatCounter                   // declared vs reconstructed counts
)

func (c Category) String() string {
	switch c {
	case CatStructure:
		return "STRUCTURE"
	case CatRefcount:
		return "REFCOUNT"
	case CatRegister:
		return "REGISTER"
	case CatChain:
		return "CHAIN"
	case CatCounter:
		return "COUNTER"
	default:
		return "UNKNOWN"
	}
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// NoIndex marks an unknown aidx, bidx or slot.
const NoIndex = -1

// Diagnostic is a single finding.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`

	// Location
	File string `json:"file,omitempty"`
	Aidx int    `json:"aidx"`
	Bidx int    `json:"bidx"`
	Slot int    `json:"slot"`

	Issue    string `json:"issue"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Repaired bool   `json:"repaired,omitempty"`
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("[%s] %s aidx=%d bidx=%d slot=%d: %s", d.Severity, d.Category, d.Aidx, d.Bidx, d.Slot, d.Issue)
	if d.Expected != nil || d.Actual != nil {
		s += fmt.Sprintf(" (expected %v, actual %v)", d.Expected, d.Actual)
	}
	if d.Repaired {
		s += " [repaired]"
	}
	return s
}

// LogAttrs returns the finding as slog key-value pairs.
func (d Diagnostic) LogAttrs() []any {
	attrs := []any{
		"severity", d.Severity.String(),
		"category", d.Category.String(),
		"aidx", d.Aidx, "bidx", d.Bidx, "slot", d.Slot,
	}
	if d.File != "" {
		attrs = append(attrs, "file", d.File)
	}
	if d.Expected != nil || d.Actual != nil {
		attrs = append(attrs, "expected", d.Expected, "actual", d.Actual)
	}
	if d.Repaired {
		attrs = append(attrs, "repaired", true)
	}
	return attrs
}

// Report accumulates findings.
type Report struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Add appends d.
func (r *Report) Add(d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
}

// Merge appends every finding of o.
func (r *Report) Merge(o *Report) {
	if o != nil {
		r.Diagnostics = append(r.Diagnostics, o.Diagnostics...)
	}
}

// Count returns the number of findings at severity s.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Severity == s {
			n++
		}
	}
	return n
}

// Worst returns the highest severity present, or SevInfo for an empty report.
func (r *Report) Worst() Severity {
	w := SevInfo
	for _, d := range r.Diagnostics {
		if d.Severity > w {
			w = d.Severity
		}
	}
	return w
}

// Empty reports whether no findings were recorded.
func (r *Report) Empty() bool { return len(r.Diagnostics) == 0 }
