package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dhcgn/apptrack/model"
)

// Tristate is a yes/no filter that can also be left open.
type Tristate int

const (
	Any Tristate = iota
	Yes
	No
)

// ParseTristate accepts "", "any", "all", "yes", "true", "no" and "false".
func ParseTristate(raw string) (Tristate, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "any", "all":
		return Any, nil
	case "yes", "true", "y":
		return Yes, nil
	case "no", "false", "n":
		return No, nil
	default:
		return Any, fmt.Errorf("expected yes, no or any, got %q", raw)
	}
}

func (t Tristate) match(v bool) bool {
	switch t {
	case Yes:
		return v
	case No:
		return !v
	default:
		return true
	}
}

// Options captures the list filtering configuration. Empty fields match everything.
type Options struct {
	Search       string
	Status       model.Status
	Month        string // YYYY-MM of AppliedOn
	HasDocuments Tristate
	Responded    Tristate
	Include      []string
	Exclude      []string
}

// Filter holds the compiled criteria for selecting entities.
type Filter struct {
	search    string
	status    model.Status
	month     time.Time
	documents Tristate
	responded Tristate
	patterns  *Patterns
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	f := &Filter{
		search:    strings.ToLower(strings.TrimSpace(opts.Search)),
		status:    opts.Status,
		documents: opts.HasDocuments,
		responded: opts.Responded,
	}
	if opts.Month != "" {
		month, err := time.ParseInLocation("2006-01", strings.TrimSpace(opts.Month), time.Local)
		if err != nil {
			return nil, fmt.Errorf("month must be YYYY-MM: %w", err)
		}
		f.month = month
	}
	patterns, err := CompilePatterns(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	f.patterns = patterns
	return f, nil
}

// Allows returns true if the entity passes every criterion.
func (f *Filter) Allows(e model.Entity) bool {
	if f.status != "" && e.Status != f.status {
		return false
	}
	if !f.month.IsZero() {
		y, m, _ := e.AppliedOn.Date()
		if e.AppliedOn.IsZero() || y != f.month.Year() || m != f.month.Month() {
			return false
		}
	}
	if !f.documents.match(len(e.Documents) > 0) || !f.responded.match(e.Status.Responded()) {
		return false
	}
	if f.search != "" {
		hay := strings.ToLower(e.Company + "\n" + e.Position + "\n" + e.Notes)
		if !strings.Contains(hay, f.search) {
			return false
		}
	}
	return f.patterns.Allows(e.Company, e.Position)
}

// Apply returns the entities that pass, in their original order.
func (f *Filter) Apply(entities []model.Entity) []model.Entity {
	out := make([]model.Entity, 0, len(entities))
	for _, e := range entities {
		if f.Allows(e) {
			out = append(out, e)
		}
	}
	return out
}

var errMutuallyExclusive = errors.New("include and exclude filters are mutually exclusive")

// Patterns is an allow-list or a block-list of regular expressions.
type Patterns struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// CompilePatterns compiles include and exclude expressions; using both is an error.
func CompilePatterns(include, exclude []string) (*Patterns, error) {
	in, err := compile(include)
	if err != nil {
		return nil, fmt.Errorf("compile include pattern: %w", err)
	}
	ex, err := compile(exclude)
	if err != nil {
		return nil, fmt.Errorf("compile exclude pattern: %w", err)
	}
	if len(in) > 0 && len(ex) > 0 {
		return nil, errMutuallyExclusive
	}
	return &Patterns{include: in, exclude: ex}, nil
}

func (p *Patterns) Active() bool {
	return p != nil && (len(p.include) > 0 || len(p.exclude) > 0)
}

// Allows reports whether any of texts matches the allow-list, or none
// matches the block-list.
func (p *Patterns) Allows(texts ...string) bool {
	if !p.Active() {
		return true
	}
	if len(p.include) > 0 {
		for _, text := range texts {
			if matchAny(p.include, text) {
				return true
			}
		}
		return false
	}
	for _, text := range texts {
		if matchAny(p.exclude, text) {
			return false
		}
	}
	return true
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
