package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zricethezav/gitleaks/v8/detect"
)

var redactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "patternd",
		Subsystem: "secrets",
		Name:      "redactions_total",
		Help:      "Credentials redacted from learned instructions, by rule",
	},
	[]string{"rule"},
)

// Config configures a Scrubber.
type Config struct {
	// Enabled turns scrubbing on. A disabled scrubber returns text unchanged.
	Enabled bool

	// Gitleaks adds the gitleaks default ruleset to DefaultRules.
	Gitleaks bool

	// Rules replaces DefaultRules when non-empty.
	Rules []Rule

	// AllowList holds patterns whose matches are never redacted.
	AllowList []string
}

// DefaultConfig enables the built-in rules and gitleaks.
func DefaultConfig() Config {
	return Config{Enabled: true, Gitleaks: true}
}

// Finding is one redacted credential. The value itself is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Text     string    `json:"text"`
	Findings []Finding `json:"findings,omitempty"`
}

// Redacted reports whether anything was removed.
func (r Result) Redacted() bool {
	return len(r.Findings) > 0
}

// RuleIDs returns the distinct rules that matched, sorted.
func (r Result) RuleIDs() []string {
	seen := map[string]struct{}{}
	var ids []string
	for _, f := range r.Findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		ids = append(ids, f.RuleID)
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	id string
	re *regexp.Regexp
}

// Scrubber redacts credentials. It is safe for concurrent use.
type Scrubber struct {
	enabled bool
	rules   []compiledRule
	allow   []*regexp.Regexp

	// gitleaks detectors keep per-scan state
	mu       sync.Mutex
	detector *detect.Detector
}

// New compiles cfg into a Scrubber.
func New(cfg Config) (*Scrubber, error) {
	s := &Scrubber{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return s, nil
	}

	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	for _, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %q: id is required", r.Pattern)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		s.rules = append(s.rules, compiledRule{id: r.ID, re: re})
	}

	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}

	if cfg.Gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
		s.detector = d
	}
	return s, nil
}

// Enabled reports whether the scrubber redacts anything.
func (s *Scrubber) Enabled() bool {
	return s != nil && s.enabled
}

// Scrub returns text with every detected credential replaced by a
// [REDACTED:rule-id] marker.
func (s *Scrubber) Scrub(text string) Result {
	if !s.Enabled() || text == "" {
		return Result{Text: text}
	}

	var found []Finding
	for _, r := range s.rules {
		for _, m := range r.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			if s.allowed(text[start:end]) {
				continue
			}
			found = append(found, Finding{RuleID: r.id, Start: start, End: end})
		}
	}
	found = append(found, s.detect(text)...)
	if len(found) == 0 {
		return Result{Text: text}
	}

	merged := merge(found)
	var b strings.Builder
	last := 0
	for _, f := range merged {
		b.WriteString(text[last:f.Start])
		b.WriteString("[REDACTED:" + f.RuleID + "]")
		last = f.End
		redactionsTotal.WithLabelValues(f.RuleID).Inc()
	}
	b.WriteString(text[last:])
	return Result{Text: b.String(), Findings: merged}
}

// detect runs gitleaks and locates each reported secret in text.
func (s *Scrubber) detect(text string) []Finding {
	if s.detector == nil {
		return nil
	}
	s.mu.Lock()
	reported := s.detector.DetectString(text)
	s.mu.Unlock()

	var out []Finding
	for _, f := range reported {
		if f.Secret == "" || s.allowed(f.Secret) {
			continue
		}
		for from := 0; ; {
			i := strings.Index(text[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			out = append(out, Finding{RuleID: f.RuleID, Start: start, End: start + len(f.Secret)})
			from = start + len(f.Secret)
		}
	}
	return out
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// merge sorts findings by position and folds overlapping ones into the
// earliest, keeping its rule id.
func merge(found []Finding) []Finding {
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})
	out := []Finding{found[0]}
	for _, f := range found[1:] {
		last := &out[len(out)-1]
		if f.Start < last.End {
			if f.End > last.End {
				last.End = f.End
			}
			continue
		}
		out = append(out, f)
	}
	return out
}
