// Package normalize parses free-text message bodies into structured
// sub-documents using per-pattern rule sets.
//
// Rules are ordered regular expressions with named capture groups, loaded
// from a YAML file. Normalization is best-effort by contract: an
// unparseable message still yields output (an empty document), because
// sinking an imperfectly-normalized event beats dropping it. Nothing in
// this package returns an error to the pipeline's hot path.
package normalize

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"meniscus/internal/event"
	"meniscus/internal/logging"
)

// rulesFile is the on-disk shape of the rules YAML.
type rulesFile struct {
	Patterns map[string][]ruleSpec `yaml:"patterns"`
}

type ruleSpec struct {
	Name  string `yaml:"name"`
	Match string `yaml:"match"`
}

type rule struct {
	name string
	re   *regexp.Regexp
}

// Config holds normalizer configuration.
type Config struct {
	// RulesPath is the YAML rules file. Empty means no rule sets are
	// loaded and every event dispatches straight to the sink router.
	RulesPath string

	Logger *slog.Logger
}

// Normalizer holds the loaded rule sets. Safe for concurrent use;
// Reload swaps the rule map atomically under a write lock.
type Normalizer struct {
	mu     sync.RWMutex
	sets   map[string][]rule
	path   string
	logger *slog.Logger
}

// New creates a normalizer and loads the rules file when configured.
// A broken rules file is an error at construction time (a misconfigured
// worker should fail loudly at startup, not drop normalization silently).
func New(cfg Config) (*Normalizer, error) {
	n := &Normalizer{
		sets:   make(map[string][]rule),
		path:   cfg.RulesPath,
		logger: logging.Default(cfg.Logger).With("component", "normalizer"),
	}
	if cfg.RulesPath != "" {
		if err := n.Reload(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Reload re-reads the rules file and swaps the rule sets in.
func (n *Normalizer) Reload() error {
	raw, err := os.ReadFile(n.path)
	if err != nil {
		return fmt.Errorf("normalize: reading rules: %w", err)
	}
	sets, err := parseRules(raw)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.sets = sets
	n.mu.Unlock()
	n.logger.Info("normalization rules loaded", "path", n.path, "patterns", len(sets))
	return nil
}

func parseRules(raw []byte) (map[string][]rule, error) {
	var rf rulesFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("normalize: parsing rules: %w", err)
	}
	sets := make(map[string][]rule, len(rf.Patterns))
	for pattern, specs := range rf.Patterns {
		rules := make([]rule, 0, len(specs))
		for _, spec := range specs {
			re, err := regexp.Compile(spec.Match)
			if err != nil {
				return nil, fmt.Errorf("normalize: rule %s/%s: %w", pattern, spec.Name, err)
			}
			rules = append(rules, rule{name: spec.Name, re: re})
		}
		sets[pattern] = rules
	}
	return sets, nil
}

// HasRules reports whether a rule set is loaded for the pattern. The
// dispatch step uses this to decide normalize-then-sink vs sink directly.
func (n *Normalizer) HasRules(pattern string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sets[pattern]) > 0
}

// Normalize parses the event's msg with the pattern's rule set and
// attaches the result under normalized.<pattern>. The first matching
// rule wins; no match attaches an empty document. Never fails.
func (n *Normalizer) Normalize(ev *event.Event, pattern string) {
	n.mu.RLock()
	rules := n.sets[pattern]
	n.mu.RUnlock()

	fields := make(map[string]string)
	for _, r := range rules {
		m := r.re.FindStringSubmatch(ev.Msg)
		if m == nil {
			continue
		}
		for i, name := range r.re.SubexpNames() {
			if i == 0 || name == "" || i >= len(m) {
				continue
			}
			fields[name] = m[i]
		}
		break
	}

	if ev.Normalized == nil {
		ev.Normalized = make(map[string]map[string]string, 1)
	}
	ev.Normalized[pattern] = fields
}
