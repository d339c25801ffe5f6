package rules

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name   string                      `yaml:"name"`
	Params map[interface{}]interface{} `yaml:"params"`
	Active *bool                       `yaml:"active"`
}

// LoadSpecs reads the declarative rule list. Every entry is structurally
// validated and checked against the predicate registry, inactive rules
// included, so a broken entry fails the load even when switched off. The
// returned specs are the active ones; an empty result with no error means all
// rules are inactive, which is valid and logged. A missing file, malformed
// YAML or an empty rules list is a configuration error.
func LoadSpecs(path string) ([]domain.RuleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read rules file %s: %v", ErrConfig, path, err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: cannot parse rules file %s: %v", ErrConfig, path, err)
	}

	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("%w: rules file %s must contain a non-empty rules list", ErrConfig, path)
	}

	active := make([]domain.RuleSpec, 0, len(file.Rules))
	inactive := 0
	for i, entry := range file.Rules {
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: rule entry %d is missing a name", ErrConfig, i)
		}
		if entry.Params == nil {
			return nil, fmt.Errorf("%w: rule %s is missing a params mapping", ErrConfig, entry.Name)
		}
		if !KnownPredicate(entry.Name) {
			return nil, fmt.Errorf("%w: unknown rule predicate %q", ErrConfig, entry.Name)
		}

		spec := domain.RuleSpec{
			Name:   entry.Name,
			Params: normalizeMap(entry.Params),
			Active: entry.Active == nil || *entry.Active,
		}
		if !spec.Active {
			inactive++
			continue
		}
		active = append(active, spec)
	}

	if len(active) == 0 {
		slog.Warn("all configured rules are inactive",
			"path", path,
			"inactive_count", inactive,
		)
	}

	return active, nil
}

// normalizeMap converts yaml.v2's interface-keyed maps into string-keyed ones
// so rule params look the same whether they were loaded from YAML or JSON.
func normalizeMap(m map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[fmt.Sprintf("%v", k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		return normalizeMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}
