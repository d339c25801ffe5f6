// Package rules provides the fraud rule predicates, their declarative loader
// and the scoring engine.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	// ErrConfig marks configuration errors: unresolvable rule names,
	// malformed rule entries, bad parameter types. These abort a run before
	// any write happens.
	ErrConfig = errors.New("rule configuration error")

	// ErrEvaluation marks failures while evaluating a rule against a batch.
	ErrEvaluation = errors.New("rule evaluation error")
)

// Predicate flags rows of a scoring batch. The returned mask is aligned to
// batch.Rows by index.
type Predicate interface {
	Evaluate(batch *Batch) ([]bool, error)
}

// Factory builds a predicate from its rule parameters. Parameter validation
// happens here, at load time, so a misconfigured rule fails before any
// evaluation runs.
type Factory func(name string, params Params, env *Env) (Predicate, error)

// registry is the closed set of known rule predicates. Names outside this map
// are configuration errors, caught when specs are loaded.
var registry = map[string]Factory{
	"high_value":    newHighValue,
	"rapid_fire":    newRapidFire,
	"geo_velocity":  newGeoVelocity,
	"high_risk_mcc": newHighRiskMCC,
	"night_owl_cnp": newNightOwlCNP,
	"expr":          newExpr,
}

// KnownPredicate reports whether name resolves to a registered predicate.
func KnownPredicate(name string) bool {
	_, ok := registry[name]
	return ok
}

// Build resolves a rule spec to a predicate, failing fast on unknown names
// and bad parameters.
func Build(spec domain.RuleSpec, env *Env) (Predicate, error) {
	factory, ok := registry[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown rule predicate %q", ErrConfig, spec.Name)
	}
	return factory(spec.Name, Params(spec.Params), env)
}

// Params is a rule's parameter mapping with typed, rule-naming accessors.
type Params map[string]interface{}

func (p Params) float(rule, key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: rule %s: missing param %q", ErrConfig, rule, key)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: rule %s: param %q must be a number, got %T", ErrConfig, rule, key, v)
	}
	return f, nil
}

func (p Params) integer(rule, key string) (int, error) {
	f, err := p.float(rule, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func (p Params) str(rule, key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: rule %s: missing param %q", ErrConfig, rule, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: rule %s: param %q must be a string, got %T", ErrConfig, rule, key, v)
	}
	return s, nil
}

func (p Params) intList(rule, key string) ([]int, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s: missing param %q", ErrConfig, rule, key)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: rule %s: param %q must be a list, got %T", ErrConfig, rule, key, v)
	}
	out := make([]int, len(items))
	for i, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("%w: rule %s: param %q element %d must be an integer, got %T", ErrConfig, rule, key, i, item)
		}
		out[i] = int(f)
	}
	return out, nil
}

func (p Params) stringList(rule, key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s: missing param %q", ErrConfig, rule, key)
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: rule %s: param %q must be a list, got %T", ErrConfig, rule, key, v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: rule %s: param %q element %d must be a string, got %T", ErrConfig, rule, key, i, item)
		}
		out[i] = s
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// highValue flags transactions at or above an amount threshold.
type highValue struct {
	Threshold float64
}

func newHighValue(name string, params Params, _ *Env) (Predicate, error) {
	threshold, err := params.float(name, "amount_threshold")
	if err != nil {
		return nil, err
	}
	return &highValue{Threshold: threshold}, nil
}

func (p *highValue) Evaluate(batch *Batch) ([]bool, error) {
	mask := make([]bool, len(batch.Rows))
	for i, r := range batch.Rows {
		mask[i] = r.Amount >= p.Threshold
	}
	return mask, nil
}

// rapidFire flags a transaction when its trailing window holds at least the
// threshold number of same-card transactions, the current one included.
type rapidFire struct {
	Threshold int
	Window    time.Duration
}

func newRapidFire(name string, params Params, _ *Env) (Predicate, error) {
	threshold, err := params.integer(name, "tx_per_min_threshold")
	if err != nil {
		return nil, err
	}
	windowMinutes, err := params.integer(name, "window_minutes")
	if err != nil {
		return nil, err
	}
	return &rapidFire{
		Threshold: threshold,
		Window:    time.Duration(windowMinutes) * time.Minute,
	}, nil
}

func (p *rapidFire) Evaluate(batch *Batch) ([]bool, error) {
	counts := batch.WindowCounts(p.Window)
	mask := make([]bool, len(batch.Rows))
	for i, c := range counts {
		mask[i] = c >= p.Threshold
	}
	return mask, nil
}

// geoVelocity flags transactions whose implied travel speed from the previous
// same-card transaction meets the threshold. Unknown speeds never flag.
type geoVelocity struct {
	Threshold float64
}

func newGeoVelocity(name string, params Params, _ *Env) (Predicate, error) {
	threshold, err := params.float(name, "geo_velocity_kmph")
	if err != nil {
		return nil, err
	}
	return &geoVelocity{Threshold: threshold}, nil
}

func (p *geoVelocity) Evaluate(batch *Batch) ([]bool, error) {
	kmph, known := batch.PrevVelocity()
	mask := make([]bool, len(batch.Rows))
	for i := range batch.Rows {
		mask[i] = known[i] && kmph[i] >= p.Threshold
	}
	return mask, nil
}

// highRiskMCC flags transactions at merchants whose MCC is in the list.
type highRiskMCC struct {
	MCCs map[int]struct{}
}

func newHighRiskMCC(name string, params Params, _ *Env) (Predicate, error) {
	list, err := params.intList(name, "high_risk_mcc")
	if err != nil {
		return nil, err
	}
	mccs := make(map[int]struct{}, len(list))
	for _, m := range list {
		mccs[m] = struct{}{}
	}
	return &highRiskMCC{MCCs: mccs}, nil
}

func (p *highRiskMCC) Evaluate(batch *Batch) ([]bool, error) {
	mask := make([]bool, len(batch.Rows))
	for i, r := range batch.Rows {
		_, mask[i] = p.MCCs[r.MCC]
	}
	return mask, nil
}

// nightOwlCNP flags card-not-present transactions in the [start, end) local
// hour band.
type nightOwlCNP struct {
	Channels  map[domain.Channel]struct{}
	StartHour int
	EndHour   int
	Location  *time.Location
}

func newNightOwlCNP(name string, params Params, env *Env) (Predicate, error) {
	channels, err := params.stringList(name, "cnp_channels")
	if err != nil {
		return nil, err
	}
	start, err := params.integer(name, "start_hour")
	if err != nil {
		return nil, err
	}
	end, err := params.integer(name, "end_hour")
	if err != nil {
		return nil, err
	}

	set := make(map[domain.Channel]struct{}, len(channels))
	for _, c := range channels {
		set[domain.Channel(c)] = struct{}{}
	}

	loc := time.UTC
	if env != nil && env.Location != nil {
		loc = env.Location
	}

	return &nightOwlCNP{
		Channels:  set,
		StartHour: start,
		EndHour:   end,
		Location:  loc,
	}, nil
}

func (p *nightOwlCNP) Evaluate(batch *Batch) ([]bool, error) {
	hours := batch.LocalHours(p.Location)
	mask := make([]bool, len(batch.Rows))
	for i, r := range batch.Rows {
		if _, ok := p.Channels[r.Channel]; !ok {
			continue
		}
		mask[i] = hours[i] >= p.StartHour && hours[i] < p.EndHour
	}
	return mask, nil
}
