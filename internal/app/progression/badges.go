package progression

import (
	"fmt"
	"strings"
	"time"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

// Registry is an ordered, validated badge catalog.
// Each definition is checked against a UserStats snapshot plus the
// auxiliary counters a caller supplied.
type Registry struct {
	defs  []domain.BadgeDef
	index map[string]int
}

// NewRegistry validates defs and builds a registry that keeps their order.
func NewRegistry(defs []domain.BadgeDef) (*Registry, error) {
	r := &Registry{
		defs:  make([]domain.BadgeDef, 0, len(defs)),
		index: make(map[string]int, len(defs)),
	}
	for i, def := range defs {
		if err := validateDef(def); err != nil {
			return nil, fmt.Errorf("badge #%d (%s): %w", i, def.ID, err)
		}
		if _, dup := r.index[def.ID]; dup {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateBadgeID, def.ID)
		}
		r.index[def.ID] = len(r.defs)
		r.defs = append(r.defs, def)
	}
	return r, nil
}

func validateDef(def domain.BadgeDef) error {
	if strings.TrimSpace(def.ID) == "" {
		return fmt.Errorf("%w: empty id", domain.ErrInvalidBadge)
	}
	if !def.Category.Valid() {
		return fmt.Errorf("%w: category %q", domain.ErrInvalidBadge, def.Category)
	}
	if def.Rule.Min < 0 {
		return fmt.Errorf("%w: negative min", domain.ErrInvalidBadge)
	}
	switch def.Rule.Metric {
	case domain.MetricStreak, domain.MetricLevel:
	case domain.MetricCounter:
		if def.Rule.Counter == "" {
			return fmt.Errorf("%w: counter rule without counter name", domain.ErrInvalidBadge)
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownBadgeMetric, def.Rule.Metric)
	}
	return nil
}

// Definitions returns the catalog in order.
func (r *Registry) Definitions() []domain.BadgeDef {
	out := make([]domain.BadgeDef, len(r.defs))
	copy(out, r.defs)
	return out
}

// Lookup returns the definition with the given id.
func (r *Registry) Lookup(id string) (domain.BadgeDef, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.BadgeDef{}, false
	}
	return r.defs[i], true
}

// Len returns the number of definitions.
func (r *Registry) Len() int { return len(r.defs) }

// Evaluate returns an unlock record for every definition whose rule holds
// and whose id is not yet in stats.Badges. The result never repeats an id,
// so calling it again with the same inputs awards nothing new once the
// results are added to stats.
func (r *Registry) Evaluate(stats domain.UserStats, counters domain.Counters, now time.Time) []domain.Badge {
	return r.evaluate(stats, counters, now, func(domain.BadgeRule) bool { return true })
}

// CheckAuxiliaryBadges is Evaluate restricted to counter rules.
func (r *Registry) CheckAuxiliaryBadges(stats domain.UserStats, counters domain.Counters, now time.Time) []domain.Badge {
	return r.evaluate(stats, counters, now, func(rule domain.BadgeRule) bool {
		return rule.Metric == domain.MetricCounter
	})
}

func (r *Registry) evaluate(stats domain.UserStats, counters domain.Counters, now time.Time, include func(domain.BadgeRule) bool) []domain.Badge {
	var unlocked []domain.Badge
	for _, def := range r.defs {
		if stats.Badges.Has(def.ID) || !include(def.Rule) {
			continue
		}
		if Satisfied(def.Rule, stats, counters) {
			unlocked = append(unlocked, def.Award(now))
		}
	}
	return unlocked
}

// Satisfied reports whether rule holds for stats and counters. A counter
// the caller did not supply never satisfies a rule.
func Satisfied(rule domain.BadgeRule, stats domain.UserStats, counters domain.Counters) bool {
	switch rule.Metric {
	case domain.MetricStreak:
		return float64(stats.Streak) >= rule.Min
	case domain.MetricLevel:
		return float64(stats.Level) >= rule.Min
	case domain.MetricCounter:
		v, ok := counters[rule.Counter]
		return ok && v >= rule.Min
	}
	return false
}
