package progression

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

// ─── XP Table ───────────────────────────────────────────────────────────────

const (
	XPTask             int64 = 10
	XPTaskHighPriority int64 = 15
	XPHabit            int64 = 5
	XPPerfectDayBonus  int64 = 50
	XPGoal             int64 = 500
	XPJournal          int64 = 10
	XPFocus            int64 = 20
	XPTransaction      int64 = 5
	XPStudy            int64 = 15
	XPRunning          int64 = 20
	XPWorkout          int64 = 20
	XPBodyMeasurement  int64 = 5
)

// reward is what one event is worth.
type reward struct {
	xp          int64
	touchStreak bool
	perfectDay  bool
}

// rewardFor maps each event variant to its fixed reward. Amounts never come
// from the caller.
func rewardFor(ev domain.RewardEvent) reward {
	switch e := ev.(type) {
	case domain.TaskCompleted:
		if e.HighestPriority {
			return reward{xp: XPTaskHighPriority, touchStreak: true}
		}
		return reward{xp: XPTask, touchStreak: true}
	case domain.HabitCompleted:
		return reward{xp: XPHabit, touchStreak: true, perfectDay: e.AllHabitsDone}
	case domain.AllHabitsCompleted:
		return reward{touchStreak: true, perfectDay: true}
	case domain.GoalAchieved:
		return reward{xp: XPGoal, touchStreak: true}
	case domain.JournalWritten:
		return reward{xp: XPJournal, touchStreak: true}
	case domain.FocusCompleted:
		return reward{xp: XPFocus, touchStreak: true}
	case domain.TransactionLogged:
		return reward{xp: XPTransaction}
	case domain.StudyCompleted:
		return reward{xp: XPStudy, touchStreak: true}
	case domain.RunningLogged:
		return reward{xp: XPRunning, touchStreak: true}
	case domain.WorkoutLogged:
		return reward{xp: XPWorkout, touchStreak: true}
	case domain.BodyMeasurementLogged:
		return reward{xp: XPBodyMeasurement}
	}
	// The union is sealed, so only a nil event can get here.
	panic(fmt.Sprintf("progression: unhandled reward event %T", ev))
}

// ─── Dispatcher ─────────────────────────────────────────────────────────────

// Outcome is the result of applying one event.
type Outcome struct {
	Stats       domain.UserStats    `json:"stats"`
	Transitions []domain.Transition `json:"transitions"`
	Skipped     bool                `json:"skipped,omitempty"` // anonymous caller
	EventID     string              `json:"eventId,omitempty"`
}

// Dispatcher applies reward events to a UserStats value. It holds no user
// state; callers pass the aggregate in and get the new one back.
type Dispatcher struct {
	registry atomic.Pointer[Registry]
	now      func() time.Time
	loc      *time.Location
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithLocation sets the zone that decides which calendar day "today" is.
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

// NewDispatcher creates a dispatcher over the given badge registry.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{now: time.Now, loc: time.UTC}
	d.registry.Store(reg)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the badge registry in use.
func (d *Dispatcher) Registry() *Registry { return d.registry.Load() }

// SetRegistry swaps the badge registry. Later events see the new catalog.
func (d *Dispatcher) SetRegistry(reg *Registry) {
	if reg != nil {
		d.registry.Store(reg)
	}
}

// Now returns the dispatcher's current time.
func (d *Dispatcher) Now() time.Time { return d.now() }

// Apply applies ev at the dispatcher's current time.
func (d *Dispatcher) Apply(who domain.Identity, stats domain.UserStats, ev domain.RewardEvent) Outcome {
	return d.ApplyAt(who, stats, ev, d.now())
}

// ApplyAt applies ev as if it happened at now. Anonymous callers get the
// input back untouched.
func (d *Dispatcher) ApplyAt(who domain.Identity, stats domain.UserStats, ev domain.RewardEvent, now time.Time) Outcome {
	if !who.Authenticated() {
		return Outcome{Stats: stats, Skipped: true}
	}

	r := rewardFor(ev)
	today := Today(now, d.loc)
	next := stats.Clone()
	var transitions []domain.Transition

	xp := r.xp
	if r.perfectDay && (next.PerfectDayDate == nil || *next.PerfectDayDate != today) {
		xp += XPPerfectDayBonus
		next.PerfectDayDate = domain.DatePtr(today)
	}
	if t, ok := grantXP(&next, xp); ok {
		transitions = append(transitions, t)
	}

	if r.touchStreak {
		if t, ok := touchStreak(&next, today); ok {
			transitions = append(transitions, t)
		}
	}

	for _, b := range d.Registry().Evaluate(next, ev.Counters(), now) {
		if next.Badges.Add(b) {
			transitions = append(transitions, domain.BadgeUnlocked(b))
		}
	}

	return Outcome{Stats: next, Transitions: transitions}
}

// grantXP adds amount and re-derives the level from XP. It reports a
// level_up when the derived level rose.
func grantXP(s *domain.UserStats, amount int64) (domain.Transition, bool) {
	before := LevelFor(s.XP).Level
	s.XP = addXP(s.XP, amount)
	s.Level = LevelFor(s.XP).Level
	if s.Level > before {
		return domain.LevelUp(s.Level), true
	}
	return domain.Transition{}, false
}

// touchStreak advances the streak for today and reports a milestone when
// the new length lands on one.
func touchStreak(s *domain.UserStats, today domain.Date) (domain.Transition, bool) {
	next, counted := Advance(StreakState{Streak: s.Streak, LastActivityDate: s.LastActivityDate}, today)
	if !counted {
		return domain.Transition{}, false
	}
	s.Streak = next.Streak
	s.LastActivityDate = next.LastActivityDate
	if IsStreakMilestone(s.Streak) {
		return domain.StreakMilestone(s.Streak), true
	}
	return domain.Transition{}, false
}
