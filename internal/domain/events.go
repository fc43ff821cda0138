package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ─── Reward Events ──────────────────────────────────────────────────────────
// RewardEvent is a closed union: the unexported marker method keeps any
// type outside this package from satisfying it.

// EventKind is the wire name of a reward event.
type EventKind string

const (
	EventTaskCompleted         EventKind = "task_completed"
	EventHabitCompleted        EventKind = "habit_completed"
	EventAllHabitsCompleted    EventKind = "all_habits_completed"
	EventGoalAchieved          EventKind = "goal_achieved"
	EventJournalWritten        EventKind = "journal_written"
	EventFocusCompleted        EventKind = "focus_completed"
	EventTransactionLogged     EventKind = "transaction_logged"
	EventStudyCompleted        EventKind = "study_completed"
	EventRunningLogged         EventKind = "running_logged"
	EventWorkoutLogged         EventKind = "workout_logged"
	EventBodyMeasurementLogged EventKind = "body_measurement_logged"
)

// Lifetime counter names understood by counter badges.
const (
	CounterTasksCompleted     = "tasks_completed"
	CounterHabitsCompleted    = "habits_completed"
	CounterGoalsAchieved      = "goals_achieved"
	CounterJournalEntries     = "journal_entries"
	CounterFocusSessions      = "focus_sessions"
	CounterTransactionsLogged = "transactions_logged"
	CounterStudySessions      = "study_sessions"
	CounterRunningSessions    = "running_sessions"
	CounterRunningDistanceKM  = "running_distance_km"
	CounterWorkoutSessions    = "workout_sessions"
)

// Counters are lifetime aggregates owned by the calling module. The engine
// only reads them.
type Counters map[string]float64

// RewardEvent is one semantic action a caller reports.
type RewardEvent interface {
	Kind() EventKind
	// Counters returns the auxiliary counters the caller attached, if any.
	Counters() Counters
	rewardEvent()
}

// TaskCompleted is reported when a task is marked done.
type TaskCompleted struct {
	HighestPriority   bool `json:"highestPriority"`
	LifetimeCompleted int  `json:"lifetimeCompleted,omitempty"`
}

// HabitCompleted is reported when a habit is checked off. AllHabitsDone
// is set when this completion finished every habit scheduled for the day.
type HabitCompleted struct {
	AllHabitsDone     bool `json:"allHabitsDone"`
	LifetimeCompleted int  `json:"lifetimeCompleted,omitempty"`
}

// AllHabitsCompleted is reported once the day's habits are all done.
type AllHabitsCompleted struct{}

// GoalAchieved is reported when a goal reaches its target.
type GoalAchieved struct {
	LifetimeAchieved int `json:"lifetimeAchieved,omitempty"`
}

// JournalWritten is reported for a new journal entry.
type JournalWritten struct {
	LifetimeEntries int `json:"lifetimeEntries,omitempty"`
}

// FocusCompleted is reported when a focus session runs to completion.
type FocusCompleted struct {
	LifetimeSessions int `json:"lifetimeSessions,omitempty"`
}

// TransactionLogged is reported for a new finance transaction.
type TransactionLogged struct {
	LifetimeLogged int `json:"lifetimeLogged,omitempty"`
}

// StudyCompleted is reported for a finished study session.
type StudyCompleted struct {
	LifetimeSessions int `json:"lifetimeSessions,omitempty"`
}

// RunningLogged is reported for a running session, with the caller's
// lifetime totals including this session.
type RunningLogged struct {
	TotalSessions   int     `json:"totalSessions"`
	TotalDistanceKM float64 `json:"totalDistanceKm"`
}

// WorkoutLogged is reported for a workout session.
type WorkoutLogged struct {
	TotalSessions int `json:"totalSessions"`
}

// BodyMeasurementLogged is reported for a new body measurement.
type BodyMeasurementLogged struct{}

func (TaskCompleted) Kind() EventKind         { return EventTaskCompleted }
func (HabitCompleted) Kind() EventKind        { return EventHabitCompleted }
func (AllHabitsCompleted) Kind() EventKind    { return EventAllHabitsCompleted }
func (GoalAchieved) Kind() EventKind          { return EventGoalAchieved }
func (JournalWritten) Kind() EventKind        { return EventJournalWritten }
func (FocusCompleted) Kind() EventKind        { return EventFocusCompleted }
func (TransactionLogged) Kind() EventKind     { return EventTransactionLogged }
func (StudyCompleted) Kind() EventKind        { return EventStudyCompleted }
func (RunningLogged) Kind() EventKind         { return EventRunningLogged }
func (WorkoutLogged) Kind() EventKind         { return EventWorkoutLogged }
func (BodyMeasurementLogged) Kind() EventKind { return EventBodyMeasurementLogged }

func (e TaskCompleted) Counters() Counters {
	return counterIf(CounterTasksCompleted, float64(e.LifetimeCompleted))
}

func (e HabitCompleted) Counters() Counters {
	return counterIf(CounterHabitsCompleted, float64(e.LifetimeCompleted))
}

func (AllHabitsCompleted) Counters() Counters { return nil }

func (e GoalAchieved) Counters() Counters {
	return counterIf(CounterGoalsAchieved, float64(e.LifetimeAchieved))
}

func (e JournalWritten) Counters() Counters {
	return counterIf(CounterJournalEntries, float64(e.LifetimeEntries))
}

func (e FocusCompleted) Counters() Counters {
	return counterIf(CounterFocusSessions, float64(e.LifetimeSessions))
}

func (e TransactionLogged) Counters() Counters {
	return counterIf(CounterTransactionsLogged, float64(e.LifetimeLogged))
}

func (e StudyCompleted) Counters() Counters {
	return counterIf(CounterStudySessions, float64(e.LifetimeSessions))
}

func (e RunningLogged) Counters() Counters {
	c := Counters{}
	if e.TotalSessions > 0 {
		c[CounterRunningSessions] = float64(e.TotalSessions)
	}
	if e.TotalDistanceKM > 0 {
		c[CounterRunningDistanceKM] = e.TotalDistanceKM
	}
	return c
}

func (e WorkoutLogged) Counters() Counters {
	return counterIf(CounterWorkoutSessions, float64(e.TotalSessions))
}

func (BodyMeasurementLogged) Counters() Counters { return nil }

func (TaskCompleted) rewardEvent()         {}
func (HabitCompleted) rewardEvent()        {}
func (AllHabitsCompleted) rewardEvent()    {}
func (GoalAchieved) rewardEvent()          {}
func (JournalWritten) rewardEvent()        {}
func (FocusCompleted) rewardEvent()        {}
func (TransactionLogged) rewardEvent()     {}
func (StudyCompleted) rewardEvent()        {}
func (RunningLogged) rewardEvent()         {}
func (WorkoutLogged) rewardEvent()         {}
func (BodyMeasurementLogged) rewardEvent() {}

func counterIf(name string, v float64) Counters {
	if v <= 0 {
		return nil
	}
	return Counters{name: v}
}

// EventKinds lists every event kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventTaskCompleted,
		EventHabitCompleted,
		EventAllHabitsCompleted,
		EventGoalAchieved,
		EventJournalWritten,
		EventFocusCompleted,
		EventTransactionLogged,
		EventStudyCompleted,
		EventRunningLogged,
		EventWorkoutLogged,
		EventBodyMeasurementLogged,
	}
}

// DecodeEvent builds the event of the given kind from a JSON payload.
// An empty payload yields the zero event. Unknown fields and negative
// totals are rejected.
func DecodeEvent(kind EventKind, payload []byte) (RewardEvent, error) {
	switch kind {
	case EventTaskCompleted:
		return decodeInto[TaskCompleted](payload)
	case EventHabitCompleted:
		return decodeInto[HabitCompleted](payload)
	case EventAllHabitsCompleted:
		return decodeInto[AllHabitsCompleted](payload)
	case EventGoalAchieved:
		return decodeInto[GoalAchieved](payload)
	case EventJournalWritten:
		return decodeInto[JournalWritten](payload)
	case EventFocusCompleted:
		return decodeInto[FocusCompleted](payload)
	case EventTransactionLogged:
		return decodeInto[TransactionLogged](payload)
	case EventStudyCompleted:
		return decodeInto[StudyCompleted](payload)
	case EventRunningLogged:
		return decodeInto[RunningLogged](payload)
	case EventWorkoutLogged:
		return decodeInto[WorkoutLogged](payload)
	case EventBodyMeasurementLogged:
		return decodeInto[BodyMeasurementLogged](payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
}

func decodeInto[E RewardEvent](payload []byte) (RewardEvent, error) {
	var ev E
	if len(bytes.TrimSpace(payload)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	if len(bytes.TrimSpace(payload)) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		for name, v := range raw {
			if n, ok := v.(float64); ok && n < 0 {
				return nil, fmt.Errorf("%w: negative %s", ErrInvalidEvent, name)
			}
		}
	}
	return ev, nil
}
