// Package domain holds the progression aggregate and the types shared by
// the rewards engine, its gateways and its transports.
// Nothing in here performs I/O.
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ─── Calendar Dates ─────────────────────────────────────────────────────────

// DateLayout is the wire form of a Date.
const DateLayout = "2006-01-02"

// Date is a calendar day. It carries no time of day and no zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DatePtr returns a pointer to a copy of d.
func DatePtr(d Date) *Date { return &d }

// ─── Badges ─────────────────────────────────────────────────────────────────

// BadgeCategory classifies badges for display. Unlock logic ignores it.
type BadgeCategory string

const (
	CatStreak  BadgeCategory = "streak"
	CatTasks   BadgeCategory = "tasks"
	CatHabits  BadgeCategory = "habits"
	CatGoals   BadgeCategory = "goals"
	CatFinance BadgeCategory = "finance"
	CatSpecial BadgeCategory = "special"
)

// Valid reports whether c is one of the known categories.
func (c BadgeCategory) Valid() bool {
	switch c {
	case CatStreak, CatTasks, CatHabits, CatGoals, CatFinance, CatSpecial:
		return true
	}
	return false
}

// Badge is an unlocked achievement as stored on the aggregate.
type Badge struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Category    BadgeCategory `json:"category"`
	UnlockedAt  time.Time     `json:"unlockedAt"`
}

// BadgeSet is the set of unlocked badges keyed by id.
// Its JSON form is an array ordered by unlock time.
type BadgeSet map[string]Badge

// Has reports whether a badge with the given id is present.
func (s BadgeSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts b unless its id is already present. It returns true when
// the set changed.
func (s *BadgeSet) Add(b Badge) bool {
	if *s == nil {
		*s = make(BadgeSet)
	}
	if _, ok := (*s)[b.ID]; ok {
		return false
	}
	(*s)[b.ID] = b
	return true
}

// Clone returns an independent copy.
func (s BadgeSet) Clone() BadgeSet {
	out := make(BadgeSet, len(s))
	for id, b := range s {
		out[id] = b
	}
	return out
}

// Sorted returns the badges ordered by unlock time, then id.
func (s BadgeSet) Sorted() []Badge {
	out := make([]Badge, 0, len(s))
	for _, b := range s {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnlockedAt.Equal(out[j].UnlockedAt) {
			return out[i].UnlockedAt.Before(out[j].UnlockedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarshalJSON writes the set as an array.
func (s BadgeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON reads an array. Duplicate ids collapse onto the earliest
// unlock.
func (s *BadgeSet) UnmarshalJSON(b []byte) error {
	var list []Badge
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	out := make(BadgeSet, len(list))
	for _, badge := range list {
		if badge.ID == "" {
			return fmt.Errorf("badge without id")
		}
		if prev, ok := out[badge.ID]; ok && !badge.UnlockedAt.Before(prev.UnlockedAt) {
			continue
		}
		out[badge.ID] = badge
	}
	*s = out
	return nil
}

// ─── Aggregate ──────────────────────────────────────────────────────────────

// UserStats is the single persisted progression record for a user.
type UserStats struct {
	Level            int      `json:"level"`
	XP               int64    `json:"xp"`
	Streak           int      `json:"streak"`
	LastActivityDate *Date    `json:"lastActivityDate"`
	Badges           BadgeSet `json:"badges"`

	// PerfectDayDate is the last day the all-habits bonus was paid.
	PerfectDayDate *Date `json:"perfectDayDate,omitempty"`
}

// NewUserStats returns the record every user starts from.
func NewUserStats() UserStats {
	return UserStats{Level: 1, Badges: BadgeSet{}}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s UserStats) Clone() UserStats {
	out := s
	out.Badges = s.Badges.Clone()
	if s.LastActivityDate != nil {
		out.LastActivityDate = DatePtr(*s.LastActivityDate)
	}
	if s.PerfectDayDate != nil {
		out.PerfectDayDate = DatePtr(*s.PerfectDayDate)
	}
	return out
}

// EncodeUserStats serializes the persisted shape.
func EncodeUserStats(s UserStats) ([]byte, error) {
	if s.Badges == nil {
		s.Badges = BadgeSet{}
	}
	return json.Marshal(s)
}

// DecodeUserStats parses the persisted shape. Anything that does not
// describe a valid record is reported as ErrCorruptRecord.
func DecodeUserStats(data []byte) (UserStats, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return UserStats{}, fmt.Errorf("%w: empty record", ErrCorruptRecord)
	}
	var s UserStats
	if err := json.Unmarshal(data, &s); err != nil {
		return UserStats{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if s.Level < 1 || s.XP < 0 || s.Streak < 0 {
		return UserStats{}, fmt.Errorf("%w: level=%d xp=%d streak=%d",
			ErrCorruptRecord, s.Level, s.XP, s.Streak)
	}
	if s.Badges == nil {
		s.Badges = BadgeSet{}
	}
	return s, nil
}

// ─── Transitions ────────────────────────────────────────────────────────────

// TransitionType names a notable change produced by a reward event.
type TransitionType string

const (
	TransitionLevelUp         TransitionType = "level_up"
	TransitionBadgeUnlocked   TransitionType = "badge_unlocked"
	TransitionStreakMilestone TransitionType = "streak_milestone"
)

// Transition is handed to notification collaborators. It is never persisted
// on the aggregate.
type Transition struct {
	Type     TransitionType `json:"type"`
	NewLevel int            `json:"newLevel,omitempty"`
	Badge    *Badge         `json:"badge,omitempty"`
	Streak   int            `json:"streak,omitempty"`
}

// LevelUp builds a level_up transition.
func LevelUp(newLevel int) Transition {
	return Transition{Type: TransitionLevelUp, NewLevel: newLevel}
}

// BadgeUnlocked builds a badge_unlocked transition.
func BadgeUnlocked(b Badge) Transition {
	return Transition{Type: TransitionBadgeUnlocked, Badge: &b}
}

// StreakMilestone builds a streak_milestone transition.
func StreakMilestone(streak int) Transition {
	return Transition{Type: TransitionStreakMilestone, Streak: streak}
}

// TransitionBatch is the set of transitions one event produced for one user.
type TransitionBatch struct {
	EventID     string       `json:"eventId"`
	UserID      string       `json:"userId"`
	Kind        EventKind    `json:"kind"`
	Transitions []Transition `json:"transitions"`
	At          time.Time    `json:"at"`
}

// ─── Identity ───────────────────────────────────────────────────────────────

// Identity is the caller on whose behalf an event is dispatched.
// The zero value is anonymous.
type Identity struct {
	UserID string `json:"userId"`
}

// Anonymous returns the identity of a logged-out caller.
func Anonymous() Identity { return Identity{} }

// User returns the identity for a known user id.
func User(id string) Identity { return Identity{UserID: strings.TrimSpace(id)} }

// Authenticated reports whether progress may be recorded for this caller.
func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.UserID) != ""
}

// ─── Badge Catalog Entries ──────────────────────────────────────────────────

// BadgeMetric is the quantity a badge rule compares against.
type BadgeMetric string

const (
	MetricStreak  BadgeMetric = "streak"
	MetricLevel   BadgeMetric = "level"
	MetricCounter BadgeMetric = "counter"
)

// BadgeRule unlocks a badge once the metric reaches Min. Counter names the
// auxiliary counter when Metric is "counter".
type BadgeRule struct {
	Metric  BadgeMetric `json:"metric" yaml:"metric"`
	Counter string      `json:"counter,omitempty" yaml:"counter,omitempty"`
	Min     float64     `json:"min" yaml:"min"`
}

// BadgeDef is one catalog entry.
type BadgeDef struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Icon        string        `json:"icon" yaml:"icon"`
	Category    BadgeCategory `json:"category" yaml:"category"`
	Rule        BadgeRule     `json:"rule" yaml:"rule"`
}

// Award builds the unlock record for this definition.
func (d BadgeDef) Award(at time.Time) Badge {
	return Badge{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.Icon,
		Category:    d.Category,
		UnlockedAt:  at.UTC().Truncate(time.Millisecond),
	}
}
