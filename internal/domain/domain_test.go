package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Date ───────────────────────────────────────────────────────────────────

func TestDate_TextRoundTrip(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d)
	assert.Equal(t, "2024-02-29", d.String())

	b, err := json.Marshal(struct {
		D  Date  `json:"d"`
		P  *Date `json:"p"`
		NP *Date `json:"np"`
	}{D: d, P: DatePtr(d)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"d":"2024-02-29","p":"2024-02-29","np":null}`, string(b))

	_, err = ParseDate("2024-13-01")
	assert.Error(t, err)
	var bad Date
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

func TestDate_Arithmetic(t *testing.T) {
	d := Date{Year: 2025, Month: time.December, Day: 31}
	assert.Equal(t, Date{Year: 2026, Month: time.January, Day: 1}, d.AddDays(1))
	assert.Equal(t, Date{Year: 2025, Month: time.December, Day: 30}, d.AddDays(-1))
	assert.True(t, d.AddDays(-1).Before(d))
	assert.False(t, d.Before(d))
	assert.True(t, Date{}.IsZero())

	late := time.Date(2025, time.March, 10, 23, 59, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 10}, DateOf(late), "DateOf uses the time's own zone")
}

// ─── BadgeSet ───────────────────────────────────────────────────────────────

func TestBadgeSet_AddIsIdempotent(t *testing.T) {
	var s BadgeSet
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, s.Add(Badge{ID: "streak_7", UnlockedAt: at}))
	assert.False(t, s.Add(Badge{ID: "streak_7", UnlockedAt: at.Add(time.Hour)}))
	assert.Len(t, s, 1)
	assert.Equal(t, at, s["streak_7"].UnlockedAt, "first unlock is kept")
	assert.True(t, s.Has("streak_7"))
	assert.False(t, s.Has("level_10"))
}

func TestBadgeSet_JSON(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	s := BadgeSet{}
	s.Add(Badge{ID: "b", UnlockedAt: t2})
	s.Add(Badge{ID: "a", UnlockedAt: t2})
	s.Add(Badge{ID: "c", UnlockedAt: t1})

	data, err := json.Marshal(s)
	require.NoError(t, err)
	var list []Badge
	require.NoError(t, json.Unmarshal(data, &list))
	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "ordered by unlock time then id")

	var back BadgeSet
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("badge set mismatch (-want +got):\n%s", diff)
	}
}

func TestBadgeSet_DecodeCollapsesDuplicates(t *testing.T) {
	doc := `[
		{"id":"streak_7","unlockedAt":"2025-01-02T00:00:00Z"},
		{"id":"streak_7","unlockedAt":"2025-01-01T00:00:00Z"}
	]`
	var s BadgeSet
	require.NoError(t, json.Unmarshal([]byte(doc), &s))
	require.Len(t, s, 1)
	assert.Equal(t, 1, s["streak_7"].UnlockedAt.Day())

	assert.Error(t, json.Unmarshal([]byte(`[{"name":"x"}]`), &s))
}

// ─── UserStats Codec ────────────────────────────────────────────────────────

func TestUserStats_RoundTrip(t *testing.T) {
	s := NewUserStats()
	s.XP = 1234
	s.Level = 5
	s.Streak = 7
	s.LastActivityDate = &Date{Year: 2025, Month: time.March, Day: 10}
	s.PerfectDayDate = &Date{Year: 2025, Month: time.March, Day: 9}
	s.Badges.Add(Badge{ID: "streak_7", Name: "On Fire", Category: CatStreak,
		UnlockedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)})

	data, err := EncodeUserStats(s)
	require.NoError(t, err)
	back, err := DecodeUserStats(data)
	require.NoError(t, err)
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUserStats_PersistedShape(t *testing.T) {
	data, err := EncodeUserStats(UserStats{Level: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":1,"xp":0,"streak":0,"lastActivityDate":null,"badges":[]}`, string(data))
}

func TestDecodeUserStats_Corrupt(t *testing.T) {
	for _, doc := range []string{
		"",
		"   ",
		"{",
		`{"level":0,"xp":10,"streak":0}`,
		`{"level":1,"xp":-5,"streak":0}`,
		`{"level":1,"xp":0,"streak":-1}`,
		`{"level":1,"xp":0,"streak":0,"lastActivityDate":"not-a-date"}`,
	} {
		_, err := DecodeUserStats([]byte(doc))
		assert.ErrorIs(t, err, ErrCorruptRecord, "doc %q", doc)
	}
}

func TestDecodeUserStats_MissingBadges(t *testing.T) {
	s, err := DecodeUserStats([]byte(`{"level":2,"xp":120,"streak":1,"lastActivityDate":"2025-03-10"}`))
	require.NoError(t, err)
	assert.NotNil(t, s.Badges)
	assert.Empty(t, s.Badges)
}

func TestUserStats_CloneIsDeep(t *testing.T) {
	s := NewUserStats()
	s.LastActivityDate = &Date{Year: 2025, Month: time.March, Day: 10}
	s.Badges.Add(Badge{ID: "a"})

	c := s.Clone()
	c.Badges.Add(Badge{ID: "b"})
	c.LastActivityDate.Day = 11

	assert.Len(t, s.Badges, 1)
	assert.Equal(t, 10, s.LastActivityDate.Day)
}

// ─── Events ─────────────────────────────────────────────────────────────────

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(EventTaskCompleted, []byte(`{"highestPriority":true,"lifetimeCompleted":10}`))
	require.NoError(t, err)
	assert.Equal(t, TaskCompleted{HighestPriority: true, LifetimeCompleted: 10}, ev)
	assert.Equal(t, Counters{CounterTasksCompleted: 10}, ev.Counters())

	ev, err = DecodeEvent(EventBodyMeasurementLogged, nil)
	require.NoError(t, err)
	assert.Equal(t, BodyMeasurementLogged{}, ev)
	assert.Nil(t, ev.Counters())

	ev, err = DecodeEvent(EventRunningLogged, []byte(`{"totalSessions":10,"totalDistanceKm":42.2}`))
	require.NoError(t, err)
	assert.Equal(t, Counters{CounterRunningSessions: 10, CounterRunningDistanceKM: 42.2}, ev.Counters())
}

func TestDecodeEvent_EveryKind(t *testing.T) {
	for _, kind := range EventKinds() {
		ev, err := DecodeEvent(kind, []byte(" "))
		require.NoError(t, err, kind)
		assert.Equal(t, kind, ev.Kind())
	}
}

func TestDecodeEvent_Rejects(t *testing.T) {
	_, err := DecodeEvent("party_thrown", nil)
	assert.ErrorIs(t, err, ErrUnknownEventKind)

	for _, payload := range []string{
		`{"highestPriority":"yes"}`,
		`{"xp":1000}`,
		`{"lifetimeCompleted":-1}`,
		`[1,2]`,
	} {
		_, err := DecodeEvent(EventTaskCompleted, []byte(payload))
		assert.ErrorIs(t, err, ErrInvalidEvent, payload)
	}
}

// ─── Identity & Transitions ─────────────────────────────────────────────────

func TestIdentity(t *testing.T) {
	assert.False(t, Anonymous().Authenticated())
	assert.False(t, User("  ").Authenticated())
	assert.True(t, User(" alice ").Authenticated())
	assert.Equal(t, "alice", User(" alice ").UserID)
}

func TestTransitionJSON(t *testing.T) {
	b := Badge{ID: "level_10", Category: CatSpecial, UnlockedAt: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}
	data, err := json.Marshal([]Transition{LevelUp(2), BadgeUnlocked(b), StreakMilestone(7)})
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "level_up", raw[0]["type"])
	assert.Equal(t, 2.0, raw[0]["newLevel"])
	assert.Equal(t, "badge_unlocked", raw[1]["type"])
	assert.Equal(t, "level_10", raw[1]["badge"].(map[string]any)["id"])
	assert.Equal(t, "streak_milestone", raw[2]["type"])
	assert.Equal(t, 7.0, raw[2]["streak"])
}

func TestBadgeDef_Award(t *testing.T) {
	def := BadgeDef{ID: "x", Name: "X", Category: CatGoals}
	at := time.Date(2025, 3, 10, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	b := def.Award(at)
	assert.Equal(t, "x", b.ID)
	assert.True(t, b.UnlockedAt.Equal(at.Truncate(time.Millisecond)))
	assert.Equal(t, time.UTC, b.UnlockedAt.Location())
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	all := []error{
		ErrStatsNotFound, ErrVersionConflict, ErrCorruptRecord, ErrStoreUnavailable,
		ErrUnknownEventKind, ErrInvalidEvent, ErrUnknownBadgeMetric, ErrDuplicateBadgeID,
		ErrInvalidBadge, ErrUnauthenticated, ErrInvalidCredentials,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v is %v", a, b)
			}
		}
	}
}
