// Package progression implements the rewards engine: the XP curve, the
// daily activity streak, the badge registry and the dispatcher that turns
// reward events into a new UserStats plus transitions.
package progression

import (
	"time"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

// StreakMilestones are the streak lengths that produce a streak_milestone
// transition when reached.
var StreakMilestones = []int{7, 30, 100}

// StreakState is the slice of UserStats the streak rules read and write.
type StreakState struct {
	Streak           int
	LastActivityDate *domain.Date
}

// Advance records activity on today.
// Same day: unchanged and counted is false. Previous activity yesterday:
// extend by one. Anything else, including no prior activity: restart at 1.
func Advance(cur StreakState, today domain.Date) (next StreakState, counted bool) {
	if cur.LastActivityDate != nil && *cur.LastActivityDate == today {
		return cur, false
	}

	next.LastActivityDate = domain.DatePtr(today)
	if cur.LastActivityDate != nil && *cur.LastActivityDate == today.AddDays(-1) {
		next.Streak = cur.Streak + 1
	} else {
		next.Streak = 1
	}
	return next, true
}

// IsStreakMilestone reports whether n is one of StreakMilestones.
func IsStreakMilestone(n int) bool {
	for _, m := range StreakMilestones {
		if m == n {
			return true
		}
	}
	return false
}

// Today returns the calendar day of now in loc. A nil loc means UTC.
func Today(now time.Time, loc *time.Location) domain.Date {
	if loc == nil {
		loc = time.UTC
	}
	return domain.DateOf(now.In(loc))
}
