package progression

import (
	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

// Rebase folds the changes local made on top of base into remote, which
// another writer derived from base as well. Nothing earned on either side
// is lost:
//   - xp is remote's plus the XP local gained since base, less one
//     perfect-day bonus when both sides paid it for the same day
//   - the streak replays the later activity day on top of the other
//     side's streak and keeps the longer of that and the later side's own
//   - badges are the union, keeping the earliest unlock
//   - the perfect-day marker keeps the later day
//
// Level is re-derived from the merged XP.
func Rebase(base, local, remote domain.UserStats) domain.UserStats {
	out := remote.Clone()

	gained := local.XP - base.XP
	if paidTwice(base, local, remote) {
		gained -= XPPerfectDayBonus
	}
	if gained < 0 {
		gained = 0
	}
	out.XP = addXP(remote.XP, gained)
	if local.XP > out.XP {
		out.XP = local.XP
	}
	out.Level = LevelFor(out.XP).Level

	streak := mergeStreak(
		StreakState{Streak: local.Streak, LastActivityDate: local.LastActivityDate},
		StreakState{Streak: remote.Streak, LastActivityDate: remote.LastActivityDate},
	)
	out.Streak = streak.Streak
	out.LastActivityDate = nil
	if streak.LastActivityDate != nil {
		out.LastActivityDate = domain.DatePtr(*streak.LastActivityDate)
	}

	if cmpDate(local.PerfectDayDate, remote.PerfectDayDate) > 0 {
		out.PerfectDayDate = domain.DatePtr(*local.PerfectDayDate)
	}

	if out.Badges == nil {
		out.Badges = domain.BadgeSet{}
	}
	for id, b := range local.Badges {
		prev, ok := out.Badges[id]
		if !ok || b.UnlockedAt.Before(prev.UnlockedAt) {
			out.Badges[id] = b
		}
	}
	return out
}

// Merge combines two records with no common ancestor: the larger XP wins
// and everything else follows Rebase.
func Merge(a, b domain.UserStats) domain.UserStats {
	if a.XP > b.XP {
		return Rebase(a, a, b)
	}
	return Rebase(b, a, b)
}

// paidTwice reports whether local and remote both awarded the perfect-day
// bonus for the same day since base.
func paidTwice(base, local, remote domain.UserStats) bool {
	if local.PerfectDayDate == nil || remote.PerfectDayDate == nil {
		return false
	}
	if *local.PerfectDayDate != *remote.PerfectDayDate {
		return false
	}
	return base.PerfectDayDate == nil || *base.PerfectDayDate != *local.PerfectDayDate
}

// mergeStreak joins two streak views of the same user. Each side's count
// only reflects the days it saw, so the later day is replayed on top of
// the earlier side before comparing.
func mergeStreak(a, b StreakState) StreakState {
	switch cmpDate(a.LastActivityDate, b.LastActivityDate) {
	case 1:
		return longer(advanceTo(b, *a.LastActivityDate), a)
	case -1:
		return longer(advanceTo(a, *b.LastActivityDate), b)
	}
	return longer(a, b)
}

func advanceTo(s StreakState, day domain.Date) StreakState {
	next, _ := Advance(s, day)
	return next
}

func longer(a, b StreakState) StreakState {
	if b.Streak > a.Streak {
		return b
	}
	return a
}

// cmpDate orders optional dates; nil sorts first.
func cmpDate(a, b *domain.Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}
