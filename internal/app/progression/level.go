package progression

import (
	"math"
	"math/big"
)

// MaxLevel is the level cap. XP keeps accumulating past it but no further
// level-ups occur.
const MaxLevel = 100

// thresholds[l] is the XP needed to advance from level l to l+1.
// Index 0 is unused.
var thresholds = buildThresholds()

// buildThresholds computes floor(100 × 1.5^(l-1)) exactly as
// floor(100 × 3^(l-1) / 2^(l-1)). Values beyond int64 saturate from level
// 98 on, so no int64 XP total gets past level 95.
func buildThresholds() [MaxLevel + 1]int64 {
	var out [MaxLevel + 1]int64
	limit := big.NewInt(math.MaxInt64)
	three := big.NewInt(3)
	num := big.NewInt(1)
	den := big.NewInt(1)
	q := new(big.Int)
	for level := 1; level <= MaxLevel; level++ {
		q.Mul(big.NewInt(100), num)
		q.Quo(q, den)
		if q.Cmp(limit) > 0 {
			out[level] = math.MaxInt64
		} else {
			out[level] = q.Int64()
		}
		num.Mul(num, three)
		den.Lsh(den, 1)
	}
	return out
}

// ThresholdFor returns the XP required to advance from level to level+1.
// Levels outside [1, MaxLevel] are clamped.
func ThresholdFor(level int) int64 {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return thresholds[level]
}

// LevelInfo is the result of mapping cumulative XP onto the curve.
type LevelInfo struct {
	Level       int   `json:"level"`
	RemainderXP int64 `json:"remainderXp"` // XP earned inside the current level
}

// LevelFor walks the curve from level 1, spending each level's threshold
// until the remainder no longer covers the next one. The walk is O(level)
// and bounded by MaxLevel.
func LevelFor(xp int64) LevelInfo {
	if xp < 0 {
		xp = 0
	}
	level := 1
	remainder := xp
	for level < MaxLevel && remainder >= thresholds[level] {
		remainder -= thresholds[level]
		level++
	}
	return LevelInfo{Level: level, RemainderXP: remainder}
}

// ProgressPercent returns progress toward the next level (0.0–100.0).
// At the cap it is measured against level 100's own threshold.
func ProgressPercent(xp int64) float64 {
	info := LevelFor(xp)
	span := ThresholdFor(info.Level)
	if span <= 0 {
		return 100.0
	}
	pct := float64(info.RemainderXP) / float64(span) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

// XPToNextLevel returns XP remaining until the next level, or 0 at the cap.
func XPToNextLevel(xp int64) int64 {
	info := LevelFor(xp)
	if info.Level >= MaxLevel {
		return 0
	}
	remaining := ThresholdFor(info.Level) - info.RemainderXP
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Progress is the level view served to clients.
type Progress struct {
	Level           int     `json:"level"`
	XP              int64   `json:"xp"`
	RemainderXP     int64   `json:"remainderXp"`
	Threshold       int64   `json:"threshold"`
	XPToNextLevel   int64   `json:"xpToNextLevel"`
	ProgressPercent float64 `json:"progressPercent"`
}

// ProgressFor assembles the level view for xp.
func ProgressFor(xp int64) Progress {
	info := LevelFor(xp)
	return Progress{
		Level:           info.Level,
		XP:              xp,
		RemainderXP:     info.RemainderXP,
		Threshold:       ThresholdFor(info.Level),
		XPToNextLevel:   XPToNextLevel(xp),
		ProgressPercent: ProgressPercent(xp),
	}
}

// addXP adds without overflowing. Amounts are never negative.
func addXP(xp, amount int64) int64 {
	if amount <= 0 {
		return xp
	}
	if xp > math.MaxInt64-amount {
		return math.MaxInt64
	}
	return xp + amount
}
