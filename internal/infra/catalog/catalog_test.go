package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valdirmariano/altaper4mance-sub000/internal/domain"
)

const smallCatalog = `version: 1
badges:
  - id: level_2
    name: Warming Up
    description: Reach level 2.
    icon: "🌱"
    category: special
    rule: {metric: level, min: 2}
`

func TestDefault(t *testing.T) {
	defs := Default()
	require.NotEmpty(t, defs)

	ids := map[string]domain.BadgeDef{}
	for _, d := range defs {
		_, dup := ids[d.ID]
		require.False(t, dup, "duplicate id %s", d.ID)
		ids[d.ID] = d
		assert.True(t, d.Category.Valid(), d.ID)
	}
	for _, id := range []string{"streak_7", "streak_30", "streak_100"} {
		assert.Equal(t, domain.MetricStreak, ids[id].Rule.Metric, id)
	}
	for _, id := range []string{"level_10", "level_25", "level_50"} {
		assert.Equal(t, domain.MetricLevel, ids[id].Rule.Metric, id)
		assert.Equal(t, domain.CatSpecial, ids[id].Category, id)
	}
	assert.Equal(t, 7.0, ids["streak_7"].Rule.Min)
}

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(smallCatalog))
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, domain.BadgeDef{
		ID:          "level_2",
		Name:        "Warming Up",
		Description: "Reach level 2.",
		Icon:        "🌱",
		Category:    domain.CatSpecial,
		Rule:        domain.BadgeRule{Metric: domain.MetricLevel, Min: 2},
	}, defs[0])
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "version: [",
		"wrong version": "version: 2\nbadges:\n  - id: a\n",
		"no badges":     "version: 1\nbadges: []\n",
		"unknown key":   "version: 1\nbadges:\n  - id: a\n    colour: red\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	defs, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), defs)

	path := filepath.Join(t.TempDir(), "badges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o644))
	defs, err = Load(path)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), back)
}

// ─── Watcher ────────────────────────────────────────────────────────────────

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o644))

	var applied [][]domain.BadgeDef
	w := NewWatcher(path, func(defs []domain.BadgeDef) error {
		applied = append(applied, defs)
		return nil
	}, nil)

	assert.True(t, w.Reload())
	require.Len(t, applied, 1)

	require.NoError(t, os.WriteFile(path, []byte("version: ["), 0o644))
	assert.False(t, w.Reload(), "a broken file keeps the previous catalog")
	assert.Len(t, applied, 1)

	reloads, errs := w.Stats()
	assert.Equal(t, 1, reloads)
	assert.Equal(t, 1, errs)
}

func TestWatcher_RejectedByApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o644))

	w := NewWatcher(path, func([]domain.BadgeDef) error { return domain.ErrDuplicateBadgeID }, nil)
	assert.False(t, w.Reload())
}

func TestWatcher_RunPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "badges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(smallCatalog), 0o644))

	got := make(chan int, 8)
	w := NewWatcher(path, func(defs []domain.BadgeDef) error {
		got <- len(defs)
		return nil
	}, nil)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	data, err := Marshal(Default())
	require.NoError(t, err)

	// The watch is registered asynchronously; keep rewriting until it fires.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case n := <-got:
			assert.Equal(t, len(Default()), n)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, data, 0o644))
		case <-deadline:
			t.Fatal("watcher never reloaded the catalog")
		}
	}
}
