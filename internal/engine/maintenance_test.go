package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage/memstore"
	"github.com/evermind-ai/evermind/pkg/types"
)

var maintNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newMaintenanceFixture(t *testing.T) (*StorageEngine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.SetClock(func() time.Time { return maintNow })
	eng, err := NewStorageEngine(store, &scriptEmbedder{dims: 4}, resilience.NewHandler(resilience.HandlerConfig{}, quietLogrus()), config.DefaultPolicy(), quietLogrus())
	require.NoError(t, err)
	eng.SetClock(func() time.Time { return maintNow })
	return eng, store
}

func seedMemory(t *testing.T, store *memstore.Store, rec types.MemoryRecord) {
	t.Helper()
	if rec.MemoryType == "" {
		rec.MemoryType = types.TypeInteraction
	}
	if rec.OwnerID == "" {
		rec.OwnerID = "user-1"
	}
	if rec.DecayRate == 0 {
		rec.DecayRate = 1.0
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = maintNow.Add(-time.Hour)
	}
	require.NoError(t, store.CreateMemory(context.Background(), &rec))
}

func TestArchiveStaleRequiresAllThreeConditions(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	old := maintNow.AddDate(0, 0, -45)

	seedMemory(t, store, types.MemoryRecord{ID: "stale", CreatedAt: old, AccessCount: 0, ImportanceScore: 0.1})
	seedMemory(t, store, types.MemoryRecord{ID: "old-but-important", CreatedAt: old, AccessCount: 0, ImportanceScore: 0.8})
	seedMemory(t, store, types.MemoryRecord{ID: "old-but-accessed", CreatedAt: old, AccessCount: 5, ImportanceScore: 0.1})
	seedMemory(t, store, types.MemoryRecord{ID: "recent", CreatedAt: maintNow.Add(-time.Hour), AccessCount: 0, ImportanceScore: 0.1})

	archived, err := eng.ArchiveStale(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, archived)

	rec, err := store.GetMemory(context.Background(), "stale")
	require.NoError(t, err)
	assert.True(t, rec.Archived)
	assert.Equal(t, "stale", rec.ArchiveReason)

	for _, id := range []string{"old-but-important", "old-but-accessed", "recent"} {
		rec, err := store.GetMemory(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, rec.Archived, "%s must survive the sweep", id)
	}
}

func TestConsolidateMergesLowImportancePairs(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	base := maintNow.Add(-48 * time.Hour)

	seedMemory(t, store, types.MemoryRecord{ID: "keeper", CreatedAt: base, ImportanceScore: 0.35})
	seedMemory(t, store, types.MemoryRecord{ID: "absorbed", CreatedAt: base.Add(2 * time.Hour), ImportanceScore: 0.2})
	// Above the consolidation ceiling: never a candidate.
	seedMemory(t, store, types.MemoryRecord{ID: "valuable", CreatedAt: base.Add(time.Hour), ImportanceScore: 0.9})
	// Outside the time window of the pair.
	seedMemory(t, store, types.MemoryRecord{ID: "distant", CreatedAt: base.Add(40 * time.Hour), ImportanceScore: 0.2})

	merged, err := eng.Consolidate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	keeper, err := store.GetMemory(context.Background(), "keeper")
	require.NoError(t, err)
	assert.False(t, keeper.Archived)
	assert.InDelta(t, 0.35+0.3*0.2, keeper.ImportanceScore, 1e-9)
	assert.Contains(t, keeper.ConsolidatedFrom, "absorbed")

	absorbed, err := store.GetMemory(context.Background(), "absorbed")
	require.NoError(t, err)
	assert.True(t, absorbed.Archived)
	assert.Equal(t, "consolidated", absorbed.ArchiveReason)

	for _, id := range []string{"valuable", "distant"} {
		rec, err := store.GetMemory(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, rec.Archived)
	}
}

func TestConsolidateAbsorbedRecordNeverActsAsKeeper(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	base := maintNow.Add(-48 * time.Hour)

	seedMemory(t, store, types.MemoryRecord{ID: "first", CreatedAt: base, ImportanceScore: 0.2})
	seedMemory(t, store, types.MemoryRecord{ID: "second", CreatedAt: base.Add(time.Hour), ImportanceScore: 0.35})
	seedMemory(t, store, types.MemoryRecord{ID: "third", CreatedAt: base.Add(2 * time.Hour), ImportanceScore: 0.1})

	merged, err := eng.Consolidate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	// "first" loses to "second" and is archived; it must not then absorb
	// "third" while archived.
	first, err := store.GetMemory(context.Background(), "first")
	require.NoError(t, err)
	assert.True(t, first.Archived)
	assert.Empty(t, first.ConsolidatedFrom)

	second, err := store.GetMemory(context.Background(), "second")
	require.NoError(t, err)
	assert.False(t, second.Archived)
	assert.Equal(t, []string{"first", "third"}, second.ConsolidatedFrom)
	assert.InDelta(t, 0.35+0.3*0.2+0.3*0.1, second.ImportanceScore, 1e-9)

	third, err := store.GetMemory(context.Background(), "third")
	require.NoError(t, err)
	assert.True(t, third.Archived)
	assert.Equal(t, "consolidated", third.ArchiveReason)
}

func TestReevaluateAfterEvolutionIgnoresSmallTransitions(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	seedMemory(t, store, types.MemoryRecord{ID: "m1", ConsciousnessLevel: 0.5, ImportanceScore: 0.5})

	report, err := eng.ReevaluateAfterEvolution(context.Background(), "user-1", 0.50, 0.52)
	require.NoError(t, err)
	assert.Equal(t, EvolutionReport{}, report)

	rec, err := store.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.ImportanceScore)
}

func TestReevaluateAfterEvolutionBuckets(t *testing.T) {
	eng, store := newMaintenanceFixture(t)

	seedMemory(t, store, types.MemoryRecord{ID: "promoted", ConsciousnessLevel: 0.9, ImportanceScore: 0.5})
	seedMemory(t, store, types.MemoryRecord{ID: "demoted", ConsciousnessLevel: 0.35, ImportanceScore: 0.5})
	seedMemory(t, store, types.MemoryRecord{ID: "archived", ConsciousnessLevel: 0.1, ImportanceScore: 0.5})
	seedMemory(t, store, types.MemoryRecord{ID: "unchanged", ConsciousnessLevel: 0.55, ImportanceScore: 0.5})

	report, err := eng.ReevaluateAfterEvolution(context.Background(), "user-1", 0.2, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 1, report.Demoted)
	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 4, report.Total())

	promoted, err := store.GetMemory(context.Background(), "promoted")
	require.NoError(t, err)
	assert.InDelta(t, 0.5*1.05, promoted.ImportanceScore, 1e-9)

	demoted, err := store.GetMemory(context.Background(), "demoted")
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.95, demoted.ImportanceScore, 1e-9)

	archived, err := store.GetMemory(context.Background(), "archived")
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	assert.Equal(t, "evolution_drift", archived.ArchiveReason)
}

func TestUpdateImportanceByConsciousness(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	cc := types.ConsciousnessContext{Level: 0.6, EmotionalState: "curious"}

	seedMemory(t, store, types.MemoryRecord{ID: "near", ConsciousnessLevel: 0.58, EmotionalState: "curious", ImportanceScore: 0.5})
	seedMemory(t, store, types.MemoryRecord{ID: "far", ConsciousnessLevel: 0.1, EmotionalState: "neutral", ImportanceScore: 0.5})

	updated, err := eng.UpdateImportanceByConsciousness(context.Background(), "user-1", cc)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	near, err := store.GetMemory(context.Background(), "near")
	require.NoError(t, err)
	// Near band, emotional match, growth direction.
	assert.InDelta(t, 0.5*1.1*1.05*1.02, near.ImportanceScore, 1e-9)

	far, err := store.GetMemory(context.Background(), "far")
	require.NoError(t, err)
	assert.Less(t, far.ImportanceScore, 0.5)
}

func TestApplyEmotionalInfluence(t *testing.T) {
	eng, store := newMaintenanceFixture(t)

	// Matching emotion on a non-conversational record.
	seedMemory(t, store, types.MemoryRecord{ID: "recent-match", MemoryType: types.TypeInsight, EmotionalState: "excited", ImportanceScore: 0.5, CreatedAt: maintNow.AddDate(0, 0, -2)})
	// Conversational record with a different recorded emotion.
	seedMemory(t, store, types.MemoryRecord{ID: "recent-turn", EmotionalState: "neutral", ImportanceScore: 0.5, CreatedAt: maintNow.AddDate(0, 0, -2)})
	// Neither matching nor conversational.
	seedMemory(t, store, types.MemoryRecord{ID: "recent-insight", MemoryType: types.TypeInsight, EmotionalState: "neutral", ImportanceScore: 0.5, CreatedAt: maintNow.AddDate(0, 0, -2)})
	// Matching but outside the recency window.
	seedMemory(t, store, types.MemoryRecord{ID: "old-match", EmotionalState: "excited", ImportanceScore: 0.5, CreatedAt: maintNow.AddDate(0, 0, -20)})

	updated, err := eng.ApplyEmotionalInfluence(context.Background(), "user-1", "excited", 1.0)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	for _, id := range []string{"recent-match", "recent-turn"} {
		rec, err := store.GetMemory(context.Background(), id)
		require.NoError(t, err)
		assert.InDelta(t, 0.5*1.2, rec.ImportanceScore, 1e-9, "%s must be re-weighted", id)
	}

	for _, id := range []string{"recent-insight", "old-match"} {
		rec, err := store.GetMemory(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 0.5, rec.ImportanceScore, "%s must be untouched", id)
	}
}

func TestApplyEmotionalInfluenceScalesWithIntensity(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	seedMemory(t, store, types.MemoryRecord{ID: "m1", EmotionalState: "excited", ImportanceScore: 0.5, CreatedAt: maintNow.AddDate(0, 0, -1)})

	_, err := eng.ApplyEmotionalInfluence(context.Background(), "user-1", "excited", 0.5)
	require.NoError(t, err)

	rec, err := store.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	// Half intensity pulls half way toward the full multiplier.
	assert.InDelta(t, 0.5*1.1, rec.ImportanceScore, 1e-9)
}

func TestRunMaintenanceCombinesSweeps(t *testing.T) {
	eng, store := newMaintenanceFixture(t)
	old := maintNow.AddDate(0, 0, -45)
	base := maintNow.Add(-48 * time.Hour)

	seedMemory(t, store, types.MemoryRecord{ID: "stale", CreatedAt: old, ImportanceScore: 0.1})
	seedMemory(t, store, types.MemoryRecord{ID: "pair-a", CreatedAt: base, ImportanceScore: 0.3})
	seedMemory(t, store, types.MemoryRecord{ID: "pair-b", CreatedAt: base.Add(time.Hour), ImportanceScore: 0.2})

	report, err := eng.RunMaintenance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.ArchivedStale)
	assert.Equal(t, 1, report.Consolidated)
}
