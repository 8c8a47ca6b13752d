package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// EvolutionReport summarises one post-evolution re-evaluation pass.
type EvolutionReport struct {
	Promoted  int `json:"promoted"`
	Demoted   int `json:"demoted"`
	Archived  int `json:"archived"`
	Unchanged int `json:"unchanged"`
}

// Total returns the number of memories the pass examined.
func (r EvolutionReport) Total() int {
	return r.Promoted + r.Demoted + r.Archived + r.Unchanged
}

// MaintenanceReport summarises one background maintenance cycle.
type MaintenanceReport struct {
	ArchivedStale int `json:"archived_stale"`
	Consolidated  int `json:"consolidated"`
}

// UpdateImportanceByConsciousness re-weights the owner's active memories
// against the current consciousness level: memories recorded near the current
// level are boosted, distant ones penalised. An exact emotional-state match
// adds a further boost, and the growth direction nudges the result up or down.
// Returns the number of memories whose importance actually changed.
func (e *StorageEngine) UpdateImportanceByConsciousness(ctx context.Context, ownerID string, cc types.ConsciousnessContext) (int, error) {
	p := e.policy
	records, err := e.listForMaintenance(ctx, "update_importance_by_consciousness", storage.ListOptions{OwnerID: ownerID})
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range records {
		rec := &records[i]
		distance := math.Abs(rec.ConsciousnessLevel - cc.Level)

		mult := 1.0
		switch {
		case distance <= p.AlignNearDistance:
			mult = p.AlignBoostNear
		case distance <= p.AlignMidDistance:
			mult = p.AlignBoostMid
		case distance > p.AlignFarDistance:
			mult = p.AlignPenaltyFar
		}

		if cc.EmotionMatches(rec) {
			mult *= p.EmotionalMatchBoost
		}
		if cc.Level > rec.ConsciousnessLevel {
			mult *= p.GrowthBoost
		} else if cc.Level < rec.ConsciousnessLevel {
			mult *= p.DeclinePenalty
		}

		newScore := types.ClampImportance(rec.MemoryType, rec.ImportanceScore*mult)
		if newScore == rec.ImportanceScore {
			continue
		}
		if err := e.updateImportance(ctx, "update_importance_by_consciousness", rec.ID, newScore); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// ApplyEmotionalInfluence re-weights recent memories touched by the given
// emotional state: records sharing the emotion plus all conversational
// records (interactions and reflections). The state's base multiplier is
// scaled by intensity so a half-intensity emotion has half the pull away
// from neutral.
func (e *StorageEngine) ApplyEmotionalInfluence(ctx context.Context, ownerID, emotion string, intensity float64) (int, error) {
	p := e.policy
	base, ok := p.EmotionalMultipliers[emotion]
	if !ok {
		return 0, nil
	}
	intensity = clamp01(intensity)
	// Interpolate between the neutral multiplier and the full one.
	mult := 1.0 + (base-1.0)*intensity
	if mult == 1.0 {
		return 0, nil
	}

	since := e.now().AddDate(0, 0, -p.EmotionalWindowDays)
	records, err := e.listForMaintenance(ctx, "apply_emotional_influence", storage.ListOptions{OwnerID: ownerID, Since: since})
	if err != nil {
		return 0, err
	}

	updated := 0
	for i := range records {
		rec := &records[i]
		conversational := rec.MemoryType == types.TypeInteraction || rec.MemoryType == types.TypeReflection
		if rec.EmotionalState != emotion && !conversational {
			continue
		}
		newScore := types.ClampImportance(rec.MemoryType, rec.ImportanceScore*mult)
		if newScore == rec.ImportanceScore {
			continue
		}
		if err := e.updateImportance(ctx, "apply_emotional_influence", rec.ID, newScore); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// ReevaluateAfterEvolution re-scores the owner's recent memories after a
// consciousness-level transition. Transitions smaller than the configured
// minimum delta are ignored and return a zero report. For significant
// transitions, each memory's alignment with the new level is compared against
// its alignment with the old one: memories that fell below the archive floor
// are archived, clear improvements are promoted, clear regressions demoted,
// and movements within epsilon left untouched.
func (e *StorageEngine) ReevaluateAfterEvolution(ctx context.Context, ownerID string, oldLevel, newLevel float64) (EvolutionReport, error) {
	var report EvolutionReport
	p := e.policy

	if math.Abs(newLevel-oldLevel) < p.EvolutionMinDelta {
		return report, nil
	}

	since := e.now().AddDate(0, 0, -p.EvolutionWindowDays)
	records, err := e.listForMaintenance(ctx, "reevaluate_after_evolution", storage.ListOptions{OwnerID: ownerID, Since: since})
	if err != nil {
		return report, err
	}

	for i := range records {
		rec := &records[i]
		alignOld := levelAlignment(rec.ConsciousnessLevel, oldLevel)
		alignNew := levelAlignment(rec.ConsciousnessLevel, newLevel)

		switch {
		case alignNew < p.EvolutionArchiveBelow:
			if err := e.setArchived(ctx, "reevaluate_after_evolution", rec.ID, "evolution_drift"); err != nil {
				return report, err
			}
			report.Archived++
		case alignNew > alignOld+p.EvolutionAlignEpsilon:
			newScore := types.ClampImportance(rec.MemoryType, rec.ImportanceScore*p.EvolutionPromoteBoost)
			if err := e.updateImportance(ctx, "reevaluate_after_evolution", rec.ID, newScore); err != nil {
				return report, err
			}
			report.Promoted++
		case alignNew < alignOld-p.EvolutionAlignEpsilon:
			newScore := types.ClampImportance(rec.MemoryType, rec.ImportanceScore*p.EvolutionDemotePenalty)
			if err := e.updateImportance(ctx, "reevaluate_after_evolution", rec.ID, newScore); err != nil {
				return report, err
			}
			report.Demoted++
		default:
			report.Unchanged++
		}
	}
	return report, nil
}

// ArchiveStale soft-archives memories that are simultaneously old, rarely
// accessed, and unimportant. All three conditions must hold; an old but
// important memory is never archived. Empty ownerID sweeps every owner.
func (e *StorageEngine) ArchiveStale(ctx context.Context, ownerID string) (int, error) {
	p := e.policy
	cutoff := e.now().AddDate(0, 0, -p.ArchiveMaxAgeDays)

	records, err := e.listForMaintenance(ctx, "archive_stale", storage.ListOptions{OwnerID: ownerID})
	if err != nil {
		return 0, err
	}

	archived := 0
	for i := range records {
		rec := &records[i]
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if rec.AccessCount >= p.ArchiveMinAccess {
			continue
		}
		if rec.ImportanceScore >= p.ArchiveMaxImportance {
			continue
		}
		if err := e.setArchived(ctx, "archive_stale", rec.ID, "stale"); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

// Consolidate merges near-duplicate low-importance memories for one owner.
// Candidates share a memory type, were created within the configured window
// of each other, and both sit below the consolidation importance ceiling. The
// more important record survives and absorbs a fraction of the other's
// importance; the absorbed record is archived with a back-link on the keeper.
func (e *StorageEngine) Consolidate(ctx context.Context, ownerID string) (int, error) {
	p := e.policy
	window := time.Duration(p.ConsolidateWindowHours) * time.Hour

	records, err := e.listForMaintenance(ctx, "consolidate", storage.ListOptions{OwnerID: ownerID})
	if err != nil {
		return 0, err
	}

	byType := make(map[types.MemoryType][]*types.MemoryRecord)
	for i := range records {
		rec := &records[i]
		if rec.ImportanceScore >= p.ConsolidateMaxImportance {
			continue
		}
		byType[rec.MemoryType] = append(byType[rec.MemoryType], rec)
	}

	merged := 0
	for _, group := range byType {
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		consumed := make(map[string]bool)
		for i := 0; i < len(group); i++ {
			if consumed[group[i].ID] {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if consumed[group[j].ID] {
					continue
				}
				if group[j].CreatedAt.Sub(group[i].CreatedAt) > window {
					break
				}
				keeper, absorbed := group[i], group[j]
				if absorbed.ImportanceScore > keeper.ImportanceScore {
					keeper, absorbed = absorbed, keeper
				}
				newScore := types.ClampImportance(keeper.MemoryType,
					keeper.ImportanceScore+p.ConsolidateAbsorbFraction*absorbed.ImportanceScore)
				if err := e.mergeMemories(ctx, keeper.ID, absorbed.ID, newScore); err != nil {
					return merged, err
				}
				keeper.ImportanceScore = newScore
				consumed[absorbed.ID] = true
				merged++
				// An absorbed anchor is archived and can never act as
				// keeper for later candidates.
				if consumed[group[i].ID] {
					break
				}
			}
		}
	}
	return merged, nil
}

// RunMaintenance runs the stale-archive and consolidation sweeps for one
// owner concurrently and returns the combined report. Empty ownerID sweeps
// all owners for archival but skips consolidation, which is per-owner.
func (e *StorageEngine) RunMaintenance(ctx context.Context, ownerID string) (MaintenanceReport, error) {
	var report MaintenanceReport
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := e.ArchiveStale(ctx, ownerID)
		report.ArchivedStale = n
		return err
	})
	if ownerID != "" {
		g.Go(func() error {
			n, err := e.Consolidate(ctx, ownerID)
			report.Consolidated = n
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	e.log.WithFields(logrus.Fields{
		"owner_id":       ownerID,
		"archived_stale": report.ArchivedStale,
		"consolidated":   report.Consolidated,
	}).Info("maintenance cycle complete")
	return report, nil
}

// listForMaintenance fetches active records under retry, tagging failures
// with the maintenance operation.
func (e *StorageEngine) listForMaintenance(ctx context.Context, operation string, opts storage.ListOptions) ([]types.MemoryRecord, error) {
	return resilience.Do(ctx, e.errs, "storage_engine", operation, e.retry, func(ctx context.Context) ([]types.MemoryRecord, error) {
		return e.store.List(ctx, opts)
	})
}

func (e *StorageEngine) updateImportance(ctx context.Context, operation, id string, score float64) error {
	_, err := resilience.Do(ctx, e.errs, "storage_engine", operation, e.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.UpdateImportance(ctx, id, score)
	})
	return err
}

func (e *StorageEngine) setArchived(ctx context.Context, operation, id, reason string) error {
	_, err := resilience.Do(ctx, e.errs, "storage_engine", operation, e.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.SetArchived(ctx, id, reason)
	})
	return err
}

func (e *StorageEngine) mergeMemories(ctx context.Context, keeperID, absorbedID string, newImportance float64) error {
	_, err := resilience.Do(ctx, e.errs, "storage_engine", "consolidate", e.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.MergeMemories(ctx, keeperID, absorbedID, newImportance)
	})
	return err
}

// levelAlignment maps the distance between a memory's recorded level and a
// reference level onto [0, 1], where 1 is a perfect match.
func levelAlignment(recorded, reference float64) float64 {
	return 1.0 - math.Min(1.0, math.Abs(recorded-reference))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
