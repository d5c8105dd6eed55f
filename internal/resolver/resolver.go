package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/pkg/logger"
	"github.com/aegis-mobile/synccore/pkg/metrics"
)

// ConflictType classifies the shape of a local/remote divergence.
type ConflictType string

const (
	ConflictCreate ConflictType = "create" // local absent, remote present
	ConflictDelete ConflictType = "delete" // local present, remote absent
	ConflictUpdate ConflictType = "update" // both present
)

// ActionTaken records what a resolution did to the local store.
type ActionTaken string

const (
	ActionAppliedRemote ActionTaken = "applied_remote"
	ActionDeletedLocal  ActionTaken = "deleted_local"
	ActionKeptLocal     ActionTaken = "kept_local"
	ActionRequeuedLocal ActionTaken = "requeued_local"
	ActionIgnoredRemote ActionTaken = "ignored_remote"
	ActionMerged        ActionTaken = "merged"
	ActionDeferred      ActionTaken = "deferred"
)

// Resolution is the deterministic outcome of resolving one conflict.
type Resolution struct {
	Kind     models.Kind
	Type     ConflictType
	Strategy models.Strategy
	Action   ActionTaken
	// Result is the post-resolution record, when one exists locally.
	Result models.Entity
}

// Resolver reconciles a local and remote version of the same logical
// record. It performs no network I/O: decisions are applied to the local
// store, and records needing re-upload go through the action queue.
type Resolver struct {
	store *store.Store
	queue *queue.Queue
	log   *zap.Logger
	audit *auditLog
}

// New constructs a Resolver.
func New(st *store.Store, q *queue.Queue) (*Resolver, error) {
	if st == nil {
		return nil, errors.New("resolver: store is required")
	}
	if q == nil {
		return nil, errors.New("resolver: queue is required")
	}
	return &Resolver{
		store: st,
		queue: q,
		log:   logger.WithModule("resolver"),
		audit: newAuditLog(auditCapacity),
	}, nil
}

// Classify determines the conflict type from presence of the two sides.
func Classify(local, remote models.Entity) (ConflictType, error) {
	switch {
	case local == nil && remote == nil:
		return "", errors.New("resolver: both sides absent")
	case local == nil:
		return ConflictCreate, nil
	case remote == nil:
		return ConflictDelete, nil
	default:
		return ConflictUpdate, nil
	}
}

// Resolve reconciles the two sides under the given strategy (the kind's
// default when empty) and applies the decision to the local store.
// Identical inputs always produce an identical resolution.
func (r *Resolver) Resolve(ctx context.Context, kind models.Kind, local, remote models.Entity, strategy models.Strategy) (*Resolution, error) {
	conflictType, err := Classify(local, remote)
	if err != nil {
		return nil, err
	}
	if strategy == "" {
		strategy = kind.DefaultStrategy()
	}

	var resolution *Resolution
	switch strategy {
	case models.StrategyServerWins:
		resolution, err = r.serverWins(ctx, kind, conflictType, local, remote)
	case models.StrategyClientWins:
		resolution, err = r.clientWins(ctx, kind, conflictType, local, remote)
	case models.StrategyMerge:
		resolution, err = r.merge(ctx, kind, conflictType, local, remote)
	case models.StrategyManual:
		resolution, err = r.manual(ctx, kind, conflictType, local, remote)
	default:
		return nil, fmt.Errorf("resolver: unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	r.audit.record(AuditEntry{
		Table:    kind.Table(),
		Type:     conflictType,
		Strategy: strategy,
		Action:   resolution.Action,
	})
	metrics.Conflicts.WithLabelValues(kind.Table(), string(strategy)).Inc()
	r.log.Debug("conflict resolved",
		zap.String("table", kind.Table()),
		zap.String("type", string(conflictType)),
		zap.String("strategy", string(strategy)),
		zap.String("action", string(resolution.Action)))

	return resolution, nil
}

// serverWins: the remote copy is authoritative. Remote absence deletes the
// local row outright.
func (r *Resolver) serverWins(ctx context.Context, kind models.Kind, conflictType ConflictType, local, remote models.Entity) (*Resolution, error) {
	resolution := &Resolution{Kind: kind, Type: conflictType, Strategy: models.StrategyServerWins}

	if remote == nil {
		if err := r.store.Delete(ctx, kind, local.Metadata().ID); err != nil {
			return nil, err
		}
		resolution.Action = ActionDeletedLocal
		return resolution, nil
	}

	if err := r.store.UpsertRemote(ctx, remote); err != nil {
		return nil, err
	}
	resolution.Action = ActionAppliedRemote
	resolution.Result = remote
	return resolution, nil
}

// clientWins: the local copy is kept. A differing remote (or a remote
// delete) means the local record must reach the backend again, so it is
// re-queued for upload. Remote-only records are ignored.
func (r *Resolver) clientWins(ctx context.Context, kind models.Kind, conflictType ConflictType, local, remote models.Entity) (*Resolution, error) {
	resolution := &Resolution{Kind: kind, Type: conflictType, Strategy: models.StrategyClientWins}

	if local == nil {
		resolution.Action = ActionIgnoredRemote
		return resolution, nil
	}

	resolution.Result = local

	if remote != nil {
		same, err := entitiesEqual(local, remote)
		if err != nil {
			return nil, err
		}
		if same {
			resolution.Action = ActionKeptLocal
			return resolution, nil
		}
	}

	if err := r.requeueUpload(ctx, kind, local.Metadata().ID); err != nil {
		return nil, err
	}
	resolution.Action = ActionRequeuedLocal
	return resolution, nil
}

// merge: combine both sides with the kind's reducer, store the result as a
// fresh local mutation, and re-queue it for upload.
func (r *Resolver) merge(ctx context.Context, kind models.Kind, conflictType ConflictType, local, remote models.Entity) (*Resolution, error) {
	resolution := &Resolution{Kind: kind, Type: conflictType, Strategy: models.StrategyMerge}

	switch {
	case local == nil:
		if err := r.store.UpsertRemote(ctx, remote); err != nil {
			return nil, err
		}
		resolution.Action = ActionAppliedRemote
		resolution.Result = remote
		return resolution, nil
	case remote == nil:
		if err := r.requeueUpload(ctx, kind, local.Metadata().ID); err != nil {
			return nil, err
		}
		resolution.Action = ActionRequeuedLocal
		resolution.Result = local
		return resolution, nil
	}

	merged, err := mergeEntities(kind, local, remote)
	if err != nil {
		return nil, err
	}

	if err := r.store.Upsert(ctx, merged); err != nil {
		return nil, err
	}
	if err := r.requeueUpload(ctx, kind, merged.Metadata().ID); err != nil {
		return nil, err
	}
	resolution.Action = ActionMerged
	resolution.Result = merged
	return resolution, nil
}

// manual: persist both snapshots for later resolution; no mutation now.
func (r *Resolver) manual(ctx context.Context, kind models.Kind, conflictType ConflictType, local, remote models.Entity) (*Resolution, error) {
	record := models.ConflictRecord{
		TargetTable:  kind.Table(),
		ConflictType: string(conflictType),
		Strategy:     string(models.StrategyManual),
	}
	if local != nil {
		record.RecordID = local.Metadata().ID
		raw, err := json.Marshal(local)
		if err != nil {
			return nil, err
		}
		record.LocalSnapshot = datatypes.JSON(raw)
	}
	if remote != nil {
		if record.RecordID == "" {
			record.RecordID = remote.Metadata().ID
		}
		raw, err := json.Marshal(remote)
		if err != nil {
			return nil, err
		}
		record.RemoteSnapshot = datatypes.JSON(raw)
	}

	if err := r.store.DB().WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}

	return &Resolution{
		Kind:     kind,
		Type:     conflictType,
		Strategy: models.StrategyManual,
		Action:   ActionDeferred,
	}, nil
}

// PendingConflicts lists conflicts awaiting manual resolution.
func (r *Resolver) PendingConflicts(ctx context.Context, limit int) ([]models.ConflictRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.ConflictRecord
	err := r.store.DB().WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *Resolver) requeueUpload(ctx context.Context, kind models.Kind, recordID string) error {
	_, err := r.queue.Enqueue(ctx, queue.ActionForKind(kind), kind.Table(), recordID,
		map[string]string{"record_id": recordID})
	return err
}

func entitiesEqual(a, b models.Entity) (bool, error) {
	rawA, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	rawB, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(rawA, rawB), nil
}
