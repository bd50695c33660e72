package orchestrator

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
	"github.com/mariek/littlefeed/internal/store"
)

// EntityReport counts what one pull cycle did for one entity type.
type EntityReport struct {
	Pulled  int
	Created int
	Updated int
	Deleted int
	// Skipped is set when the entity type's remote listing failed and the
	// whole type was left untouched for this cycle.
	Skipped bool
}

// SyncReport aggregates one pull/reconcile cycle.
type SyncReport struct {
	// Ran is false when another cycle was already in flight; nothing was done.
	Ran      bool
	Feedings EntityReport
	Diapers  EntityReport
}

// SyncFromCloud pulls the recent window per entity type from the remote store
// and reconciles the local store against it: remote records are upserted as
// synced, and confirmed local records absent from the window are inferred
// deleted. Reentrant-safe: a cycle arriving while one runs reports Ran=false.
//
// Each entity type is independently guarded; a failing feeding listing never
// blocks the diaper reconciliation, and the aggregate completion event fires
// either way.
func (o *Orchestrator) SyncFromCloud(ctx context.Context) SyncReport {
	if !atomic.CompareAndSwapInt32(&o.syncing, 0, 1) {
		logging.Debug("cloud sync already in flight, dropping trigger")
		return SyncReport{Ran: false}
	}
	defer atomic.StoreInt32(&o.syncing, 0)

	report := SyncReport{Ran: true}
	report.Feedings = o.pullFeedings(ctx)
	report.Diapers = o.pullDiapers(ctx)

	if err := o.store.SetValue(store.KeyFirstSyncDone, "true"); err != nil {
		logging.Error("could not persist first-sync flag", err)
	}
	if err := o.store.SetValue(store.KeyLastSyncTime, time.Now().UTC().Format(time.RFC3339)); err != nil {
		logging.Error("could not persist last sync time", err)
	}

	o.store.Emit(models.ChangeEvent{
		Type: models.EventCloudSyncCompleted,
		Fields: map[string]any{
			"feedings_pulled":  report.Feedings.Pulled,
			"feedings_created": report.Feedings.Created,
			"feedings_updated": report.Feedings.Updated,
			"feedings_deleted": report.Feedings.Deleted,
			"diapers_pulled":   report.Diapers.Pulled,
			"diapers_created":  report.Diapers.Created,
			"diapers_updated":  report.Diapers.Updated,
			"diapers_deleted":  report.Diapers.Deleted,
		},
		Timestamp: time.Now().Unix(),
	})

	logging.Info("cloud sync completed", map[string]any{
		"feedings": strconv.Itoa(report.Feedings.Pulled),
		"diapers":  strconv.Itoa(report.Diapers.Pulled),
	})
	return report
}

func (o *Orchestrator) pullFeedings(ctx context.Context) EntityReport {
	var rep EntityReport

	remote, _, err := o.transport.ListFeedings(ctx, time.Time{}, o.pullWindow)
	if err != nil {
		logging.Warn("feeding pull skipped", map[string]any{"error": err.Error()})
		rep.Skipped = true
		return rep
	}
	rep.Pulled = len(remote)

	present := make(map[string]bool, len(remote))
	for _, rec := range remote {
		present[rec.ID] = true
		created, updated, err := o.store.ApplyRemoteFeeding(rec)
		if err != nil {
			logging.Error("could not apply remote feeding", err, map[string]any{"id": rec.ID})
			continue
		}
		if created {
			rep.Created++
		}
		if updated {
			rep.Updated++
		}
	}

	// Deletion inference: a locally confirmed record missing from the remote
	// window was deleted elsewhere. Pending records prove nothing by their
	// absence; leave them for the queue. Both sides use the same bounded
	// window, so records older than it are never touched.
	locals, err := o.store.RecentFeedings(o.pullWindow)
	if err != nil {
		logging.Error("could not list local feedings for reconciliation", err)
		return rep
	}
	for _, rec := range locals {
		if present[rec.ID] || rec.SyncStatus != models.SyncSynced {
			continue
		}
		if _, err := o.store.DeleteFeeding(rec.ID); err != nil {
			logging.Error("could not apply inferred feeding deletion", err, map[string]any{"id": rec.ID})
			continue
		}
		rep.Deleted++
	}
	return rep
}

func (o *Orchestrator) pullDiapers(ctx context.Context) EntityReport {
	var rep EntityReport

	remote, _, err := o.transport.ListDiapers(ctx, time.Time{}, o.pullWindow)
	if err != nil {
		logging.Warn("diaper pull skipped", map[string]any{"error": err.Error()})
		rep.Skipped = true
		return rep
	}
	rep.Pulled = len(remote)

	present := make(map[string]bool, len(remote))
	for _, rec := range remote {
		present[rec.ID] = true
		created, updated, err := o.store.ApplyRemoteDiaper(rec)
		if err != nil {
			logging.Error("could not apply remote diaper", err, map[string]any{"id": rec.ID})
			continue
		}
		if created {
			rep.Created++
		}
		if updated {
			rep.Updated++
		}
	}

	locals, err := o.store.RecentDiapers(o.pullWindow)
	if err != nil {
		logging.Error("could not list local diapers for reconciliation", err)
		return rep
	}
	for _, rec := range locals {
		if present[rec.ID] || rec.SyncStatus != models.SyncSynced {
			continue
		}
		if _, err := o.store.DeleteDiaper(rec.ID); err != nil {
			logging.Error("could not apply inferred diaper deletion", err, map[string]any{"id": rec.ID})
			continue
		}
		rep.Deleted++
	}
	return rep
}
