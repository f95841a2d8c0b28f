/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package deletion orchestrates scheduled destructive work. A deletion
// moves forward-only through its state machine; every physical file
// operation is delegated to a watcher and confirmed by a completion
// message before any record is removed.
package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/eventbus"
	"github.com/voclinx/scannarr/internal/integrations"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/protocol"
	"github.com/voclinx/scannarr/internal/storage"
	"github.com/voclinx/scannarr/internal/telemetry"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	DeletionByID(ctx context.Context, id string) (*models.ScheduledDeletion, error)
	DeletionsByStatus(ctx context.Context, status models.DeletionStatus) ([]models.ScheduledDeletion, error)
	DueDeletions(ctx context.Context, now time.Time) ([]models.ScheduledDeletion, error)
	PendingReminders(ctx context.Context, now time.Time, lead time.Duration) ([]models.ScheduledDeletion, error)
	TransitionDeletion(ctx context.Context, del *models.ScheduledDeletion, next models.DeletionStatus, mutate func(*models.ScheduledDeletion)) error
	SaveDeletion(ctx context.Context, del *models.ScheduledDeletion) error
	SaveDeletionItem(ctx context.Context, item *models.DeletionItem) error

	MediaFilesByIDs(ctx context.Context, ids []string) ([]models.MediaFile, error)
	DeleteMediaFilesByIDs(ctx context.Context, ids []string) (int64, error)
	VolumeByID(ctx context.Context, id string) (*models.Volume, error)
	UpsertMediaFile(ctx context.Context, file *models.MediaFile) error
	MovieByID(ctx context.Context, id string) (*models.Movie, error)
}

// Sender delivers commands to watchers. An empty watcherID means any
// authenticated watcher; ok is false when no recipient was available.
type Sender interface {
	SendCommand(watcherID, msgType string, data any) (ok bool)
}

// Auditor records deletion outcomes.
type Auditor interface {
	Record(ctx context.Context, action models.AuditAction, watcherID, resourceType, resourceID string, details map[string]any)
}

// Orchestrator drives scheduled deletions through their state machine.
type Orchestrator struct {
	store       Store
	sender      Sender
	catalog     integrations.Catalog
	mediaServer integrations.MediaServer
	bus         eventbus.Bus
	audit       Auditor
	objects     storage.ObjectStore
	notFound    error
	logger      zerolog.Logger
}

// New creates the orchestrator. catalog, mediaServer, bus, audit and
// objects are all best-effort collaborators and may be nil.
func New(store Store, sender Sender, catalog integrations.Catalog, mediaServer integrations.MediaServer, bus eventbus.Bus, auditor Auditor, objects storage.ObjectStore, notFound error, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		sender:      sender,
		catalog:     catalog,
		mediaServer: mediaServer,
		bus:         bus,
		audit:       auditor,
		objects:     objects,
		notFound:    notFound,
		logger:      logger.With().Str("component", "deletion").Logger(),
	}
}

// resolveTriples expands a deletion's items into concrete delete specs.
// Files already gone from the store are silently skipped; the deletion
// may have been partially superseded by a scan.
func (o *Orchestrator) resolveTriples(ctx context.Context, del *models.ScheduledDeletion) ([]protocol.DeleteFileSpec, error) {
	var ids []string
	for _, item := range del.Items {
		ids = append(ids, item.MediaFileIDs...)
	}
	files, err := o.store.MediaFilesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve deletion %s: %w", del.ID, err)
	}

	volumes := make(map[string]*models.Volume)
	var specs []protocol.DeleteFileSpec
	for i := range files {
		f := &files[i]
		vol, ok := volumes[f.VolumeID]
		if !ok {
			vol, err = o.store.VolumeByID(ctx, f.VolumeID)
			if err != nil {
				return nil, fmt.Errorf("resolve volume %s: %w", f.VolumeID, err)
			}
			volumes[f.VolumeID] = vol
		}
		specs = append(specs, protocol.DeleteFileSpec{
			MediaFileID: f.ID,
			VolumePath:  vol.HostPath,
			Path:        f.RelativePath,
		})
	}
	return specs, nil
}

// Execute begins execution of one deletion: hardlink replacement first
// when required, physical deletion otherwise. With no watcher connected
// the deletion parks in WAITING_WATCHER until one authenticates.
func (o *Orchestrator) Execute(ctx context.Context, del *models.ScheduledDeletion) error {
	if del.Status.Terminal() || del.Status == models.DeletionExecuting {
		return nil
	}

	specs, err := o.resolveTriples(ctx, del)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return o.completeEmpty(ctx, del)
	}
	return o.issueCommand(ctx, del, "", specs)
}

// issueCommand sends the next command for a deletion to a watcher. An
// empty watcherID lets the sender pick any authenticated one.
func (o *Orchestrator) issueCommand(ctx context.Context, del *models.ScheduledDeletion, watcherID string, specs []protocol.DeleteFileSpec) error {
	requestID := uuid.NewString()

	var msgType string
	var payload any
	if del.RequiresHardlink() {
		target, err := o.store.VolumeByID(ctx, *del.HardlinkTargetVolumeID)
		if err != nil {
			return fmt.Errorf("hardlink target volume: %w", err)
		}
		links := make([]protocol.HardlinkSpec, 0, len(specs))
		for _, spec := range specs {
			links = append(links, protocol.HardlinkSpec{
				MediaFileID:      spec.MediaFileID,
				SourceVolumePath: spec.VolumePath,
				SourcePath:       spec.Path,
				TargetVolumePath: target.HostPath,
				TargetPath:       spec.Path,
			})
		}
		msgType = protocol.CmdFilesHardlink
		payload = protocol.HardlinkCommandData{RequestID: requestID, DeletionID: del.ID, Files: links}
	} else {
		msgType = protocol.CmdFilesDelete
		payload = protocol.DeleteCommandData{RequestID: requestID, DeletionID: del.ID, Files: specs}
	}

	if !o.sender.SendCommand(watcherID, msgType, payload) {
		if del.Status == models.DeletionWaitingWatcher {
			return nil
		}
		o.logger.Info().Str("deletion_id", del.ID).Msg("no watcher connected, deletion parked")
		return o.store.TransitionDeletion(ctx, del, models.DeletionWaitingWatcher, nil)
	}
	telemetry.MessagesSent.WithLabelValues(msgType).Inc()

	now := time.Now()
	err := o.store.TransitionDeletion(ctx, del, models.DeletionExecuting, func(d *models.ScheduledDeletion) {
		d.LastRequestID = requestID
		d.ExecutedAt = &now
	})
	if err != nil {
		return err
	}
	telemetry.DeletionsByStatus.WithLabelValues(string(models.DeletionExecuting)).Inc()
	if o.audit != nil {
		o.audit.Record(ctx, models.AuditActionDeletionExecuted, watcherID, "deletion", del.ID, map[string]any{
			"request_id": requestID,
			"files":      len(specs),
			"hardlink":   del.RequiresHardlink(),
		})
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.EventDeletionExecuted, eventbus.Payload{
			"deletion_id": del.ID, "files": len(specs),
		})
	}
	o.logger.Info().
		Str("deletion_id", del.ID).
		Str("request_id", requestID).
		Int("files", len(specs)).
		Str("command", msgType).
		Msg("deletion command sent")
	return nil
}

// completeEmpty finishes a deletion whose files are all gone already.
func (o *Orchestrator) completeEmpty(ctx context.Context, del *models.ScheduledDeletion) error {
	err := o.store.TransitionDeletion(ctx, del, models.DeletionCompleted, func(d *models.ScheduledDeletion) {
		d.ExecutionReport = map[string]any{
			"deleted": 0, "failed": 0, "freed_bytes": 0,
			"note": "no files remained to delete",
		}
	})
	if err != nil {
		return err
	}
	telemetry.DeletionsByStatus.WithLabelValues(string(models.DeletionCompleted)).Inc()
	o.finalize(ctx, del, true, 0)
	o.logger.Info().Str("deletion_id", del.ID).Msg("deletion completed with nothing to do")
	return nil
}

// ReplayWaiting re-issues commands for every deletion parked in
// WAITING_WATCHER, addressed to the freshly authenticated watcher. Each
// replay mints a new request id; stale completions for old ids are
// ignored on receipt.
func (o *Orchestrator) ReplayWaiting(ctx context.Context, watcherID string) error {
	waiting, err := o.store.DeletionsByStatus(ctx, models.DeletionWaitingWatcher)
	if err != nil {
		return err
	}
	for i := range waiting {
		del := &waiting[i]
		specs, err := o.resolveTriples(ctx, del)
		if err != nil {
			o.logger.Error().Err(err).Str("deletion_id", del.ID).Msg("replay resolve failed")
			continue
		}
		if len(specs) == 0 {
			if err := o.completeEmpty(ctx, del); err != nil {
				o.logger.Error().Err(err).Str("deletion_id", del.ID).Msg("replay completion failed")
			}
			continue
		}
		if err := o.issueCommand(ctx, del, watcherID, specs); err != nil {
			o.logger.Error().Err(err).Str("deletion_id", del.ID).Msg("replay failed")
		}
	}
	return nil
}

// SendReminders moves due PENDING deletions to REMINDER_SENT and
// publishes a reminder event for each.
func (o *Orchestrator) SendReminders(ctx context.Context, now time.Time, lead time.Duration) error {
	due, err := o.store.PendingReminders(ctx, now, lead)
	if err != nil {
		return err
	}
	for i := range due {
		del := &due[i]
		err := o.store.TransitionDeletion(ctx, del, models.DeletionReminderSent, func(d *models.ScheduledDeletion) {
			d.RemindedAt = &now
		})
		if err != nil {
			o.logger.Error().Err(err).Str("deletion_id", del.ID).Msg("reminder transition failed")
			continue
		}
		telemetry.DeletionsByStatus.WithLabelValues(string(models.DeletionReminderSent)).Inc()
		if o.bus != nil {
			o.bus.Publish(eventbus.EventDeletionReminder, eventbus.Payload{
				"deletion_id":   del.ID,
				"scheduled_for": del.ScheduledFor,
			})
		}
		o.logger.Info().Str("deletion_id", del.ID).Time("scheduled_for", del.ScheduledFor).
			Msg("deletion reminder sent")
	}
	return nil
}

// ExecuteDue starts every deletion whose scheduled time has passed.
func (o *Orchestrator) ExecuteDue(ctx context.Context, now time.Time) error {
	due, err := o.store.DueDeletions(ctx, now)
	if err != nil {
		return err
	}
	for i := range due {
		if err := o.Execute(ctx, &due[i]); err != nil {
			o.logger.Error().Err(err).Str("deletion_id", due[i].ID).Msg("execute failed")
		}
	}
	return nil
}

// Cancel aborts a deletion. The transition guard rejects cancellation
// of terminal deletions.
func (o *Orchestrator) Cancel(ctx context.Context, id, cancelledBy string) error {
	del, err := o.store.DeletionByID(ctx, id)
	if err != nil {
		return err
	}
	err = o.store.TransitionDeletion(ctx, del, models.DeletionCancelled, func(d *models.ScheduledDeletion) {
		d.ExecutionReport = map[string]any{"cancelled_by": cancelledBy}
	})
	if err != nil {
		return err
	}
	telemetry.DeletionsByStatus.WithLabelValues(string(models.DeletionCancelled)).Inc()
	if o.audit != nil {
		o.audit.Record(ctx, models.AuditActionDeletionCancelled, "", "deletion", del.ID, map[string]any{
			"cancelled_by": cancelledBy,
		})
	}
	if o.bus != nil {
		o.bus.Publish(eventbus.EventDeletionCancelled, eventbus.Payload{"deletion_id": del.ID})
	}
	o.logger.Info().Str("deletion_id", del.ID).Str("by", cancelledBy).Msg("deletion cancelled")
	return nil
}

// HandleDeleteProgress logs watcher progress. Informational only.
func (o *Orchestrator) HandleDeleteProgress(ctx context.Context, data protocol.DeleteProgressData) error {
	o.logger.Debug().
		Str("deletion_id", data.DeletionID).
		Str("request_id", data.RequestID).
		Int("processed", data.Processed).
		Int("total", data.Total).
		Msg("deletion progress")
	return nil
}

// lookupDeletion fetches the deletion for a completion message and
// verifies the request id, so a replayed command's stale completion
// cannot double-apply.
func (o *Orchestrator) lookupDeletion(ctx context.Context, deletionID, requestID string) (*models.ScheduledDeletion, error) {
	del, err := o.store.DeletionByID(ctx, deletionID)
	if err != nil {
		if errors.Is(err, o.notFound) {
			o.logger.Warn().Str("deletion_id", deletionID).Msg("completion for unknown deletion, ignoring")
			return nil, nil
		}
		return nil, err
	}
	if del.LastRequestID != requestID {
		o.logger.Warn().
			Str("deletion_id", deletionID).
			Str("request_id", requestID).
			Str("expected", del.LastRequestID).
			Msg("stale completion, ignoring")
		return nil, nil
	}
	return del, nil
}

// HandleHardlinkCompleted processes the outcome of a hardlink command.
// Success records the replacement files and chains into the physical
// delete step; failure terminates the deletion.
func (o *Orchestrator) HandleHardlinkCompleted(ctx context.Context, data protocol.HardlinkCompletedData) error {
	del, err := o.lookupDeletion(ctx, data.DeletionID, data.RequestID)
	if err != nil || del == nil {
		return err
	}

	if !data.Success {
		err := o.store.TransitionDeletion(ctx, del, models.DeletionFailed, func(d *models.ScheduledDeletion) {
			d.ExecutionReport = map[string]any{"hardlink_error": data.Error}
		})
		if err != nil {
			return err
		}
		telemetry.DeletionsByStatus.WithLabelValues(string(models.DeletionFailed)).Inc()
		if o.audit != nil {
			o.audit.Record(ctx, models.AuditActionDeletionFailed, "", "deletion", del.ID, map[string]any{
				"hardlink_error": data.Error,
			})
		}
		if o.bus != nil {
			o.bus.Publish(eventbus.EventDeletionFailed, eventbus.Payload{
				"deletion_id": del.ID, "reason": data.Error,
			})
		}
		o.logger.Error().Str("deletion_id", del.ID).Str("error", data.Error).
			Msg("hardlink replacement failed")
		return nil
	}

	if del.HardlinkTargetVolumeID == nil {
		return fmt.Errorf("hardlink completion for deletion %s without a target volume", del.ID)
	}
	targetVolID := *del.HardlinkTargetVolumeID
	for _, result := range data.Files {
		file := &models.MediaFile{
			VolumeID:      targetVolID,
			RelativePath:  result.TargetPath,
			Size:          result.Size,
			HardlinkCount: 2, // the original still exists until the delete step lands
			DeviceID:      result.DeviceID,
			Inode:         result.Inode,
		}
		if err := o.store.UpsertMediaFile(ctx, file); err != nil {
			o.logger.Error().Err(err).Str("path", result.TargetPath).
				Msg("failed to record replacement file")
		}
	}
	if o.audit != nil {
		o.audit.Record(ctx, models.AuditActionHardlinkReplaced, "", "deletion", del.ID, map[string]any{
			"files": len(data.Files),
		})
	}
	o.rescanAffectedMovies(ctx, del)

	// Hardlinks are in place; the originals can now go.
	specs, err := o.resolveTriples(ctx, del)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	payload := protocol.DeleteCommandData{RequestID: requestID, DeletionID: del.ID, Files: specs}
	if !o.sender.SendCommand("", protocol.CmdFilesDelete, payload) {
		o.logger.Warn().Str("deletion_id", del.ID).
			Msg("watcher vanished between hardlink and delete, deletion parked")
		// EXECUTING has no edge back to WAITING_WATCHER; the deletion
		// stays EXECUTING and the next replayed completion resolves it.
		return nil
	}
	telemetry.MessagesSent.WithLabelValues(protocol.CmdFilesDelete).Inc()
	del.LastRequestID = requestID
	return o.store.SaveDeletion(ctx, del)
}

// rescanAffectedMovies asks the catalog to re-inspect each movie touched
// by the deletion. Best-effort.
func (o *Orchestrator) rescanAffectedMovies(ctx context.Context, del *models.ScheduledDeletion) {
	if o.catalog == nil {
		return
	}
	for _, item := range del.Items {
		if item.MovieID == nil {
			continue
		}
		movie, err := o.store.MovieByID(ctx, *item.MovieID)
		if err != nil {
			o.logger.Warn().Err(err).Str("movie_id", *item.MovieID).Msg("rescan lookup failed")
			continue
		}
		if movie.RadarrID == 0 {
			continue
		}
		if err := o.catalog.RescanMovie(ctx, movie.RadarrID); err != nil {
			o.logger.Warn().Err(err).Str("movie", movie.Title).Msg("catalog rescan failed")
		}
	}
}

// HandleDeleteCompleted processes the final outcome of a delete command:
// record removal, per-item statuses, the execution report, the terminal
// transition, and the best-effort side effects.
func (o *Orchestrator) HandleDeleteCompleted(ctx context.Context, data protocol.DeleteCompletedData) error {
	del, err := o.lookupDeletion(ctx, data.DeletionID, data.RequestID)
	if err != nil || del == nil {
		return err
	}

	outcome := summarize(data.Results)
	if len(outcome.deletedIDs) > 0 {
		if _, err := o.store.DeleteMediaFilesByIDs(ctx, outcome.deletedIDs); err != nil {
			return fmt.Errorf("remove deleted records: %w", err)
		}
	}

	for i := range del.Items {
		item := &del.Items[i]
		o.applyItemOutcome(item, outcome)
		if err := o.store.SaveDeletionItem(ctx, item); err != nil {
			o.logger.Error().Err(err).Str("item_id", item.ID).Msg("item save failed")
		}
	}

	status := models.DeletionCompleted
	if len(outcome.deletedIDs) == 0 && len(outcome.errors) > 0 {
		status = models.DeletionFailed
	}
	report := map[string]any{
		"deleted":     len(outcome.deletedIDs),
		"failed":      len(outcome.errors),
		"freed_bytes": outcome.freedBytes,
	}
	if len(outcome.errors) > 0 {
		report["errors"] = outcome.errors
	}
	err = o.store.TransitionDeletion(ctx, del, status, func(d *models.ScheduledDeletion) {
		d.ExecutionReport = report
	})
	if err != nil {
		return err
	}
	telemetry.DeletionsByStatus.WithLabelValues(string(status)).Inc()
	telemetry.DeletionBytesFreed.Add(float64(outcome.freedBytes))

	o.finalize(ctx, del, status == models.DeletionCompleted, len(outcome.deletedIDs))
	o.logger.Info().
		Str("deletion_id", del.ID).
		Str("status", string(status)).
		Int("deleted", len(outcome.deletedIDs)).
		Int("failed", len(outcome.errors)).
		Int64("freed_bytes", outcome.freedBytes).
		Msg("deletion finished")
	return nil
}

type deleteOutcome struct {
	deletedIDs []string
	freedBytes int64
	errors     []string
	// per media file id
	deletedSet map[string]bool
	failedMsg  map[string]string
	freedByID  map[string]int64
}

func summarize(results []protocol.FileResult) deleteOutcome {
	out := deleteOutcome{
		deletedSet: make(map[string]bool),
		failedMsg:  make(map[string]string),
		freedByID:  make(map[string]int64),
	}
	for _, res := range results {
		if res.Deleted {
			out.deletedIDs = append(out.deletedIDs, res.MediaFileID)
			out.deletedSet[res.MediaFileID] = true
			out.freedBytes += res.FreedBytes
			out.freedByID[res.MediaFileID] = res.FreedBytes
			continue
		}
		msg := res.Error
		if msg == "" {
			msg = "unknown error"
		}
		out.errors = append(out.errors, fmt.Sprintf("%s: %s", res.Path, msg))
		out.failedMsg[res.MediaFileID] = msg
	}
	return out
}

// applyItemOutcome sets the per-item status from the per-file results.
// Files absent from the results (gone before the command ran) count as
// deleted.
func (o *Orchestrator) applyItemOutcome(item *models.DeletionItem, outcome deleteOutcome) {
	var failures []string
	var freed int64
	for _, id := range item.MediaFileIDs {
		if msg, failed := outcome.failedMsg[id]; failed {
			failures = append(failures, msg)
			continue
		}
		freed += outcome.freedByID[id]
	}
	item.FreedBytes = freed
	if len(failures) > 0 {
		item.Status = models.ItemPartialFailure
		item.ErrorMessage = strings.Join(failures, "; ")
		return
	}
	item.Status = models.ItemDeleted
}

// finalize runs the post-terminal side effects. Each one is individually
// fault-tolerant; a failed refresh never un-completes a deletion.
func (o *Orchestrator) finalize(ctx context.Context, del *models.ScheduledDeletion, completed bool, deleted int) {
	if o.catalog != nil {
		for _, item := range del.Items {
			if item.MovieID == nil {
				continue
			}
			movie, err := o.store.MovieByID(ctx, *item.MovieID)
			if err != nil || movie.RadarrID == 0 {
				continue
			}
			if del.DeleteRadarrReference {
				if err := o.catalog.DeleteMovie(ctx, movie.RadarrID); err != nil {
					o.logger.Warn().Err(err).Str("movie", movie.Title).Msg("catalog delete failed")
				}
			} else if del.DisableRadarrAutoSearch {
				if err := o.catalog.DisableAutoSearch(ctx, movie.RadarrID); err != nil {
					o.logger.Warn().Err(err).Str("movie", movie.Title).Msg("disable auto search failed")
				}
			}
		}
	}

	// A refresh only makes sense when something actually left the disk.
	if del.DeleteMediaPlayerReference && deleted > 0 && o.mediaServer != nil {
		if err := o.mediaServer.RefreshLibrary(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("media server refresh failed")
		}
	}

	eventType := eventbus.EventDeletionCompleted
	action := models.AuditActionDeletionCompleted
	if !completed {
		eventType = eventbus.EventDeletionFailed
		action = models.AuditActionDeletionFailed
	}
	if o.bus != nil {
		o.bus.Publish(eventType, eventbus.Payload{
			"deletion_id": del.ID,
			"report":      del.ExecutionReport,
		})
	}
	if o.audit != nil {
		o.audit.Record(ctx, action, "", "deletion", del.ID, del.ExecutionReport)
	}
	o.archiveReport(ctx, del)
}

// archiveReport stores the execution report in object storage.
func (o *Orchestrator) archiveReport(ctx context.Context, del *models.ScheduledDeletion) {
	if o.objects == nil || del.ExecutionReport == nil {
		return
	}
	body, err := json.Marshal(map[string]any{
		"deletion_id": del.ID,
		"status":      del.Status,
		"report":      del.ExecutionReport,
		"archived_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	key := "reports/" + del.ID + ".json"
	if err := o.objects.Put(ctx, key, "application/json", body); err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("report archive failed")
	}
}
