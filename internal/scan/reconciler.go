/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/eventbus"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/protocol"
	"github.com/voclinx/scannarr/internal/telemetry"
)

// Library is the store surface the reconciler needs.
type Library interface {
	ResolveVolume(ctx context.Context, absPath string) (*models.Volume, error)
	VolumeByID(ctx context.Context, id string) (*models.Volume, error)
	ListVolumes(ctx context.Context) ([]models.Volume, error)
	SaveVolume(ctx context.Context, vol *models.Volume) error
	UpsertMediaFile(ctx context.Context, file *models.MediaFile) error
	RelativePathsForVolume(ctx context.Context, volumeID string) ([]string, error)
	DeleteMediaFilesByPaths(ctx context.Context, volumeID string, relPaths []string) (int64, error)
	MediaFilesForVolume(ctx context.Context, volumeID string) ([]models.MediaFile, error)
	MovieByFolderName(ctx context.Context, folder string) (*models.Movie, error)
	SaveMediaFile(ctx context.Context, file *models.MediaFile) error
}

// Cache is the read-through cache for volume lookups; may be nil.
// Clear invalidates everything after batched writes.
type Cache interface {
	GetVolumes(ctx context.Context) ([]models.Volume, bool)
	SetVolumes(ctx context.Context, vols []models.Volume)
	Clear(ctx context.Context)
}

// Auditor records scan outcomes.
type Auditor interface {
	Record(ctx context.Context, action models.AuditAction, watcherID, resourceType, resourceID string, details map[string]any)
}

// Reconciler consumes scan messages and converges the record store on
// what the watcher actually found on disk.
type Reconciler struct {
	library  Library
	sessions *SessionStore
	cache    Cache
	audit    Auditor
	bus      eventbus.Bus
	notFound error
	logger   zerolog.Logger
}

// NewReconciler creates the reconciler. notFound is the store's missing
// record sentinel; cache, audit and bus may be nil.
func NewReconciler(library Library, sessions *SessionStore, cache Cache, auditor Auditor, bus eventbus.Bus, notFound error, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		library:  library,
		sessions: sessions,
		cache:    cache,
		audit:    auditor,
		bus:      bus,
		notFound: notFound,
		logger:   logger.With().Str("component", "scan").Logger(),
	}
}

// volumes returns the volume list through the cache, populating it on a
// miss.
func (r *Reconciler) volumes(ctx context.Context) ([]models.Volume, error) {
	if r.cache != nil {
		if vols, ok := r.cache.GetVolumes(ctx); ok {
			return vols, nil
		}
	}
	vols, err := r.library.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.SetVolumes(ctx, vols)
	}
	return vols, nil
}

// volumeByID answers from the cached list first, then the store.
func (r *Reconciler) volumeByID(ctx context.Context, id string) (*models.Volume, error) {
	if vols, err := r.volumes(ctx); err == nil {
		for i := range vols {
			if vols[i].ID == id {
				vol := vols[i]
				return &vol, nil
			}
		}
	}
	return r.library.VolumeByID(ctx, id)
}

// resolveVolume finds the volume containing absPath via the cached list,
// preferring the longest matching root. The store resolves anything the
// cache cannot, so a volume created after the list was cached still wins.
func (r *Reconciler) resolveVolume(ctx context.Context, absPath string) (*models.Volume, error) {
	if vols, err := r.volumes(ctx); err == nil {
		var best *models.Volume
		for i := range vols {
			if _, ok := vols[i].Contains(absPath); !ok {
				continue
			}
			if best == nil || len(vols[i].HostPath) > len(best.HostPath) {
				best = &vols[i]
			}
		}
		if best != nil {
			vol := *best
			return &vol, nil
		}
	}
	return r.library.ResolveVolume(ctx, absPath)
}

// Sessions exposes the session store for status reporting.
func (r *Reconciler) Sessions() *SessionStore { return r.sessions }

// HandleStarted opens a scan session for the volume containing the
// scanned path.
func (r *Reconciler) HandleStarted(ctx context.Context, watcherID string, data protocol.ScanStartedData) error {
	vol, err := r.resolveVolume(ctx, data.Path)
	if err != nil {
		if errors.Is(err, r.notFound) {
			return fmt.Errorf("scan %s: no volume contains %q", data.ScanID, data.Path)
		}
		return err
	}

	r.sessions.Begin(data.ScanID, vol.ID, watcherID, data.Path)
	telemetry.ScanSessionsActive.Set(float64(r.sessions.Active()))
	r.logger.Info().
		Str("scan_id", data.ScanID).
		Str("volume", vol.Name).
		Str("watcher_id", watcherID).
		Msg("scan started")
	return nil
}

// HandleFile upserts one discovered file into the record store. Without
// a session (completed scan, or a server restart mid-scan) the file is
// still upserted standalone so the report is not lost; it just cannot
// count toward any session's seen set.
func (r *Reconciler) HandleFile(ctx context.Context, data protocol.ScanFileData) error {
	sess, hasSession := r.sessions.Get(data.ScanID)

	var vol *models.Volume
	var err error
	if hasSession {
		vol, err = r.volumeByID(ctx, sess.VolumeID)
	} else {
		r.logger.Warn().Str("scan_id", data.ScanID).Str("path", data.Path).
			Msg("file report without session, standalone upsert")
		vol, err = r.resolveVolume(ctx, data.Path)
		if err != nil && errors.Is(err, r.notFound) {
			r.logger.Warn().Str("path", data.Path).Msg("no volume contains path, dropping")
			return nil
		}
	}
	if err != nil {
		return err
	}

	relPath, inVolume := vol.Contains(data.Path)
	if !inVolume || relPath == "" {
		r.logger.Warn().Str("scan_id", data.ScanID).Str("path", data.Path).
			Str("volume", vol.Name).Msg("scanned path outside session volume, dropping")
		return nil
	}

	file := &models.MediaFile{
		VolumeID:      vol.ID,
		RelativePath:  relPath,
		Size:          data.Size,
		HardlinkCount: data.HardlinkCount,
		DeviceID:      data.DeviceID,
		Inode:         data.Inode,
		ContentHash:   data.ContentHash,
	}
	if err := r.library.UpsertMediaFile(ctx, file); err != nil {
		return fmt.Errorf("scan %s upsert %q: %w", data.ScanID, relPath, err)
	}
	telemetry.ScanFilesProcessed.Inc()

	if !hasSession {
		return nil
	}
	if _, flush, _ := r.sessions.Observe(data.ScanID, relPath); flush && r.cache != nil {
		r.cache.Clear(ctx)
	}
	return nil
}

// HandleProgress records informational progress.
func (r *Reconciler) HandleProgress(ctx context.Context, data protocol.ScanProgressData) error {
	r.sessions.Progress(data.ScanID, data.Processed)
	r.logger.Debug().
		Str("scan_id", data.ScanID).
		Int64("processed", data.Processed).
		Msg("scan progress")
	return nil
}

// HandleCompleted closes the session, removes records the scan did not
// see, refreshes volume stats and correlates files to catalog movies.
func (r *Reconciler) HandleCompleted(ctx context.Context, watcherID string, data protocol.ScanCompletedData) error {
	sess, ok := r.sessions.End(data.ScanID)
	telemetry.ScanSessionsActive.Set(float64(r.sessions.Active()))
	if !ok {
		// Files may still have been upserted standalone under this scan
		// id, so cached reads must not outlive them.
		if r.cache != nil {
			r.cache.Clear(ctx)
		}
		r.logger.Warn().Str("scan_id", data.ScanID).Msg("completion for unknown scan, ignoring")
		return nil
	}

	known, err := r.library.RelativePathsForVolume(ctx, sess.VolumeID)
	if err != nil {
		return err
	}
	var stale []string
	for _, path := range known {
		if _, seen := sess.seen[path]; !seen {
			stale = append(stale, path)
		}
	}

	var removed int64
	if len(stale) > 0 {
		removed, err = r.library.DeleteMediaFilesByPaths(ctx, sess.VolumeID, stale)
		if err != nil {
			return fmt.Errorf("scan %s purge: %w", data.ScanID, err)
		}
	}

	vol, err := r.volumeByID(ctx, sess.VolumeID)
	if err != nil {
		return err
	}
	now := time.Now()
	vol.UsedBytes = data.UsedBytes
	vol.LastScanAt = &now
	if err := r.library.SaveVolume(ctx, vol); err != nil {
		return err
	}

	linked := r.correlateMovies(ctx, sess.VolumeID)

	if r.cache != nil {
		r.cache.Clear(ctx)
	}
	if r.audit != nil {
		r.audit.Record(ctx, models.AuditActionScanCompleted, watcherID, "volume", vol.ID, map[string]any{
			"scan_id":     data.ScanID,
			"total_files": data.TotalFiles,
			"used_bytes":  data.UsedBytes,
		})
		if removed > 0 {
			r.audit.Record(ctx, models.AuditActionFilesPurged, watcherID, "volume", vol.ID, map[string]any{
				"scan_id": data.ScanID,
				"removed": removed,
			})
		}
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.EventScanCompleted, eventbus.Payload{
			"scan_id":     data.ScanID,
			"volume_id":   vol.ID,
			"watcher_id":  watcherID,
			"total_files": data.TotalFiles,
			"used_bytes":  data.UsedBytes,
			"removed":     removed,
		})
	}

	r.logger.Info().
		Str("scan_id", data.ScanID).
		Str("volume", vol.Name).
		Int("seen", len(sess.seen)).
		Int64("removed", removed).
		Int("linked", linked).
		Msg("scan completed")
	return nil
}

// correlateMovies links uncorrelated files to movies by the library
// folder holding them. A path like "movies/Movie (2024)/file.mkv" is
// tried by its first, then second, segment so a category directory
// above the movie folders does not break the lookup.
func (r *Reconciler) correlateMovies(ctx context.Context, volumeID string) int {
	files, err := r.library.MediaFilesForVolume(ctx, volumeID)
	if err != nil {
		r.logger.Error().Err(err).Msg("movie correlation skipped")
		return 0
	}

	linked := 0
	for i := range files {
		file := &files[i]
		if file.MovieID != nil {
			continue
		}
		segments := strings.Split(file.RelativePath, "/")
		if len(segments) < 2 {
			continue
		}

		movie := r.lookupMovie(ctx, segments[0])
		if movie == nil && len(segments) >= 3 {
			movie = r.lookupMovie(ctx, segments[1])
		}
		if movie == nil {
			continue
		}

		file.MovieID = &movie.ID
		if err := r.library.SaveMediaFile(ctx, file); err != nil {
			r.logger.Error().Err(err).Str("path", file.RelativePath).Msg("failed to link file to movie")
			continue
		}
		linked++
	}
	return linked
}

func (r *Reconciler) lookupMovie(ctx context.Context, folder string) *models.Movie {
	movie, err := r.library.MovieByFolderName(ctx, folder)
	if err != nil {
		if !errors.Is(err, r.notFound) {
			r.logger.Error().Err(err).Str("folder", folder).Msg("movie lookup failed")
		}
		return nil
	}
	return movie
}
