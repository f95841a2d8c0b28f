/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package integration exercises the record store against a real database.
package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/voclinx/scannarr/internal/db"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(database, nil, zerolog.Nop())
}

func createVolume(t *testing.T, st *store.Store, name, hostPath string) *models.Volume {
	t.Helper()
	vol := &models.Volume{Name: name, HostPath: hostPath}
	if err := st.CreateVolume(context.Background(), vol); err != nil {
		t.Fatalf("create volume %s: %v", name, err)
	}
	return vol
}

func createFile(t *testing.T, st *store.Store, volumeID, relPath string, size int64) *models.MediaFile {
	t.Helper()
	file := &models.MediaFile{VolumeID: volumeID, RelativePath: relPath, Size: size, HardlinkCount: 1}
	if err := st.UpsertMediaFile(context.Background(), file); err != nil {
		t.Fatalf("create file %s: %v", relPath, err)
	}
	return file
}

func TestDeletionLifecycle(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	vol := createVolume(t, st, "media", "/data/media")
	f1 := createFile(t, st, vol.ID, "Movie (2020)/movie.mkv", 100)
	f2 := createFile(t, st, vol.ID, "Movie (2020)/movie.srt", 10)

	del := &models.ScheduledDeletion{
		ScheduledFor:        time.Now().Add(-time.Minute),
		DeletePhysicalFiles: true,
		Items: []models.DeletionItem{
			{MediaFileIDs: []string{f1.ID, f2.ID}},
		},
	}
	if err := st.CreateDeletion(ctx, del); err != nil {
		t.Fatalf("create deletion: %v", err)
	}
	if del.Status != models.DeletionPending {
		t.Errorf("new deletion status = %s, want pending", del.Status)
	}

	loaded, err := st.DeletionByID(ctx, del.ID)
	if err != nil {
		t.Fatalf("load deletion: %v", err)
	}
	if len(loaded.Items) != 1 || len(loaded.Items[0].MediaFileIDs) != 2 {
		t.Fatalf("items not round-tripped: %+v", loaded.Items)
	}

	due, err := st.DueDeletions(ctx, time.Now())
	if err != nil {
		t.Fatalf("due deletions: %v", err)
	}
	if len(due) != 1 || due[0].ID != del.ID {
		t.Fatalf("due deletions = %d entries, want the created one", len(due))
	}

	if err := st.TransitionDeletion(ctx, loaded, models.DeletionExecuting, func(d *models.ScheduledDeletion) {
		d.LastRequestID = "req-1"
	}); err != nil {
		t.Fatalf("transition to executing: %v", err)
	}

	// Backwards moves must be rejected.
	err = st.TransitionDeletion(ctx, loaded, models.DeletionWaitingWatcher, nil)
	if !errors.Is(err, store.ErrBadTransition) {
		t.Errorf("executing -> waiting_watcher = %v, want ErrBadTransition", err)
	}

	reloaded, err := st.DeletionByID(ctx, del.ID)
	if err != nil {
		t.Fatalf("reload deletion: %v", err)
	}
	if reloaded.Status != models.DeletionExecuting || reloaded.LastRequestID != "req-1" {
		t.Errorf("persisted deletion = %s/%s, want executing/req-1", reloaded.Status, reloaded.LastRequestID)
	}

	// Executing deletions are no longer due.
	due, err = st.DueDeletions(ctx, time.Now())
	if err != nil {
		t.Fatalf("due deletions after transition: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("executing deletion still reported due")
	}
}

func TestPendingRemindersWindow(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	now := time.Now()

	soon := &models.ScheduledDeletion{ScheduledFor: now.Add(30 * time.Minute)}
	far := &models.ScheduledDeletion{ScheduledFor: now.Add(48 * time.Hour)}
	for _, d := range []*models.ScheduledDeletion{soon, far} {
		if err := st.CreateDeletion(ctx, d); err != nil {
			t.Fatalf("create deletion: %v", err)
		}
	}

	due, err := st.PendingReminders(ctx, now, time.Hour)
	if err != nil {
		t.Fatalf("pending reminders: %v", err)
	}
	if len(due) != 1 || due[0].ID != soon.ID {
		t.Fatalf("reminder window returned %d deletions, want only the imminent one", len(due))
	}
}

func TestUpsertMediaFileRefreshesExisting(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	vol := createVolume(t, st, "media", "/data/media")
	original := createFile(t, st, vol.ID, "show/ep1.mkv", 100)

	movieID := "movie-1"
	original.MovieID = &movieID
	if err := st.SaveMediaFile(ctx, original); err != nil {
		t.Fatalf("save file: %v", err)
	}

	dev, ino := int64(7), int64(42)
	update := &models.MediaFile{
		VolumeID:      vol.ID,
		RelativePath:  "show/ep1.mkv",
		Size:          250,
		HardlinkCount: 2,
		DeviceID:      &dev,
		Inode:         &ino,
	}
	if err := st.UpsertMediaFile(ctx, update); err != nil {
		t.Fatalf("upsert existing: %v", err)
	}

	if update.ID != original.ID {
		t.Errorf("upsert created a new row (%s), want update of %s", update.ID, original.ID)
	}
	if update.Size != 250 || update.HardlinkCount != 2 || !update.HasIdentity() {
		t.Errorf("upsert did not refresh stats: %+v", update)
	}
	if update.MovieID == nil || *update.MovieID != movieID {
		t.Error("upsert must preserve the movie association")
	}
}

func TestMediaFilesBySuffixSegmentBoundaries(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	vol := createVolume(t, st, "media", "/data/media")
	exact := createFile(t, st, vol.ID, "b.mkv", 1)
	nested := createFile(t, st, vol.ID, "x/b.mkv", 1)
	createFile(t, st, vol.ID, "x/ab.mkv", 1)

	files, err := st.MediaFilesBySuffix(ctx, "b.mkv")
	if err != nil {
		t.Fatalf("suffix query: %v", err)
	}
	ids := map[string]bool{}
	for _, f := range files {
		ids[f.ID] = true
	}
	if len(files) != 2 || !ids[exact.ID] || !ids[nested.ID] {
		t.Errorf("suffix matched %d files, want the exact and nested paths only", len(files))
	}
}

func TestMediaFilesBySuffixEscapesWildcards(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	vol := createVolume(t, st, "media", "/data/media")
	literal := createFile(t, st, vol.ID, "a/movie_1.mkv", 1)
	createFile(t, st, vol.ID, "a/movieX1.mkv", 1)

	files, err := st.MediaFilesBySuffix(ctx, "movie_1.mkv")
	if err != nil {
		t.Fatalf("suffix query: %v", err)
	}
	if len(files) != 1 || files[0].ID != literal.ID {
		t.Errorf("underscore treated as a wildcard: %d matches", len(files))
	}
}

func TestResolveVolumeLongestPrefix(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	createVolume(t, st, "media", "/data/media")
	nested := createVolume(t, st, "movies", "/data/media/movies")

	vol, err := st.ResolveVolume(ctx, "/data/media/movies/Movie (2020)/movie.mkv")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if vol.ID != nested.ID {
		t.Errorf("resolved %s, want the nested volume", vol.Name)
	}

	if _, err := st.ResolveVolume(ctx, "/srv/elsewhere/file.mkv"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("outside path resolved to %v, want ErrNotFound", err)
	}
}

func TestDeleteMediaFilesByPaths(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	vol := createVolume(t, st, "media", "/data/media")
	createFile(t, st, vol.ID, "keep.mkv", 1)
	createFile(t, st, vol.ID, "gone1.mkv", 1)
	createFile(t, st, vol.ID, "gone2.mkv", 1)

	n, err := st.DeleteMediaFilesByPaths(ctx, vol.ID, []string{"gone1.mkv", "gone2.mkv", "never-existed.mkv"})
	if err != nil {
		t.Fatalf("delete by paths: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	paths, err := st.RelativePathsForVolume(ctx, vol.ID)
	if err != nil {
		t.Fatalf("list paths: %v", err)
	}
	if len(paths) != 1 || paths[0] != "keep.mkv" {
		t.Errorf("remaining paths = %v, want only keep.mkv", paths)
	}
}

func TestWatcherRoundTrip(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	w := &models.Watcher{Name: "nas-01", Hostname: "nas-01.local"}
	if err := st.CreateWatcher(ctx, w); err != nil {
		t.Fatalf("create watcher: %v", err)
	}
	if w.Status != models.WatcherPending {
		t.Errorf("new watcher status = %s, want pending", w.Status)
	}

	byName, err := st.WatcherByName(ctx, "nas-01")
	if err != nil {
		t.Fatalf("by name: %v", err)
	}
	if byName.ID != w.ID {
		t.Error("lookup by name returned a different watcher")
	}

	if err := st.TouchWatcher(ctx, w.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	touched, err := st.WatcherByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("by id: %v", err)
	}
	if touched.LastSeenAt == nil {
		t.Error("touch must set the last-seen timestamp")
	}
}
