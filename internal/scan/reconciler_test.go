/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/eventbus"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/protocol"
)

var errMissing = errors.New("record not found")

type fakeLibrary struct {
	volumes map[string]*models.Volume
	files   map[string]*models.MediaFile // keyed volumeID + "|" + relPath
	movies  map[string]*models.Movie     // keyed folder name

	purged []string
	saved  []*models.Volume
}

func newFakeLibrary(vols ...*models.Volume) *fakeLibrary {
	lib := &fakeLibrary{
		volumes: make(map[string]*models.Volume),
		files:   make(map[string]*models.MediaFile),
		movies:  make(map[string]*models.Movie),
	}
	for _, v := range vols {
		lib.volumes[v.ID] = v
	}
	return lib
}

func fileKey(volumeID, relPath string) string { return volumeID + "|" + relPath }

func (l *fakeLibrary) ResolveVolume(_ context.Context, absPath string) (*models.Volume, error) {
	for _, v := range l.volumes {
		if _, ok := v.Contains(absPath); ok {
			return v, nil
		}
	}
	return nil, errMissing
}

func (l *fakeLibrary) VolumeByID(_ context.Context, id string) (*models.Volume, error) {
	if v, ok := l.volumes[id]; ok {
		return v, nil
	}
	return nil, errMissing
}

func (l *fakeLibrary) ListVolumes(_ context.Context) ([]models.Volume, error) {
	var out []models.Volume
	for _, v := range l.volumes {
		out = append(out, *v)
	}
	return out, nil
}

func (l *fakeLibrary) SaveVolume(_ context.Context, vol *models.Volume) error {
	l.volumes[vol.ID] = vol
	l.saved = append(l.saved, vol)
	return nil
}

func (l *fakeLibrary) UpsertMediaFile(_ context.Context, file *models.MediaFile) error {
	key := fileKey(file.VolumeID, file.RelativePath)
	if existing, ok := l.files[key]; ok {
		existing.Size = file.Size
		*file = *existing
		return nil
	}
	if file.ID == "" {
		file.ID = fmt.Sprintf("f%d", len(l.files)+1)
	}
	cp := *file
	l.files[key] = &cp
	return nil
}

func (l *fakeLibrary) RelativePathsForVolume(_ context.Context, volumeID string) ([]string, error) {
	var paths []string
	for _, f := range l.files {
		if f.VolumeID == volumeID {
			paths = append(paths, f.RelativePath)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (l *fakeLibrary) DeleteMediaFilesByPaths(_ context.Context, volumeID string, relPaths []string) (int64, error) {
	var n int64
	for _, p := range relPaths {
		key := fileKey(volumeID, p)
		if _, ok := l.files[key]; ok {
			delete(l.files, key)
			l.purged = append(l.purged, p)
			n++
		}
	}
	return n, nil
}

func (l *fakeLibrary) MediaFilesForVolume(_ context.Context, volumeID string) ([]models.MediaFile, error) {
	var out []models.MediaFile
	for _, f := range l.files {
		if f.VolumeID == volumeID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (l *fakeLibrary) MovieByFolderName(_ context.Context, folder string) (*models.Movie, error) {
	if m, ok := l.movies[folder]; ok {
		return m, nil
	}
	return nil, errMissing
}

func (l *fakeLibrary) SaveMediaFile(_ context.Context, file *models.MediaFile) error {
	cp := *file
	l.files[fileKey(file.VolumeID, file.RelativePath)] = &cp
	return nil
}

type countingCache struct {
	clears int
	sets   int
	vols   []models.Volume
	cached bool
}

func (c *countingCache) GetVolumes(context.Context) ([]models.Volume, bool) {
	if !c.cached {
		return nil, false
	}
	return c.vols, true
}

func (c *countingCache) SetVolumes(_ context.Context, vols []models.Volume) {
	c.vols = vols
	c.cached = true
	c.sets++
}

func (c *countingCache) Clear(context.Context) {
	c.clears++
	c.vols = nil
	c.cached = false
}

type recordingAuditor struct {
	actions []models.AuditAction
}

func (a *recordingAuditor) Record(_ context.Context, action models.AuditAction, _, _, _ string, _ map[string]any) {
	a.actions = append(a.actions, action)
}

func testVolume() *models.Volume {
	return &models.Volume{ID: "vol1", Name: "media", HostPath: "/data/media"}
}

func newTestReconciler(lib *fakeLibrary, batchSize int) (*Reconciler, *countingCache, *recordingAuditor) {
	cache := &countingCache{}
	auditor := &recordingAuditor{}
	rec := NewReconciler(lib, NewSessionStore(batchSize), cache, auditor, nil, errMissing, zerolog.Nop())
	return rec, cache, auditor
}

func TestScanFileUpsertsAndBatchFlushes(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	rec, cache, _ := newTestReconciler(lib, 2)
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}

	for i := 1; i <= 5; i++ {
		err := rec.HandleFile(ctx, protocol.ScanFileData{
			ScanID: "s1",
			Path:   fmt.Sprintf("/data/media/movies/M%d/f.mkv", i),
			Size:   100,
		})
		if err != nil {
			t.Fatalf("HandleFile %d: %v", i, err)
		}
	}

	if len(lib.files) != 5 {
		t.Errorf("expected 5 upserted files, got %d", len(lib.files))
	}
	// Batch size 2, five reports: flush after the 2nd and 4th.
	if cache.clears != 2 {
		t.Errorf("expected 2 cache flushes, got %d", cache.clears)
	}
}

func TestScanFileWithoutSessionUpsertsStandalone(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	rec, cache, _ := newTestReconciler(lib, 1)

	err := rec.HandleFile(context.Background(), protocol.ScanFileData{
		ScanID: "nope",
		Path:   "/data/media/movies/M/f.mkv",
		Size:   9,
	})
	if err != nil {
		t.Fatalf("HandleFile: %v", err)
	}
	if len(lib.files) != 1 {
		t.Error("report without a session must still be upserted")
	}
	if cache.clears != 0 {
		t.Error("standalone upsert must not drive session batching")
	}
}

func TestScanFileWithoutSessionUnknownVolumeDropped(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	rec, _, _ := newTestReconciler(lib, 50)

	err := rec.HandleFile(context.Background(), protocol.ScanFileData{
		ScanID: "nope",
		Path:   "/nowhere/f.mkv",
	})
	if err != nil {
		t.Fatalf("HandleFile: %v", err)
	}
	if len(lib.files) != 0 {
		t.Error("path under no volume must be dropped")
	}
}

func TestScanFileOutsideVolumeDropped(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	rec, _, _ := newTestReconciler(lib, 50)
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}
	if err := rec.HandleFile(ctx, protocol.ScanFileData{ScanID: "s1", Path: "/elsewhere/f.mkv"}); err != nil {
		t.Fatalf("HandleFile: %v", err)
	}
	if len(lib.files) != 0 {
		t.Error("path outside the session volume must not be recorded")
	}
}

func TestScanCompletedRemovesUnseenAndUpdatesVolume(t *testing.T) {
	vol := testVolume()
	lib := newFakeLibrary(vol)
	lib.files[fileKey("vol1", "movies/Old (2019)/old.mkv")] = &models.MediaFile{
		ID: "stale", VolumeID: "vol1", RelativePath: "movies/Old (2019)/old.mkv",
	}
	rec, _, auditor := newTestReconciler(lib, 50)
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}
	if err := rec.HandleFile(ctx, protocol.ScanFileData{ScanID: "s1", Path: "/data/media/movies/New (2024)/new.mkv", Size: 7}); err != nil {
		t.Fatalf("HandleFile: %v", err)
	}
	err := rec.HandleCompleted(ctx, "w1", protocol.ScanCompletedData{
		ScanID: "s1", TotalFiles: 1, UsedBytes: 12345,
	})
	if err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}

	if len(lib.purged) != 1 || lib.purged[0] != "movies/Old (2019)/old.mkv" {
		t.Errorf("expected the unseen path to be purged, got %v", lib.purged)
	}
	if _, ok := lib.files[fileKey("vol1", "movies/New (2024)/new.mkv")]; !ok {
		t.Error("seen file must survive reconciliation")
	}
	saved := lib.volumes["vol1"]
	if saved.UsedBytes != 12345 || saved.LastScanAt == nil {
		t.Errorf("volume stats not refreshed: %+v", saved)
	}

	wantActions := map[models.AuditAction]bool{
		models.AuditActionScanCompleted: false,
		models.AuditActionFilesPurged:   false,
	}
	for _, a := range auditor.actions {
		wantActions[a] = true
	}
	for action, seen := range wantActions {
		if !seen {
			t.Errorf("missing audit action %s", action)
		}
	}

	if rec.Sessions().Active() != 0 {
		t.Error("session must be closed after completion")
	}
}

func TestScanCompletedUnknownScanIgnored(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	lib.files[fileKey("vol1", "movies/A/a.mkv")] = &models.MediaFile{
		ID: "keep", VolumeID: "vol1", RelativePath: "movies/A/a.mkv",
	}
	rec, cache, _ := newTestReconciler(lib, 50)

	err := rec.HandleCompleted(context.Background(), "w1", protocol.ScanCompletedData{ScanID: "nope"})
	if err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}
	if len(lib.purged) != 0 {
		t.Error("completion for an unknown scan must not purge anything")
	}
	// Standalone upserts may have landed under this scan id; cached
	// state must still be invalidated.
	if cache.clears == 0 {
		t.Error("cache must be cleared even when the scan is unknown")
	}
}

func TestVolumeLookupsReadThroughCache(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	rec, cache, _ := newTestReconciler(lib, 50)
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("volume list not cached on miss, sets = %d", cache.sets)
	}

	// Drop the store copy: the session's file reports must be served
	// from the cached list.
	delete(lib.volumes, "vol1")
	if err := rec.HandleFile(ctx, protocol.ScanFileData{ScanID: "s1", Path: "/data/media/movies/M/f.mkv", Size: 1}); err != nil {
		t.Fatalf("HandleFile: %v", err)
	}
	if len(lib.files) != 1 {
		t.Error("file lookup did not use the cached volume list")
	}
}

func TestScanCompletedPublishesEvent(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	bus := eventbus.NewMemoryBus()
	sub := bus.Subscribe(eventbus.EventScanCompleted)
	rec := NewReconciler(lib, NewSessionStore(50), nil, nil, bus, errMissing, zerolog.Nop())
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}
	if err := rec.HandleCompleted(ctx, "w1", protocol.ScanCompletedData{ScanID: "s1", UsedBytes: 5}); err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}

	select {
	case payload := <-sub:
		if payload["scan_id"] != "s1" || payload["volume_id"] != "vol1" {
			t.Errorf("unexpected event payload %v", payload)
		}
	default:
		t.Error("no scan completion event published")
	}
}

func TestScanCompletedCorrelatesMovies(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	lib.movies["Movie (2024)"] = &models.Movie{ID: "m1", FolderName: "Movie (2024)"}
	rec, _, _ := newTestReconciler(lib, 50)
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}
	// Movie folder nested under a category directory.
	if err := rec.HandleFile(ctx, protocol.ScanFileData{ScanID: "s1", Path: "/data/media/movies/Movie (2024)/file.mkv"}); err != nil {
		t.Fatalf("HandleFile: %v", err)
	}
	if err := rec.HandleCompleted(ctx, "w1", protocol.ScanCompletedData{ScanID: "s1"}); err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}

	file := lib.files[fileKey("vol1", "movies/Movie (2024)/file.mkv")]
	if file == nil || file.MovieID == nil || *file.MovieID != "m1" {
		t.Errorf("file not linked to movie: %+v", file)
	}
}

func TestScanStartedRestartDropsStaleSession(t *testing.T) {
	lib := newFakeLibrary(testVolume())
	rec, _, _ := newTestReconciler(lib, 50)
	ctx := context.Background()

	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s1", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}
	if err := rec.HandleStarted(ctx, "w1", protocol.ScanStartedData{ScanID: "s2", Path: "/data/media"}); err != nil {
		t.Fatalf("HandleStarted: %v", err)
	}

	if _, ok := rec.Sessions().Get("s1"); ok {
		t.Error("restarting a volume scan must drop the stale session")
	}
	if _, ok := rec.Sessions().Get("s2"); !ok {
		t.Error("new session missing")
	}
}
