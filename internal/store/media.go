/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voclinx/scannarr/internal/models"
)

// CreateVolume inserts a volume.
func (s *Store) CreateVolume(ctx context.Context, vol *models.Volume) error {
	if vol.ID == "" {
		vol.ID = uuid.NewString()
	}
	vol.HostPath = strings.TrimSuffix(vol.HostPath, "/")
	return s.DB().WithContext(ctx).Create(vol).Error
}

// VolumeByID fetches one volume.
func (s *Store) VolumeByID(ctx context.Context, id string) (*models.Volume, error) {
	var vol models.Volume
	if err := s.DB().WithContext(ctx).First(&vol, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &vol, nil
}

// ListVolumes returns all volumes.
func (s *Store) ListVolumes(ctx context.Context) ([]models.Volume, error) {
	var vols []models.Volume
	if err := s.DB().WithContext(ctx).Order("host_path").Find(&vols).Error; err != nil {
		return nil, err
	}
	return vols, nil
}

// ResolveVolume finds the volume whose host path is the longest prefix of
// absPath. Returns ErrNotFound when no volume contains the path.
func (s *Store) ResolveVolume(ctx context.Context, absPath string) (*models.Volume, error) {
	vols, err := s.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}

	// Longest prefix wins so nested volume roots resolve correctly.
	sort.Slice(vols, func(i, j int) bool {
		return len(vols[i].HostPath) > len(vols[j].HostPath)
	})

	for i := range vols {
		if _, ok := vols[i].Contains(absPath); ok {
			return &vols[i], nil
		}
	}
	return nil, ErrNotFound
}

// SaveVolume persists volume mutations (last scan time, used space).
func (s *Store) SaveVolume(ctx context.Context, vol *models.Volume) error {
	return s.DB().WithContext(ctx).Save(vol).Error
}

// UpsertMediaFile creates or updates the file record keyed by
// (volume, relative path). Size, hardlink count and inode identity are
// refreshed on update; the movie association is preserved.
func (s *Store) UpsertMediaFile(ctx context.Context, file *models.MediaFile) error {
	var existing models.MediaFile
	err := s.DB().WithContext(ctx).
		Where("volume_id = ? AND relative_path = ?", file.VolumeID, file.RelativePath).
		First(&existing).Error

	switch {
	case err == nil:
		existing.Size = file.Size
		existing.HardlinkCount = file.HardlinkCount
		if file.DeviceID != nil {
			existing.DeviceID = file.DeviceID
		}
		if file.Inode != nil {
			existing.Inode = file.Inode
		}
		if file.ContentHash != "" {
			existing.ContentHash = file.ContentHash
		}
		existing.UpdatedAt = time.Now()
		if err := s.DB().WithContext(ctx).Save(&existing).Error; err != nil {
			return fmt.Errorf("update media file: %w", err)
		}
		*file = existing
		return nil

	case notFound(err) == ErrNotFound:
		if file.ID == "" {
			file.ID = uuid.NewString()
		}
		if err := s.DB().WithContext(ctx).Create(file).Error; err != nil {
			return fmt.Errorf("create media file: %w", err)
		}
		return nil

	default:
		return err
	}
}

// MediaFileByPath fetches a file by volume and relative path.
func (s *Store) MediaFileByPath(ctx context.Context, volumeID, relPath string) (*models.MediaFile, error) {
	var file models.MediaFile
	err := s.DB().WithContext(ctx).
		Where("volume_id = ? AND relative_path = ?", volumeID, relPath).
		First(&file).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

// MediaFileByIdentity fetches a file by its (device, inode) pair.
func (s *Store) MediaFileByIdentity(ctx context.Context, deviceID, inode int64) (*models.MediaFile, error) {
	var file models.MediaFile
	err := s.DB().WithContext(ctx).
		Where("device_id = ? AND inode = ?", deviceID, inode).
		First(&file).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &file, nil
}

// MediaFilesBySuffix returns every file whose relative path ends with the
// given suffix. The suffix is matched on segment boundaries: either the
// whole relative path equals it, or the path ends with "/"+suffix.
func (s *Store) MediaFilesBySuffix(ctx context.Context, suffix string) ([]models.MediaFile, error) {
	var files []models.MediaFile
	err := s.DB().WithContext(ctx).
		Where("relative_path = ? OR relative_path LIKE ? ESCAPE '\\'", suffix, "%/"+likeEscape(suffix)).
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// MediaFilesByIDs returns the files with the given ids; missing ids are
// silently absent from the result.
func (s *Store) MediaFilesByIDs(ctx context.Context, ids []string) ([]models.MediaFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var files []models.MediaFile
	if err := s.DB().WithContext(ctx).Where("id IN ?", ids).Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// MediaFilesForVolume returns all files under a volume.
func (s *Store) MediaFilesForVolume(ctx context.Context, volumeID string) ([]models.MediaFile, error) {
	var files []models.MediaFile
	if err := s.DB().WithContext(ctx).Where("volume_id = ?", volumeID).Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// RelativePathsForVolume returns the relative paths the store knows for a
// volume, for scan set-difference reconciliation.
func (s *Store) RelativePathsForVolume(ctx context.Context, volumeID string) ([]string, error) {
	var paths []string
	err := s.DB().WithContext(ctx).
		Model(&models.MediaFile{}).
		Where("volume_id = ?", volumeID).
		Pluck("relative_path", &paths).Error
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// DeleteMediaFilesByPaths removes the records for the given relative
// paths under a volume and returns how many rows went away.
func (s *Store) DeleteMediaFilesByPaths(ctx context.Context, volumeID string, relPaths []string) (int64, error) {
	if len(relPaths) == 0 {
		return 0, nil
	}
	res := s.DB().WithContext(ctx).
		Where("volume_id = ? AND relative_path IN ?", volumeID, relPaths).
		Delete(&models.MediaFile{})
	return res.RowsAffected, res.Error
}

// DeleteMediaFilesByIDs removes file records by id.
func (s *Store) DeleteMediaFilesByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.DB().WithContext(ctx).Where("id IN ?", ids).Delete(&models.MediaFile{})
	return res.RowsAffected, res.Error
}

// RenameMediaFile moves a record to a new relative path, creating it when
// the old path is unknown.
func (s *Store) RenameMediaFile(ctx context.Context, volumeID, oldRel, newRel string) (*models.MediaFile, bool, error) {
	file, err := s.MediaFileByPath(ctx, volumeID, oldRel)
	if err == ErrNotFound {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	file.RelativePath = newRel
	file.UpdatedAt = time.Now()
	if err := s.DB().WithContext(ctx).Save(file).Error; err != nil {
		return nil, false, err
	}
	return file, true, nil
}

// SaveMediaFile persists mutations to an existing file record.
func (s *Store) SaveMediaFile(ctx context.Context, file *models.MediaFile) error {
	return s.DB().WithContext(ctx).Save(file).Error
}

// MovieByID fetches one movie.
func (s *Store) MovieByID(ctx context.Context, id string) (*models.Movie, error) {
	var movie models.Movie
	if err := s.DB().WithContext(ctx).First(&movie, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &movie, nil
}

// MovieByFolderName fetches a movie by its library folder name.
func (s *Store) MovieByFolderName(ctx context.Context, folder string) (*models.Movie, error) {
	var movie models.Movie
	if err := s.DB().WithContext(ctx).First(&movie, "folder_name = ?", folder).Error; err != nil {
		return nil, notFound(err)
	}
	return &movie, nil
}

// likeEscape escapes LIKE wildcards in a literal suffix.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
