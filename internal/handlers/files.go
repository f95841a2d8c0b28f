/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package handlers binds the wire protocol to the domain services: each
// message type gets one handler that decodes the payload and calls the
// owning component.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/match"
	"github.com/voclinx/scannarr/internal/models"
	"github.com/voclinx/scannarr/internal/protocol"
)

// Library is the store surface real-time file events need.
type Library interface {
	ResolveVolume(ctx context.Context, absPath string) (*models.Volume, error)
	UpsertMediaFile(ctx context.Context, file *models.MediaFile) error
	SaveMediaFile(ctx context.Context, file *models.MediaFile) error
	DeleteMediaFilesByIDs(ctx context.Context, ids []string) (int64, error)
}

// Matcher resolves a reported path to a known file record.
type Matcher interface {
	Resolve(ctx context.Context, in match.Input) (*match.Result, error)
}

// FileEvents applies real-time filesystem events to the record store.
// Creates go through volume resolution; deletes, renames and modifies go
// through the matching engine so hardlinked and moved files resolve to
// the record that actually describes them.
type FileEvents struct {
	library  Library
	matcher  Matcher
	notFound error
	logger   zerolog.Logger
}

// NewFileEvents creates the file event handler. notFound is the store's
// missing record sentinel.
func NewFileEvents(library Library, matcher Matcher, notFound error, logger zerolog.Logger) *FileEvents {
	return &FileEvents{
		library:  library,
		matcher:  matcher,
		notFound: notFound,
		logger:   logger.With().Str("component", "files").Logger(),
	}
}

// HandleCreated upserts the record for a newly appeared file.
func (f *FileEvents) HandleCreated(ctx context.Context, data protocol.FileEventData) error {
	_, err := f.upsertAt(ctx, data.Path, data)
	return err
}

// upsertAt records a file at an absolute path, resolving its volume.
// Paths outside every volume are dropped with a warning.
func (f *FileEvents) upsertAt(ctx context.Context, absPath string, data protocol.FileEventData) (*models.MediaFile, error) {
	vol, err := f.library.ResolveVolume(ctx, absPath)
	if err != nil {
		if errors.Is(err, f.notFound) {
			f.logger.Warn().Str("path", absPath).Msg("file event outside every volume, dropping")
			return nil, nil
		}
		return nil, err
	}
	relPath, ok := vol.Contains(absPath)
	if !ok || relPath == "" {
		return nil, nil
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
	if err := f.library.UpsertMediaFile(ctx, file); err != nil {
		return nil, fmt.Errorf("upsert %q: %w", absPath, err)
	}
	return file, nil
}

// HandleDeleted removes the record of a file that disappeared on disk.
// An unresolvable path means the store never knew the file; nothing to do.
func (f *FileEvents) HandleDeleted(ctx context.Context, data protocol.FileEventData) error {
	res, err := f.matcher.Resolve(ctx, match.Input{
		AbsolutePath: data.Path,
		DeviceID:     data.DeviceID,
		Inode:        data.Inode,
	})
	if err != nil {
		return err
	}
	if res == nil {
		f.logger.Debug().Str("path", data.Path).Msg("deleted file was never recorded, dropping")
		return nil
	}
	if _, err := f.library.DeleteMediaFilesByIDs(ctx, []string{res.File.ID}); err != nil {
		return fmt.Errorf("remove record for %q: %w", data.Path, err)
	}
	f.logger.Info().
		Str("path", data.Path).
		Str("strategy", res.Strategy).
		Msg("file removed on disk, record deleted")
	return nil
}

// HandleRenamed moves a record to the file's new path. When the old path
// resolves to nothing the rename degrades to a create at the new path.
func (f *FileEvents) HandleRenamed(ctx context.Context, data protocol.FileEventData) error {
	res, err := f.matcher.Resolve(ctx, match.Input{
		AbsolutePath: data.OldPath,
		DeviceID:     data.DeviceID,
		Inode:        data.Inode,
	})
	if err != nil {
		return err
	}
	if res == nil {
		f.logger.Debug().Str("old_path", data.OldPath).Str("path", data.Path).
			Msg("rename of unknown file, recording as create")
		_, err := f.upsertAt(ctx, data.Path, data)
		return err
	}

	vol, err := f.library.ResolveVolume(ctx, data.Path)
	if err != nil {
		if errors.Is(err, f.notFound) {
			// Moved out of every volume: equivalent to deletion.
			_, err := f.library.DeleteMediaFilesByIDs(ctx, []string{res.File.ID})
			return err
		}
		return err
	}
	relPath, ok := vol.Contains(data.Path)
	if !ok || relPath == "" {
		return nil
	}

	file := res.File
	file.VolumeID = vol.ID
	file.RelativePath = relPath
	if data.Size > 0 {
		file.Size = data.Size
	}
	if err := f.library.SaveMediaFile(ctx, file); err != nil {
		return fmt.Errorf("rename record to %q: %w", data.Path, err)
	}
	return nil
}

// HandleModified refreshes size and identity of a changed file, creating
// the record when the file was unknown.
func (f *FileEvents) HandleModified(ctx context.Context, data protocol.FileEventData) error {
	res, err := f.matcher.Resolve(ctx, match.Input{
		AbsolutePath: data.Path,
		DeviceID:     data.DeviceID,
		Inode:        data.Inode,
	})
	if err != nil {
		return err
	}
	if res == nil {
		_, err := f.upsertAt(ctx, data.Path, data)
		return err
	}

	file := res.File
	file.Size = data.Size
	file.HardlinkCount = data.HardlinkCount
	if data.DeviceID != nil {
		file.DeviceID = data.DeviceID
	}
	if data.Inode != nil {
		file.Inode = data.Inode
	}
	if data.ContentHash != "" {
		file.ContentHash = data.ContentHash
	}
	if err := f.library.SaveMediaFile(ctx, file); err != nil {
		return fmt.Errorf("refresh record for %q: %w", data.Path, err)
	}
	return nil
}
