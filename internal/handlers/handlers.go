/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voclinx/scannarr/internal/deletion"
	"github.com/voclinx/scannarr/internal/dispatch"
	"github.com/voclinx/scannarr/internal/gateway"
	"github.com/voclinx/scannarr/internal/lifecycle"
	"github.com/voclinx/scannarr/internal/protocol"
	"github.com/voclinx/scannarr/internal/scan"
)

// Set wires every protocol message type to its owning component.
type Set struct {
	Lifecycle *lifecycle.Manager
	Scan      *scan.Reconciler
	Deletions *deletion.Orchestrator
	Files     *FileEvents
}

// Register installs one handler per message type. Registration happens
// once at startup; a duplicate is a wiring bug and panics.
func (s *Set) Register(d *dispatch.Dispatcher) {
	d.MustRegister(protocol.MsgHello, s.handleHello)
	d.MustRegister(protocol.MsgAuth, s.handleAuth)
	d.MustRegister(protocol.MsgWatcherStatus, s.handleStatus)
	d.MustRegister(protocol.MsgWatcherLog, s.handleLog)

	d.MustRegister(protocol.MsgFileCreated, fileEvent(s.Files.HandleCreated))
	d.MustRegister(protocol.MsgFileDeleted, fileEvent(s.Files.HandleDeleted))
	d.MustRegister(protocol.MsgFileRenamed, fileEvent(s.Files.HandleRenamed))
	d.MustRegister(protocol.MsgFileModified, fileEvent(s.Files.HandleModified))

	d.MustRegister(protocol.MsgScanStarted, s.handleScanStarted)
	d.MustRegister(protocol.MsgScanProgress, s.handleScanProgress)
	d.MustRegister(protocol.MsgScanFile, s.handleScanFile)
	d.MustRegister(protocol.MsgScanCompleted, s.handleScanCompleted)

	d.MustRegister(protocol.MsgFilesDeleteProgress, s.handleDeleteProgress)
	d.MustRegister(protocol.MsgFilesDeleteCompleted, s.handleDeleteCompleted)
	d.MustRegister(protocol.MsgFilesHardlinkCompleted, s.handleHardlinkCompleted)

	d.OnDisconnect(s.Lifecycle.HandleDisconnect)
}

func decode(msgType string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msgType, err)
	}
	return nil
}

// fileEvent adapts a FileEvents method to a dispatch handler.
func fileEvent(fn func(ctx context.Context, data protocol.FileEventData) error) dispatch.Handler {
	return func(ctx context.Context, _ *gateway.Conn, raw []byte) error {
		var data protocol.FileEventData
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("decode file event payload: %w", err)
		}
		return fn(ctx, data)
	}
}

func (s *Set) handleHello(ctx context.Context, conn *gateway.Conn, raw []byte) error {
	var data protocol.HelloData
	if err := decode(protocol.MsgHello, raw, &data); err != nil {
		return err
	}
	return s.Lifecycle.HandleHello(ctx, conn, data)
}

func (s *Set) handleAuth(ctx context.Context, conn *gateway.Conn, raw []byte) error {
	var data protocol.AuthData
	if err := decode(protocol.MsgAuth, raw, &data); err != nil {
		return err
	}
	return s.Lifecycle.Authenticate(ctx, conn, data)
}

func (s *Set) handleStatus(ctx context.Context, conn *gateway.Conn, raw []byte) error {
	var data protocol.StatusData
	if err := decode(protocol.MsgWatcherStatus, raw, &data); err != nil {
		return err
	}
	return s.Lifecycle.HandleStatus(ctx, conn, data)
}

func (s *Set) handleLog(ctx context.Context, conn *gateway.Conn, raw []byte) error {
	var data protocol.LogData
	if err := decode(protocol.MsgWatcherLog, raw, &data); err != nil {
		return err
	}
	return s.Lifecycle.HandleLog(ctx, conn, data)
}

func (s *Set) handleScanStarted(ctx context.Context, conn *gateway.Conn, raw []byte) error {
	var data protocol.ScanStartedData
	if err := decode(protocol.MsgScanStarted, raw, &data); err != nil {
		return err
	}
	watcherID, _ := conn.Authenticated()
	return s.Scan.HandleStarted(ctx, watcherID, data)
}

func (s *Set) handleScanProgress(ctx context.Context, _ *gateway.Conn, raw []byte) error {
	var data protocol.ScanProgressData
	if err := decode(protocol.MsgScanProgress, raw, &data); err != nil {
		return err
	}
	return s.Scan.HandleProgress(ctx, data)
}

func (s *Set) handleScanFile(ctx context.Context, _ *gateway.Conn, raw []byte) error {
	var data protocol.ScanFileData
	if err := decode(protocol.MsgScanFile, raw, &data); err != nil {
		return err
	}
	return s.Scan.HandleFile(ctx, data)
}

func (s *Set) handleScanCompleted(ctx context.Context, conn *gateway.Conn, raw []byte) error {
	var data protocol.ScanCompletedData
	if err := decode(protocol.MsgScanCompleted, raw, &data); err != nil {
		return err
	}
	watcherID, _ := conn.Authenticated()
	return s.Scan.HandleCompleted(ctx, watcherID, data)
}

func (s *Set) handleDeleteProgress(ctx context.Context, _ *gateway.Conn, raw []byte) error {
	var data protocol.DeleteProgressData
	if err := decode(protocol.MsgFilesDeleteProgress, raw, &data); err != nil {
		return err
	}
	return s.Deletions.HandleDeleteProgress(ctx, data)
}

func (s *Set) handleDeleteCompleted(ctx context.Context, _ *gateway.Conn, raw []byte) error {
	var data protocol.DeleteCompletedData
	if err := decode(protocol.MsgFilesDeleteCompleted, raw, &data); err != nil {
		return err
	}
	return s.Deletions.HandleDeleteCompleted(ctx, data)
}

func (s *Set) handleHardlinkCompleted(ctx context.Context, _ *gateway.Conn, raw []byte) error {
	var data protocol.HardlinkCompletedData
	if err := decode(protocol.MsgFilesHardlinkCompleted, raw, &data); err != nil {
		return err
	}
	return s.Deletions.HandleHardlinkCompleted(ctx, data)
}
