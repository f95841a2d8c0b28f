/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package protocol defines the JSON wire protocol spoken between the
// server and watcher agents. Every message is a UTF-8 JSON text frame
// carrying an envelope of {type, data}.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types, watcher to server.
const (
	MsgHello         = "hello"
	MsgAuth          = "auth"
	MsgWatcherStatus = "watcher.status"
	MsgWatcherLog    = "watcher.log"

	MsgFileCreated  = "file.created"
	MsgFileDeleted  = "file.deleted"
	MsgFileRenamed  = "file.renamed"
	MsgFileModified = "file.modified"

	MsgScanStarted   = "scan.started"
	MsgScanProgress  = "scan.progress"
	MsgScanFile      = "scan.file"
	MsgScanCompleted = "scan.completed"

	MsgFilesDeleteProgress    = "files.delete.progress"
	MsgFilesDeleteCompleted   = "files.delete.completed"
	MsgFilesHardlinkCompleted = "files.hardlink.completed"
)

// Message types, server to watcher.
const (
	MsgAuthResult    = "auth.result"
	CmdFilesDelete   = "command.files.delete"
	CmdFilesHardlink = "command.files.hardlink"
)

// Envelope is the outer frame of every protocol message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(msgType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Data: raw}, nil
}

// Encode returns the envelope as a JSON text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// HelloData introduces an unauthenticated watcher.
type HelloData struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

// AuthData carries the bearer token.
type AuthData struct {
	Token string `json:"token"`
}

// AuthResultData tells the watcher whether authentication succeeded.
type AuthResultData struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// StatusData is the periodic watcher heartbeat.
type StatusData struct {
	Status        string   `json:"status"`
	WatchedPaths  []string `json:"watched_paths"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	ConfigHash    string   `json:"config_hash,omitempty"`
}

// LogData is a remote log line forwarded for storage.
type LogData struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// FileEventData describes a single real-time filesystem event.
type FileEventData struct {
	Path          string `json:"path"`
	OldPath       string `json:"old_path,omitempty"` // renames only
	Size          int64  `json:"size"`
	HardlinkCount int    `json:"hardlink_count"`
	DeviceID      *int64 `json:"device_id,omitempty"`
	Inode         *int64 `json:"inode,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`
}

// ScanStartedData opens a full-volume scan session.
type ScanStartedData struct {
	ScanID string `json:"scan_id"`
	Path   string `json:"path"`
}

// ScanProgressData is informational scan progress.
type ScanProgressData struct {
	ScanID    string `json:"scan_id"`
	Processed int64  `json:"processed"`
}

// ScanFileData reports one file discovered during a scan.
type ScanFileData struct {
	ScanID        string `json:"scan_id"`
	Path          string `json:"path"`
	Size          int64  `json:"size"`
	HardlinkCount int    `json:"hardlink_count"`
	DeviceID      *int64 `json:"device_id,omitempty"`
	Inode         *int64 `json:"inode,omitempty"`
	ContentHash   string `json:"content_hash,omitempty"`
}

// ScanCompletedData closes a scan session.
type ScanCompletedData struct {
	ScanID     string `json:"scan_id"`
	TotalFiles int64  `json:"total_files"`
	UsedBytes  int64  `json:"used_bytes"`
}

// DeleteFileSpec names one file a watcher must physically remove.
type DeleteFileSpec struct {
	MediaFileID string `json:"media_file_id"`
	VolumePath  string `json:"volume_path"`
	Path        string `json:"path"` // relative to the volume
}

// DeleteCommandData asks a watcher to delete a list of files.
type DeleteCommandData struct {
	RequestID  string           `json:"request_id"`
	DeletionID string           `json:"deletion_id"`
	Files      []DeleteFileSpec `json:"files"`
}

// HardlinkSpec names one source file and its replacement link target.
type HardlinkSpec struct {
	MediaFileID      string `json:"media_file_id"`
	SourceVolumePath string `json:"source_volume_path"`
	SourcePath       string `json:"source_path"`
	TargetVolumePath string `json:"target_volume_path"`
	TargetPath       string `json:"target_path"`
}

// HardlinkCommandData asks a watcher to create replacement hardlinks.
type HardlinkCommandData struct {
	RequestID  string         `json:"request_id"`
	DeletionID string         `json:"deletion_id"`
	Files      []HardlinkSpec `json:"files"`
}

// DeleteProgressData is an informational deletion progress report.
type DeleteProgressData struct {
	RequestID  string `json:"request_id"`
	DeletionID string `json:"deletion_id"`
	Processed  int    `json:"processed"`
	Total      int    `json:"total"`
}

// FileResult is the per-file outcome of a delete command.
type FileResult struct {
	MediaFileID string `json:"media_file_id"`
	Path        string `json:"path"`
	Deleted     bool   `json:"deleted"`
	FreedBytes  int64  `json:"freed_bytes"`
	Error       string `json:"error,omitempty"`
}

// DeleteCompletedData reports the final outcome of a delete command.
type DeleteCompletedData struct {
	RequestID  string       `json:"request_id"`
	DeletionID string       `json:"deletion_id"`
	Results    []FileResult `json:"results"`
}

// HardlinkResult is the per-file outcome of a hardlink command.
type HardlinkResult struct {
	MediaFileID      string `json:"media_file_id"`
	TargetVolumePath string `json:"target_volume_path"`
	TargetPath       string `json:"target_path"`
	Size             int64  `json:"size"`
	DeviceID         *int64 `json:"device_id,omitempty"`
	Inode            *int64 `json:"inode,omitempty"`
}

// HardlinkCompletedData reports the outcome of a hardlink command.
type HardlinkCompletedData struct {
	RequestID  string           `json:"request_id"`
	DeletionID string           `json:"deletion_id"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Files      []HardlinkResult `json:"files,omitempty"`
}
