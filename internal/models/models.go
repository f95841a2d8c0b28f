package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// WatcherStatus enumerates the lifecycle states of a remote agent.
type WatcherStatus string

const (
	WatcherPending      WatcherStatus = "pending"
	WatcherApproved     WatcherStatus = "approved"
	WatcherConnected    WatcherStatus = "connected"
	WatcherDisconnected WatcherStatus = "disconnected"
	WatcherRevoked      WatcherStatus = "revoked"
)

// Watcher is a remote agent with filesystem access that executes commands
// on the server's behalf.
type Watcher struct {
	ID         string        `gorm:"type:uuid;primaryKey"`
	Name       string        `gorm:"uniqueIndex"`
	Hostname   string        `gorm:"type:varchar(255)"`
	Version    string        `gorm:"type:varchar(64)"`
	Status     WatcherStatus `gorm:"type:varchar(16);index"`
	TokenHash  string        `gorm:"type:varchar(128)"` // bcrypt hash of the token secret
	LastSeenAt *time.Time
	Config     map[string]any `gorm:"type:jsonb;serializer:json"`
	ConfigHash string         `gorm:"type:varchar(64)"` // detects config drift without full transfer
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HashConfig computes the content hash of a configuration map. Keys are
// serialized in sorted order so equal maps always hash identically.
func HashConfig(cfg map[string]any) string {
	if len(cfg) == 0 {
		return ""
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		if raw, err := json.Marshal(cfg[k]); err == nil {
			h.Write(raw)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Volume is a filesystem root known to the server, identified by the
// path prefix under which watchers see it.
type Volume struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Name       string `gorm:"uniqueIndex"`
	HostPath   string `gorm:"uniqueIndex"` // host-visible path prefix, no trailing slash
	UsedBytes  int64
	LastScanAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contains reports whether the absolute path lives under this volume and
// returns the path relative to the volume root.
func (v *Volume) Contains(absPath string) (string, bool) {
	root := strings.TrimSuffix(v.HostPath, "/")
	if absPath == root {
		return "", true
	}
	if strings.HasPrefix(absPath, root+"/") {
		return strings.TrimPrefix(absPath, root+"/"), true
	}
	return "", false
}

// Movie is a catalog entry media files can belong to.
type Movie struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Title      string `gorm:"index"`
	Year       int
	FolderName string `gorm:"index"` // top-level directory name under the movies root
	TMDBID     int64  `gorm:"index"`
	RadarrID   int64  `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MediaFile is a file under a volume. The inode identity pair is optional:
// watchers on some filesystems cannot report it.
type MediaFile struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	VolumeID      string  `gorm:"type:uuid;index:idx_media_files_volume_path,unique"`
	MovieID       *string `gorm:"type:uuid;index"`
	RelativePath  string  `gorm:"index:idx_media_files_volume_path,unique"`
	Size          int64
	HardlinkCount int
	DeviceID      *int64 `gorm:"index:idx_media_files_identity"`
	Inode         *int64 `gorm:"index:idx_media_files_identity"`
	ContentHash   string `gorm:"type:varchar(64)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasIdentity reports whether both halves of the inode identity are known.
func (f *MediaFile) HasIdentity() bool {
	return f.DeviceID != nil && f.Inode != nil
}
