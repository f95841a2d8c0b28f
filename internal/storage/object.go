/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package storage archives execution reports to object storage so they
// outlive database retention.
package storage

import (
	"context"
	"errors"
)

// ErrNoObject is returned when the key does not exist.
var ErrNoObject = errors.New("storage: object not found")

// ObjectStore reads and writes opaque blobs under string keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Discard is an ObjectStore that drops everything; used when archival
// is not configured.
type Discard struct{}

// Put implements ObjectStore.
func (Discard) Put(context.Context, string, string, []byte) error { return nil }

// Get implements ObjectStore.
func (Discard) Get(context.Context, string) ([]byte, error) { return nil, ErrNoObject }
