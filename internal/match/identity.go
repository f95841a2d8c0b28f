/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package match

import (
	"context"

	"github.com/voclinx/scannarr/internal/models"
)

// IdentityIndex is the store surface the identity strategy needs.
type IdentityIndex interface {
	MediaFileByIdentity(ctx context.Context, deviceID, inode int64) (*models.MediaFile, error)
}

// IdentityStrategy resolves a file by its (device, inode) pair. Inode
// identity is unambiguous when available but may be stale or not yet
// recorded, so a miss abstains rather than ending the chain.
type IdentityStrategy struct {
	index    IdentityIndex
	notFound error
}

// NewIdentityStrategy creates the identity strategy. notFound is the
// sentinel the index returns for a missing record.
func NewIdentityStrategy(index IdentityIndex, notFound error) *IdentityStrategy {
	return &IdentityStrategy{index: index, notFound: notFound}
}

// Name implements Strategy.
func (s *IdentityStrategy) Name() string { return "inode_identity" }

// Priority implements Strategy.
func (s *IdentityStrategy) Priority() int { return 100 }

// Match performs an exact identity lookup. Missing hints abstain; a
// found record matches at full confidence; an unknown identity abstains
// so the next strategy still gets a chance.
func (s *IdentityStrategy) Match(ctx context.Context, in Input) (Outcome, error) {
	if in.DeviceID == nil || in.Inode == nil {
		return Abstain(), nil
	}

	file, err := s.index.MediaFileByIdentity(ctx, *in.DeviceID, *in.Inode)
	if err != nil {
		if err == s.notFound {
			return Abstain(), nil
		}
		return Abstain(), err
	}

	return Matched(&Result{
		File:       file,
		Strategy:   s.Name(),
		Confidence: 1.0,
	}), nil
}
