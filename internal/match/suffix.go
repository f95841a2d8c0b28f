/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/voclinx/scannarr/internal/models"
)

// MinSegments is the shortest suffix ever queried. A bare filename is
// never tried: it is too ambiguous across a media library.
const MinSegments = 2

// SuffixIndex is the store surface the suffix strategy needs.
type SuffixIndex interface {
	MediaFilesBySuffix(ctx context.Context, suffix string) ([]models.MediaFile, error)
}

// SuffixStrategy resolves a file by matching progressively shorter path
// suffixes against known relative paths. On an ambiguous suffix it skips
// to the next shorter one rather than failing outright; a shorter suffix
// might coincidentally disambiguate further up the tree. This is a
// deliberate, known heuristic, kept as-is because changing it would
// alter matching outcomes.
type SuffixStrategy struct {
	index SuffixIndex
}

// NewSuffixStrategy creates the path-suffix strategy.
func NewSuffixStrategy(index SuffixIndex) *SuffixStrategy {
	return &SuffixStrategy{index: index}
}

// Name implements Strategy.
func (s *SuffixStrategy) Name() string { return "path_suffix" }

// Priority implements Strategy.
func (s *SuffixStrategy) Priority() int { return 50 }

// SuffixCandidates generates the suffixes to try for an absolute path,
// longest first, stopping once only MinSegments segments remain.
func SuffixCandidates(absPath string) []string {
	segments := strings.Split(strings.Trim(absPath, "/"), "/")

	var out []string
	for start := 0; len(segments)-start >= MinSegments; start++ {
		out = append(out, strings.Join(segments[start:], "/"))
	}
	return out
}

// Match tries each candidate suffix, longest to shortest. Candidates
// sharing a (device, inode) pair are the same physical file reachable
// through different hardlinked paths and count as one.
func (s *SuffixStrategy) Match(ctx context.Context, in Input) (Outcome, error) {
	for _, suffix := range SuffixCandidates(in.AbsolutePath) {
		files, err := s.index.MediaFilesBySuffix(ctx, suffix)
		if err != nil {
			return Abstain(), fmt.Errorf("suffix query %q: %w", suffix, err)
		}

		unique := dedupeByIdentity(files)
		switch len(unique) {
		case 0:
			continue
		case 1:
			return Matched(&Result{
				File:       unique[0],
				Strategy:   s.Name(),
				Confidence: 1.0,
			}), nil
		default:
			// Ambiguous at this depth; try a shorter suffix.
			continue
		}
	}
	return NoMatch(), nil
}

// dedupeByIdentity collapses files sharing a known (device, inode) pair
// into a single candidate. Files without full identity are kept as-is.
func dedupeByIdentity(files []models.MediaFile) []*models.MediaFile {
	seen := make(map[[2]int64]*models.MediaFile)
	var out []*models.MediaFile
	for i := range files {
		f := &files[i]
		if f.HasIdentity() {
			key := [2]int64{*f.DeviceID, *f.Inode}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = f
		}
		out = append(out, f)
	}
	return out
}
