/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package match resolves externally reported absolute paths (plus optional
// inode identity hints) to known media file records. Strategies are tried
// in descending priority; each returns a three-valued outcome so the
// chain's continuation logic is explicit rather than exception-driven.
package match

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/voclinx/scannarr/internal/models"
)

// Input is one lookup request.
type Input struct {
	AbsolutePath string
	DeviceID     *int64
	Inode        *int64
}

// Result is a successful resolution.
type Result struct {
	File       *models.MediaFile
	Strategy   string
	Confidence float64 // in [0,1]
}

type outcomeKind int

const (
	kindAbstain outcomeKind = iota
	kindMatch
	kindNoMatch
)

// Outcome is the tagged result of a single strategy: abstain (let the
// next strategy try), a definite match, or a definite no-match that ends
// the chain.
type Outcome struct {
	kind   outcomeKind
	result *Result
}

// Abstain yields to the next strategy in the chain.
func Abstain() Outcome { return Outcome{kind: kindAbstain} }

// Matched ends the chain with a resolution.
func Matched(r *Result) Outcome { return Outcome{kind: kindMatch, result: r} }

// NoMatch ends the chain with a definite negative.
func NoMatch() Outcome { return Outcome{kind: kindNoMatch} }

// IsAbstain reports whether the strategy yielded.
func (o Outcome) IsAbstain() bool { return o.kind == kindAbstain }

// IsMatch reports whether the strategy resolved a file.
func (o Outcome) IsMatch() bool { return o.kind == kindMatch }

// Result returns the resolution for a match outcome, nil otherwise.
func (o Outcome) Result() *Result { return o.result }

// Strategy is one resolution heuristic.
type Strategy interface {
	Name() string
	Priority() int
	Match(ctx context.Context, in Input) (Outcome, error)
}

// Engine runs strategies in descending priority order. It is stateless;
// registering a new strategy requires no change to existing ones.
type Engine struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// NewEngine creates an engine over the given strategies.
func NewEngine(logger zerolog.Logger, strategies ...Strategy) *Engine {
	sorted := append([]Strategy(nil), strategies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Engine{
		strategies: sorted,
		logger:     logger.With().Str("component", "match").Logger(),
	}
}

// Resolve tries each strategy until one returns a definite result.
// A nil result with nil error is a definite "no match".
func (e *Engine) Resolve(ctx context.Context, in Input) (*Result, error) {
	for _, strat := range e.strategies {
		outcome, err := strat.Match(ctx, in)
		if err != nil {
			return nil, err
		}
		switch {
		case outcome.IsMatch():
			res := outcome.Result()
			e.logger.Debug().
				Str("path", in.AbsolutePath).
				Str("strategy", res.Strategy).
				Float64("confidence", res.Confidence).
				Msg("path resolved")
			return res, nil
		case outcome.IsAbstain():
			continue
		default:
			return nil, nil
		}
	}
	return nil, nil
}
