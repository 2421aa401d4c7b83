// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutator derives variants of corpus samples.
package mutator

import (
	"math/rand"

	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

// Context is mutator-owned per-sample state, created lazily when an
// entry is first fuzzed and kept with the entry for the rest of the
// session.
type Context any

// Mutator derives variants of a base sample. Implementations are not
// goroutine-safe; every worker owns its own instance.
type Mutator interface {
	// CreateContext builds per-sample state for a newly retained sample.
	CreateContext(s *sample.Sample) Context
	// InitRound is called once before a sequence of Mutate calls on the
	// same entry.
	InitRound(s *sample.Sample, ctx Context)
	// Mutate transforms s in place into the next variant of the round,
	// using rnd and the snapshot of all retained samples for splicing.
	// It returns false when the round is over; s is then unspecified.
	Mutate(s *sample.Sample, rnd *rand.Rand, ctx Context, all []*sample.Sample) bool
	// NotifyResult reports the outcome of running the last variant and
	// whether it produced new coverage.
	NotifyResult(ctx Context, result instrument.Result, newCoverage bool)
}
