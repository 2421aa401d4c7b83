// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument abstracts the instrumentation backend that runs
// the target program and extracts code coverage from it.
package instrument

import (
	"time"

	"github.com/lepusfuzz/lepus/pkg/cover"
)

// Result classifies the outcome of one target execution. It is a value,
// not an error: crashes and hangs are routed into preservation and
// counting rather than raised.
type Result int

const (
	OK Result = iota
	Crash
	Hang
	Other
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Crash:
		return "crash"
	case Hang:
		return "hang"
	default:
		return "other"
	}
}

// Instrumentation runs the target under coverage instrumentation.
// Implementations are not goroutine-safe; every worker owns its own
// instance.
type Instrumentation interface {
	// Run executes the target with the given command line and returns
	// the outcome. Collected coverage accumulates until Coverage or
	// ClearCoverage is called.
	Run(argv []string, initTimeout, timeout time.Duration) Result
	// RunWithCrashAnalysis is a crash-reproduction variant of Run that
	// may take extra care to produce an accurate crash name.
	RunWithCrashAnalysis(argv []string, initTimeout, timeout time.Duration) Result
	// Coverage returns the coverage collected since the last clear,
	// with all ignored offsets filtered out, and clears the collected
	// set.
	Coverage() cover.Coverage
	ClearCoverage()
	// IgnoreCoverage excludes the given offsets from all future
	// Coverage results. Used to suppress already-known coverage so
	// mutant runs only surface novelty.
	IgnoreCoverage(c cover.Coverage)
	// CrashName returns the deduplication name of the last crash.
	CrashName() string
	// CleanTarget resets the target to a pristine state.
	CleanTarget()
}
