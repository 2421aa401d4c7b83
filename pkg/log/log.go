// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - ability to disable all output
package log

import (
	"flag"
	golog "log"
	"sync/atomic"
)

var (
	flagV    = flag.Int("vv", 0, "verbosity")
	disabled atomic.Bool
)

// DisableOutput suppresses all non-fatal output.
// Used by tests that exercise noisy failure paths.
func DisableOutput() {
	disabled.Store(true)
}

func EnableOutput() {
	disabled.Store(false)
}

func Logf(v int, msg string, args ...interface{}) {
	if disabled.Load() || v > *flagV {
		return
	}
	golog.Printf(msg, args...)
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter is an io.Writer that forwards everything to Logf
// with the given verbosity level.
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
