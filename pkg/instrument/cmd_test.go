// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build unix

package instrument

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCmd(t *testing.T) *Cmd {
	t.Helper()
	return NewCmd(CmdConfig{
		CoverageFile:  filepath.Join(t.TempDir(), "coverage_1"),
		DefaultModule: "target",
	})
}

func sh(script string) []string {
	return []string{"/bin/sh", "-c", script}
}

func TestCmdRunCollectsCoverage(t *testing.T) {
	c := testCmd(t)
	argv := sh(`printf 'target+0x10\n0x20\nlibfoo+0x30\n' > "$LEPUS_COVERAGE_FILE"`)
	result := c.Run(argv, time.Minute, time.Minute)
	assert.Equal(t, OK, result)

	cov := c.Coverage()
	assert.Equal(t, 3, cov.Count())
	assert.True(t, cov.Contains("target", 0x10))
	assert.True(t, cov.Contains("target", 0x20))
	assert.True(t, cov.Contains("libfoo", 0x30))
	// Coverage was cleared by the read.
	assert.True(t, c.Coverage().Empty())
}

func TestCmdNonZeroExitIsOK(t *testing.T) {
	c := testCmd(t)
	result := c.Run(sh("exit 3"), time.Minute, time.Minute)
	assert.Equal(t, OK, result)
}

func TestCmdCrash(t *testing.T) {
	c := testCmd(t)
	result := c.Run(sh("kill -s SEGV $$"), time.Minute, time.Minute)
	assert.Equal(t, Crash, result)
	assert.Equal(t, "SIGSEGV", c.CrashName())
}

func TestCmdHang(t *testing.T) {
	c := testCmd(t)
	start := time.Now()
	result := c.Run(sh("sleep 30"), 200*time.Millisecond, 200*time.Millisecond)
	assert.Equal(t, Hang, result)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCmdIgnoreCoverage(t *testing.T) {
	c := testCmd(t)
	argv := sh(`printf 'target+0x10\ntarget+0x20\n' > "$LEPUS_COVERAGE_FILE"`)

	assert.Equal(t, OK, c.Run(argv, time.Minute, time.Minute))
	first := c.Coverage()
	assert.Equal(t, 2, first.Count())

	c.IgnoreCoverage(first)
	assert.Equal(t, OK, c.Run(argv, time.Minute, time.Minute))
	assert.True(t, c.Coverage().Empty())
}

func TestCmdBadCoverageLines(t *testing.T) {
	c := testCmd(t)
	argv := sh(`printf 'garbage\ntarget+0x40\n\n' > "$LEPUS_COVERAGE_FILE"`)
	assert.Equal(t, OK, c.Run(argv, time.Minute, time.Minute))
	cov := c.Coverage()
	assert.Equal(t, 1, cov.Count())
	assert.True(t, cov.Contains("target", 0x40))
}
