// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build unix

package instrument

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/log"
)

// CoverageFileEnv names the environment variable through which the
// coverage file path is passed to the target (or its harness).
const CoverageFileEnv = "LEPUS_COVERAGE_FILE"

// CmdConfig configures Cmd instrumentation.
type CmdConfig struct {
	// CoverageFile is the per-worker file the target writes coverage
	// offsets to, one per line: either "module+0xOFFSET" or a bare
	// offset attributed to DefaultModule.
	CoverageFile string
	// DefaultModule names the module for bare offsets; usually the
	// target binary name.
	DefaultModule string
}

// Cmd runs the target as a fresh process per execution and collects
// coverage from the file the instrumented target writes on exit.
// A timed-out process is killed and reported as a hang; a process
// terminated by a signal is a crash named after the signal.
type Cmd struct {
	cfg       CmdConfig
	collected cover.Coverage
	ignore    cover.Coverage
	crashName string
	ranOnce   bool
}

var _ Instrumentation = (*Cmd)(nil)

func NewCmd(cfg CmdConfig) *Cmd {
	return &Cmd{cfg: cfg}
}

func (c *Cmd) Run(argv []string, initTimeout, timeout time.Duration) Result {
	return c.run(argv, initTimeout, timeout)
}

func (c *Cmd) RunWithCrashAnalysis(argv []string, initTimeout, timeout time.Duration) Result {
	// Fresh-process execution already produces a post-mortem wait
	// status, there is no faster-but-less-accurate mode to upgrade from.
	return c.run(argv, initTimeout, timeout)
}

func (c *Cmd) run(argv []string, initTimeout, timeout time.Duration) Result {
	if len(argv) == 0 {
		log.Fatalf("instrument: empty target command line")
	}
	os.Remove(c.cfg.CoverageFile)
	effective := timeout
	if !c.ranOnce {
		effective = initTimeout
	}
	c.ranOnce = true

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), CoverageFileEnv+"="+c.cfg.CoverageFile)
	if err := cmd.Start(); err != nil {
		log.Logf(0, "instrument: failed to start %v: %v", argv[0], err)
		return Other
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	var waitErr error
	hanged := false
	select {
	case waitErr = <-done:
	case <-time.After(effective):
		hanged = true
		cmd.Process.Kill()
		<-done
	}
	c.readCoverage()
	if hanged {
		return Hang
	}
	if waitErr == nil {
		return OK
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return Other
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		// Voluntary non-zero exit is a normal outcome for many targets.
		return OK
	}
	sig := status.Signal()
	c.crashName = unix.SignalName(sig)
	if c.crashName == "" {
		c.crashName = fmt.Sprintf("SIG%d", int(sig))
	}
	return Crash
}

func (c *Cmd) readCoverage() {
	f, err := os.Open(c.cfg.CoverageFile)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		module := c.cfg.DefaultModule
		if plus := strings.IndexByte(line, '+'); plus != -1 {
			module = line[:plus]
			line = line[plus+1:]
		}
		off, err := strconv.ParseUint(line, 0, 64)
		if err != nil {
			log.Logf(2, "instrument: bad coverage line %q: %v", scanner.Text(), err)
			continue
		}
		if c.ignore.Contains(module, off) {
			continue
		}
		if c.collected == nil {
			c.collected = make(cover.Coverage)
		}
		c.collected.Add(module, off)
	}
}

func (c *Cmd) Coverage() cover.Coverage {
	ret := c.collected
	c.collected = nil
	return ret
}

func (c *Cmd) ClearCoverage() {
	c.collected = nil
}

func (c *Cmd) IgnoreCoverage(cov cover.Coverage) {
	c.ignore.Merge(cov)
	if !c.collected.Empty() {
		c.collected = c.ignore.Diff(c.collected)
	}
}

func (c *Cmd) CrashName() string {
	return c.crashName
}

func (c *Cmd) CleanTarget() {
	// Each run starts a fresh process, so there is no persistent target
	// instance to reset; drop any stale coverage instead.
	os.Remove(c.cfg.CoverageFile)
	c.collected = nil
}
