// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package covserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/rpctype"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

func startServer(t *testing.T, dir string) (*Server, *Client) {
	t.Helper()
	serv, cli, _ := startServerAddr(t, dir)
	return serv, cli
}

func startServerAddr(t *testing.T, dir string) (*Server, *Client, string) {
	t.Helper()
	serv, err := NewServer(Config{Dir: dir})
	require.NoError(t, err)
	rpcServ, err := rpctype.NewRPCServer("127.0.0.1:0", "CoverageServer", serv)
	require.NoError(t, err)
	go rpcServ.Serve()
	addr := rpcServ.Addr().String()
	cli, err := NewClient(addr)
	require.NoError(t, err)
	t.Cleanup(cli.Close)
	return serv, cli, addr
}

func covOf(offsets ...uint64) cover.Coverage {
	c := make(cover.Coverage)
	for _, off := range offsets {
		c.Add("target", off)
	}
	return c
}

func TestReportAndPull(t *testing.T) {
	serv, cli := startServer(t, "")

	smp := sample.New([]byte("interesting"))
	require.NoError(t, cli.ReportNewCoverage(covOf(1, 2), smp))

	serv.mu.Lock()
	assert.Equal(t, 2, serv.coverage.Count())
	assert.Len(t, serv.samples, 1)
	serv.mu.Unlock()

	// The reporting session still pulls its own sample back: the server
	// tracks per-session cursors, and this session has not pulled yet.
	var updates []*sample.Sample
	require.NoError(t, cli.GetUpdates(&updates, 100))
	require.Len(t, updates, 1)
	assert.Equal(t, smp.Data, updates[0].Data)

	// A second pull returns nothing new.
	updates = nil
	require.NoError(t, cli.GetUpdates(&updates, 200))
	assert.Empty(t, updates)
}

func TestRepeatCoverageNotDistributed(t *testing.T) {
	serv, cli := startServer(t, "")

	require.NoError(t, cli.ReportNewCoverage(covOf(1, 2), sample.New([]byte("first"))))
	// Same coverage from another sample brings nothing new.
	require.NoError(t, cli.ReportNewCoverage(covOf(1), sample.New([]byte("second"))))
	// The same sample bytes are never stored twice.
	require.NoError(t, cli.ReportNewCoverage(covOf(5), sample.New([]byte("first"))))

	serv.mu.Lock()
	assert.Len(t, serv.samples, 1)
	assert.Equal(t, 3, serv.coverage.Count())
	serv.mu.Unlock()
}

func TestVariableCoverageRecordedOnly(t *testing.T) {
	serv, cli := startServer(t, "")

	// nil sample: record the offsets, distribute nothing.
	require.NoError(t, cli.ReportNewCoverage(covOf(9), nil))

	serv.mu.Lock()
	assert.Equal(t, 1, serv.coverage.Count())
	assert.Empty(t, serv.samples)
	serv.mu.Unlock()
}

func TestSeparateClientCursors(t *testing.T) {
	_, cli1, addr := startServerAddr(t, "")
	require.NoError(t, cli1.ReportNewCoverage(covOf(1), sample.New([]byte("one"))))

	var updates []*sample.Sample
	require.NoError(t, cli1.GetUpdates(&updates, 0))
	require.Len(t, updates, 1)

	// A fresh session starts from the beginning.
	cli2, err := NewClient(addr)
	require.NoError(t, err)
	defer cli2.Close()
	updates = nil
	require.NoError(t, cli2.GetUpdates(&updates, 0))
	assert.Len(t, updates, 1)
}

func TestCrashPreserved(t *testing.T) {
	dir := t.TempDir()
	_, cli := startServer(t, dir)

	require.NoError(t, cli.ReportCrash(sample.New([]byte("boom")), "SIGSEGV_abcd"))

	files, err := os.ReadDir(filepath.Join(dir, "crashes"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Name(), "SIGSEGV_abcd")
}
