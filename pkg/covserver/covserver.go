// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package covserver implements the central coverage server that
// aggregates coverage and corpus samples from multiple fuzzer
// processes, and the client used by fuzzers to talk to it.
//
// The protocol is push-pull only: fuzzers report coverage and crashes,
// and periodically pull corpus samples they have not seen. The server
// never calls back into fuzzers.
package covserver

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/hash"
	"github.com/lepusfuzz/lepus/pkg/log"
	"github.com/lepusfuzz/lepus/pkg/osutil"
	"github.com/lepusfuzz/lepus/pkg/rpctype"
	"github.com/lepusfuzz/lepus/pkg/stat"
)

type Config struct {
	// Addr is the TCP address to listen on.
	Addr string
	// Dir, if non-empty, is where received crashes are preserved.
	Dir string
}

type Server struct {
	cfg Config

	mu       sync.Mutex
	coverage cover.Coverage
	samples  [][]byte
	sigs     map[hash.Sig]bool
	// cursors track, per client session, how many samples have already
	// been delivered.
	cursors map[string]int

	statCoverage *stat.Val
	statSamples  *stat.Val
	statCrashes  *stat.Val
	statClients  *stat.Val
}

func NewServer(cfg Config) (*Server, error) {
	serv := &Server{
		cfg:     cfg,
		sigs:    make(map[hash.Sig]bool),
		cursors: make(map[string]int),
	}
	if cfg.Dir != "" {
		if err := osutil.MkdirAll(filepath.Join(cfg.Dir, "crashes")); err != nil {
			return nil, err
		}
	}
	serv.statCoverage = stat.New("server coverage", "Offsets aggregated by the coverage server",
		stat.Console, func() int {
			serv.mu.Lock()
			defer serv.mu.Unlock()
			return serv.coverage.Count()
		})
	serv.statSamples = stat.New("server samples", "Corpus samples aggregated by the coverage server",
		stat.Console, func() int {
			serv.mu.Lock()
			defer serv.mu.Unlock()
			return len(serv.samples)
		})
	serv.statCrashes = stat.New("server crashes", "Crashes reported to the coverage server", stat.Console)
	serv.statClients = stat.New("server clients", "Distinct client sessions seen", func() int {
		serv.mu.Lock()
		defer serv.mu.Unlock()
		return len(serv.cursors)
	})
	return serv, nil
}

// Run serves RPCs until the process is terminated.
func (serv *Server) Run() error {
	rpcServer, err := rpctype.NewRPCServer(serv.cfg.Addr, "CoverageServer", serv)
	if err != nil {
		return fmt.Errorf("failed to start coverage server: %w", err)
	}
	log.Logf(0, "coverage server listening on %v", rpcServer.Addr())
	rpcServer.Serve()
	return nil
}

func (serv *Server) ReportNewCoverage(args *rpctype.NewCoverageArgs, _ *int) error {
	reported, err := args.Coverage.Deserialize()
	if err != nil {
		return err
	}
	serv.mu.Lock()
	defer serv.mu.Unlock()
	newCov := serv.coverage.Diff(reported)
	serv.coverage.Merge(newCov)
	if args.Sample == nil {
		return nil
	}
	sig := hash.Hash(args.Sample)
	if serv.sigs[sig] {
		return nil
	}
	if newCov.Empty() {
		// The sample brings no offset the server has not already recorded.
		return nil
	}
	serv.sigs[sig] = true
	serv.samples = append(serv.samples, args.Sample)
	return nil
}

func (serv *Server) ReportCrash(args *rpctype.CrashArgs, _ *int) error {
	serv.statCrashes.Add(1)
	log.Logf(0, "crash reported: %v", args.Name)
	if serv.cfg.Dir == "" {
		return nil
	}
	sig := hash.Hash(args.Sample)
	name := fmt.Sprintf("%v_%v", args.Name, sig.String()[:8])
	return osutil.WriteFile(filepath.Join(serv.cfg.Dir, "crashes", name), args.Sample)
}

func (serv *Server) GetUpdates(args *rpctype.UpdatesArgs, res *rpctype.UpdatesRes) error {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	pos := serv.cursors[args.Client]
	for _, smp := range serv.samples[pos:] {
		res.Samples = append(res.Samples, smp)
	}
	serv.cursors[args.Client] = len(serv.samples)
	log.Logf(1, "client %v pulled %v samples (total execs %v)",
		args.Client, len(res.Samples), args.TotalExecs)
	return nil
}
