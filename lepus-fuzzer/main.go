// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// lepus-fuzzer is a coverage-guided mutational fuzzer. It drives worker
// threads that mutate corpus samples, run the target under
// instrumentation and retain inputs that grow the session coverage.
//
// Usage:
//
//	lepus-fuzzer -in seeds -out workdir -nthreads 4 -- ./target @@
//
// The @@ placeholder in the target command line is rewritten per worker
// to the sample delivery path (file mode) or shared memory name (shmem
// mode). Pass "-" as -in together with an existing workdir to resume a
// previous session from its checkpoint.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lepusfuzz/lepus/pkg/covserver"
	"github.com/lepusfuzz/lepus/pkg/delivery"
	"github.com/lepusfuzz/lepus/pkg/fuzzer"
	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/log"
	"github.com/lepusfuzz/lepus/pkg/mutator"
	"github.com/lepusfuzz/lepus/pkg/tool"
)

func main() {
	var (
		flagIn          = flag.String("in", "", "input directory with seed files, or - to resume from a checkpoint")
		flagOut         = flag.String("out", "", "output directory")
		flagThreads     = flag.Int("nthreads", 1, "number of fuzzing threads")
		flagTimeout     = flag.Int("t", 0, "execution timeout (ms), 0 means unbounded")
		flagInitTimeout = flag.Int("t1", 0, "first-execution timeout (ms), defaults to -t")
		flagCorpusT     = flag.Int("t_corpus", 0, "timeout for seed ingestion (ms), defaults to -t")
		flagRestore     = flag.Bool("restore", false, "restore session state from the checkpoint")
		flagResume      = flag.Bool("resume", false, "alias for -restore")
		flagServer      = flag.String("server", "", "coverage server address (enables corpus/coverage syncing)")
		flagStartServer = flag.Bool("start_server", false, "run only the coverage server and exit after shutdown")
		flagDelivery    = flag.String("delivery", "file", "sample delivery method (file/shmem)")
		flagSaveHangs   = flag.Bool("save_hangs", false, "preserve hanging samples under hangs/")
		flagHangRatio   = flag.Float64("hang_ratio", 0.01, "acceptable per-entry hang ratio before discarding")
		flagCrashRatio  = flag.Float64("crash_ratio", 0.02, "acceptable per-entry crash ratio before discarding")
		flagSyncEvery   = flag.Int("server_update_interval", 0, "server sync interval (ms)")
		flagHTTP        = flag.String("http", "", "serve stats and prometheus metrics on this address")
	)
	flag.Parse()
	targetArgv := flag.Args()

	if *flagStartServer {
		addr := *flagServer
		if addr == "" {
			addr = ":29557"
		}
		serv, err := covserver.NewServer(covserver.Config{Addr: addr, Dir: *flagOut})
		if err != nil {
			tool.Fail(err)
		}
		log.Logf(0, "running as server")
		tool.Fail(serv.Run())
	}

	if *flagIn == "" || *flagOut == "" {
		tool.Failf("usage: lepus-fuzzer -in <dir> -out <dir> [options] -- <target command line>")
	}
	if len(targetArgv) == 0 {
		tool.Failf("no target command line, use -- to separate fuzzer options from the target")
	}
	if *flagDelivery != "file" && *flagDelivery != "shmem" {
		tool.Failf("unknown sample delivery option %q", *flagDelivery)
	}

	cfg := &fuzzer.Config{
		OutDir:               *flagOut,
		Timeout:              time.Duration(*flagTimeout) * time.Millisecond,
		InitTimeout:          time.Duration(*flagInitTimeout) * time.Millisecond,
		CorpusTimeout:        time.Duration(*flagCorpusT) * time.Millisecond,
		SaveHangs:            *flagSaveHangs,
		AcceptableHangRatio:  *flagHangRatio,
		AcceptableCrashRatio: *flagCrashRatio,
		ServerUpdateInterval: time.Duration(*flagSyncEvery) * time.Millisecond,
		TargetArgv:           targetArgv,
	}
	if *flagServer != "" {
		client, err := covserver.NewClient(*flagServer)
		if err != nil {
			tool.Fail(err)
		}
		cfg.Server = client
	}
	cfg.CreateInstrumentation = func(worker int) (instrument.Instrumentation, error) {
		return instrument.NewCmd(instrument.CmdConfig{
			CoverageFile:  filepath.Join(*flagOut, fmt.Sprintf("coverage_%v", worker)),
			DefaultModule: filepath.Base(targetArgv[0]),
		}), nil
	}
	cfg.CreateDelivery = func(worker int) (delivery.Delivery, error) {
		if *flagDelivery == "shmem" {
			name := fmt.Sprintf("shm_fuzz_%v_%v", os.Getpid(), worker)
			return delivery.NewShmem(name, delivery.MaxShmemSize)
		}
		return delivery.NewFile(filepath.Join(*flagOut, fmt.Sprintf("input_%v", worker))), nil
	}
	cfg.CreateMutator = func(worker int) mutator.Mutator {
		return mutator.NewByte()
	}

	f, err := fuzzer.New(cfg)
	if err != nil {
		tool.Fail(err)
	}

	if *flagRestore || *flagResume || *flagIn == "-" {
		if err := f.RestoreState(); err != nil {
			tool.Fail(err)
		}
		log.Logf(0, "restored %v samples", f.NumSamples())
	} else {
		if err := f.LoadInputs(*flagIn); err != nil {
			tool.Fail(err)
		}
		if f.InputCount() == 0 {
			tool.Failf("no input files read")
		}
	}

	var g errgroup.Group
	for i := 1; i <= *flagThreads; i++ {
		w, err := f.NewWorker(i)
		if err != nil {
			tool.Fail(err)
		}
		g.Go(func() error {
			w.Loop()
			return nil
		})
	}
	if *flagHTTP != "" {
		g.Go(func() error {
			http.Handle("/metrics", promhttp.Handler())
			return http.ListenAndServe(*flagHTTP, nil)
		})
	}
	g.Go(func() error {
		statTicker := time.NewTicker(time.Second)
		saveTicker := time.NewTicker(fuzzer.SaveInterval)
		for {
			select {
			case <-statTicker.C:
				f.LogStats()
			case <-saveTicker.C:
				if err := f.SaveState(); err != nil {
					return err
				}
			}
		}
	})
	tool.Fail(g.Wait())
}
