// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the fuzzing coordinator: the global state
// machine that transitions between seed ingestion, server-corpus
// ingestion and steady-state fuzzing, the shared corpus queue, the
// coverage ledger, the per-sample run protocol and the crash
// deduplication policy.
package fuzzer

import (
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lepusfuzz/lepus/pkg/corpus"
	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/delivery"
	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/log"
	"github.com/lepusfuzz/lepus/pkg/mutator"
	"github.com/lepusfuzz/lepus/pkg/osutil"
	"github.com/lepusfuzz/lepus/pkg/sample"
	"github.com/lepusfuzz/lepus/pkg/stat"
)

const (
	// SampleRetryTimes is how many times an interesting sample is re-run
	// (in addition to the initial run) to separate stable from variable
	// coverage.
	SampleRetryTimes = 4
	// CrashReproduceTimes bounds crash reproduction attempts before the
	// crash is labeled flaky.
	CrashReproduceTimes = 10
	// MaxIdenticalCrashes caps how many duplicates of one crash name
	// are preserved on disk.
	MaxIdenticalCrashes = 4
	// TrimStepInitial is the starting cut size of the trimmer's binary
	// search.
	TrimStepInitial = 1024
	// SaveInterval is how often the checkpoint is written.
	SaveInterval = 5 * time.Minute
)

// unbounded stands in for "no timeout" (the default execution timeout).
const unbounded = time.Duration(math.MaxInt64)

// State is the coordinator state, evaluated each time a worker requests
// a job.
type State int

const (
	// InputSampleProcessing drains the seed backlog.
	InputSampleProcessing State = iota
	// ServerSampleProcessing drains samples pulled from the coverage server.
	ServerSampleProcessing
	// Fuzzing is the steady state: mutate corpus entries.
	Fuzzing
)

type JobType int

const (
	Wait JobType = iota
	ProcessSample
	Fuzz
)

// Job is what the coordinator hands to a worker: either nothing (Wait),
// an owned scratch sample to ingest (ProcessSample), or a corpus entry
// checked out for mutation (Fuzz).
type Job struct {
	Type   JobType
	Sample *sample.Sample
	Entry  *corpus.Entry
	// DiscardSample is set by the fuzz loop when the entry produced too
	// many hangs or crashes; the entry is then not re-enqueued.
	DiscardSample bool
}

// CoverageServer is the central server connection the fuzzer pushes
// coverage and crashes to and pulls corpus samples from. Implemented by
// covserver.Client; the protocol is push-pull only.
type CoverageServer interface {
	ReportNewCoverage(cov cover.Coverage, smp *sample.Sample) error
	ReportCrash(smp *sample.Sample, name string) error
	GetUpdates(dst *[]*sample.Sample, totalExecs uint64) error
}

// OutputFilter may synthesize a transformed sample used only for
// delivery. It must never alter the original bytes; returning true
// means "use the transformed version".
type OutputFilter func(original *sample.Sample) (*sample.Sample, bool)

type Config struct {
	OutDir string
	// Timeout bounds one target execution; zero means effectively unbounded.
	Timeout time.Duration
	// InitTimeout bounds the first execution of a target instance;
	// defaults to Timeout.
	InitTimeout time.Duration
	// CorpusTimeout bounds executions during seed ingestion; defaults
	// to Timeout.
	CorpusTimeout time.Duration

	SaveHangs bool
	// AcceptableHangRatio and AcceptableCrashRatio bound how hang- or
	// crash-prone a corpus entry may be before it is discarded.
	AcceptableHangRatio  float64
	AcceptableCrashRatio float64

	// Server is the coverage server connection; nil disables syncing.
	Server               CoverageServer
	ServerUpdateInterval time.Duration

	// OutputFilter optionally rewrites samples for delivery.
	OutputFilter OutputFilter

	// TargetArgv is the target command line; @@ is rewritten per worker
	// to the delivery path or shared memory name.
	TargetArgv []string

	// Factories for per-worker collaborators.
	CreateInstrumentation func(worker int) (instrument.Instrumentation, error)
	CreateDelivery        func(worker int) (delivery.Delivery, error)
	CreateMutator         func(worker int) mutator.Mutator

	// Seed makes worker PRNGs reproducible in tests; zero picks a
	// time-based seed.
	Seed int64
}

// Fuzzer owns all global fuzzing state. Workers mutate it only through
// the documented locks; there are no process-level globals.
//
// Lock ordering when nesting: output -> coverage -> queue (checkpoint),
// server -> coverage (state machine transitions), queue -> server
// (job synchronization). No target execution happens under any of them.
type Fuzzer struct {
	cfg *Config

	crashDir  string
	hangsDir  string
	sampleDir string

	// mu is the queue lock: corpus, backlogs, coordinator state,
	// in-flight job accounting and priority tracking.
	mu               sync.Mutex
	state            State
	corpus           *corpus.Corpus
	inputFiles       []string
	serverSamples    []*sample.Sample
	samplesPending   int
	minPriority      float64
	lastServerUpdate time.Time
	numDiscarded     int64

	// coverMu guards the session coverage ledger. The ledger never
	// loses offsets during a session.
	coverMu  sync.Mutex
	coverage cover.Coverage

	crashMu          sync.Mutex
	uniqueCrashes    map[string]int
	numCrashes       int64
	numUniqueCrashes int64

	// outputMu serializes all writes under OutDir.
	outputMu   sync.Mutex
	numSamples uint64
	numHangs   int64

	// serverMu serializes all RPCs to the coverage server.
	serverMu sync.Mutex

	// totalExecs is updated outside the locks; small drift is
	// acceptable and documented.
	totalExecs atomic.Uint64

	statExecTime *stat.Val
}

func New(cfg *Config) (*Fuzzer, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = unbounded
	}
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = cfg.Timeout
	}
	if cfg.CorpusTimeout == 0 {
		cfg.CorpusTimeout = cfg.Timeout
	}
	if cfg.AcceptableHangRatio == 0 {
		cfg.AcceptableHangRatio = 0.01
	}
	if cfg.AcceptableCrashRatio == 0 {
		cfg.AcceptableCrashRatio = 0.02
	}
	if cfg.ServerUpdateInterval == 0 {
		cfg.ServerUpdateInterval = 5 * time.Minute
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	f := &Fuzzer{
		cfg:           cfg,
		crashDir:      filepath.Join(cfg.OutDir, "crashes"),
		hangsDir:      filepath.Join(cfg.OutDir, "hangs"),
		sampleDir:     filepath.Join(cfg.OutDir, "samples"),
		state:         InputSampleProcessing,
		corpus:        corpus.New(),
		minPriority:   math.MaxFloat64,
		uniqueCrashes: make(map[string]int),
	}
	for _, dir := range []string{cfg.OutDir, f.crashDir, f.hangsDir, f.sampleDir} {
		if err := osutil.MkdirAll(dir); err != nil {
			return nil, err
		}
	}
	f.registerStats()
	return f, nil
}

// LoadInputs fills the seed backlog from the flat input directory.
func (f *Fuzzer) LoadInputs(inDir string) error {
	files, err := osutil.ListFiles(inDir)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.inputFiles = append(f.inputFiles, files...)
	n := len(f.inputFiles)
	f.mu.Unlock()
	log.Logf(0, "%v input files read", n)
	return nil
}

func (f *Fuzzer) InputCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputFiles)
}

// SynchronizeAndGetJob advances the coordinator state machine and hands
// the calling worker its next job.
func (f *Fuzzer) SynchronizeAndGetJob(w *Worker) *Job {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Refresh the worker-local corpus snapshot used for splicing.
	w.local = f.corpus.Snapshot(w.local)

	if f.state == Fuzzing && f.cfg.Server != nil &&
		time.Since(f.lastServerUpdate) > f.cfg.ServerUpdateInterval {
		f.lastServerUpdate = time.Now()
		f.serverMu.Lock()
		err := f.cfg.Server.GetUpdates(&f.serverSamples, f.totalExecs.Load())
		f.serverMu.Unlock()
		if err != nil {
			log.Logf(0, "failed to get server updates: %v", err)
		}
		f.state = ServerSampleProcessing
	}

	if f.state == InputSampleProcessing && len(f.inputFiles) == 0 && f.samplesPending == 0 {
		if f.corpus.QueueLen() == 0 {
			log.Fatalf("no interesting input files")
		}
		if f.cfg.Server != nil {
			f.serverMu.Lock()
			f.coverMu.Lock()
			err := f.cfg.Server.ReportNewCoverage(f.coverage, nil)
			f.coverMu.Unlock()
			if err != nil {
				log.Logf(0, "failed to report coverage to server: %v", err)
			}
			f.lastServerUpdate = time.Now()
			if err := f.cfg.Server.GetUpdates(&f.serverSamples, f.totalExecs.Load()); err != nil {
				log.Logf(0, "failed to get server updates: %v", err)
			}
			f.serverMu.Unlock()
			f.state = ServerSampleProcessing
		} else {
			f.state = Fuzzing
		}
	}

	if f.state == ServerSampleProcessing && len(f.serverSamples) == 0 && f.samplesPending == 0 {
		f.state = Fuzzing
	}

	job := &Job{Type: Wait}
	switch f.state {
	case Fuzzing:
		if entry := f.corpus.PopMin(); entry != nil {
			job = &Job{Type: Fuzz, Entry: entry}
			if entry.Priority < f.minPriority {
				f.minPriority = entry.Priority
			}
		}
	case InputSampleProcessing:
		if len(f.inputFiles) == 0 {
			break
		}
		filename := f.inputFiles[0]
		f.inputFiles = f.inputFiles[1:]
		log.Logf(0, "running input sample %v", filename)
		smp, err := sample.Load(filename)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if smp.Size() > sample.MaxSize {
			log.Logf(0, "input sample larger than maximum sample size, will be trimmed")
			smp.Trim(sample.MaxSize)
		}
		job = &Job{Type: ProcessSample, Sample: smp}
		f.samplesPending++
	case ServerSampleProcessing:
		if len(f.serverSamples) == 0 {
			break
		}
		smp := f.serverSamples[0]
		f.serverSamples = f.serverSamples[1:]
		if smp.Size() > sample.MaxSize {
			smp.Trim(sample.MaxSize)
		}
		job = &Job{Type: ProcessSample, Sample: smp}
		f.samplesPending++
	}
	return job
}

// JobDone returns a finished job to the coordinator: fuzz entries go
// back onto the queue unless discarded, scratch samples release their
// pending slot.
func (f *Fuzzer) JobDone(job *Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch job.Type {
	case Fuzz:
		if job.DiscardSample {
			f.numDiscarded++
		} else {
			f.corpus.Push(job.Entry)
		}
	case ProcessSample:
		job.Sample = nil
		f.samplesPending--
	}
}

func (f *Fuzzer) adjustSamplePriority(entry *corpus.Entry, foundNewCoverage bool) {
	if foundNewCoverage {
		entry.Priority = 0
	} else {
		entry.Priority--
	}
}

// State returns the current coordinator state.
func (f *Fuzzer) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// NumSamples returns the number of retained samples.
func (f *Fuzzer) NumSamples() uint64 {
	f.outputMu.Lock()
	defer f.outputMu.Unlock()
	return f.numSamples
}

func (f *Fuzzer) TotalExecs() uint64 {
	return f.totalExecs.Load()
}
