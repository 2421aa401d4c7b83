// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/lepusfuzz/lepus/pkg/corpus"
	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/delivery"
	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/log"
	"github.com/lepusfuzz/lepus/pkg/mutator"
	"github.com/lepusfuzz/lepus/pkg/sample"
	"github.com/lepusfuzz/lepus/pkg/tool"
)

// Worker owns the per-thread collaborators: instrumentation, sample
// delivery, mutator, PRNG and the target command line with @@ rewritten
// to this worker's delivery location. No fuzzer lock is held across
// delivery or target execution.
type Worker struct {
	id      int
	fuzzer  *Fuzzer
	argv    []string
	instr   instrument.Instrumentation
	deliver delivery.Delivery
	mut     mutator.Mutator
	rnd     *rand.Rand
	// local is this worker's snapshot of all retained samples, synced
	// on every job request and used by the mutator for splicing.
	local []*sample.Sample
}

func (f *Fuzzer) NewWorker(id int) (*Worker, error) {
	instr, err := f.cfg.CreateInstrumentation(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation: %w", err)
	}
	deliver, err := f.cfg.CreateDelivery(id)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample delivery: %w", err)
	}
	w := &Worker{
		id:      id,
		fuzzer:  f,
		argv:    tool.ReplaceArg(f.cfg.TargetArgv, "@@", deliver.Name()),
		instr:   instr,
		deliver: deliver,
		mut:     f.cfg.CreateMutator(id),
		rnd:     rand.New(rand.NewSource(f.cfg.Seed + int64(id))),
	}
	// Coverage already in the ledger (e.g. restored from a checkpoint)
	// is not novelty for this worker.
	f.coverMu.Lock()
	w.instr.IgnoreCoverage(f.coverage)
	f.coverMu.Unlock()
	return w, nil
}

// Loop runs jobs forever. Workers never terminate except by process
// exit; resumption happens from the checkpoint.
func (w *Worker) Loop() {
	for {
		job := w.fuzzer.SynchronizeAndGetJob(w)
		switch job.Type {
		case Wait:
			time.Sleep(time.Second)
		case ProcessSample:
			w.runSample(job.Sample, false, false, w.fuzzer.cfg.InitTimeout, w.fuzzer.cfg.CorpusTimeout)
		case Fuzz:
			w.fuzzJob(job)
		default:
			log.Fatalf("unknown job type %v", job.Type)
		}
		w.fuzzer.JobDone(job)
	}
}

// runAndGetCoverage delivers and executes one sample and returns the
// outcome together with the coverage it produced. Crashes, and hangs
// when SaveHangs is set, are preserved immediately when they are detected.
func (w *Worker) runAndGetCoverage(smp *sample.Sample, initTimeout, timeout time.Duration) (
	instrument.Result, cover.Coverage) {
	f := w.fuzzer
	// Not protected by a mutex but not important to be perfectly accurate.
	f.totalExecs.Add(1)

	if err := w.deliver.Deliver(smp); err != nil {
		log.Logf(0, "error delivering sample, retrying with a clean target: %v", err)
		w.instr.CleanTarget()
		if err := w.deliver.Deliver(smp); err != nil {
			log.Fatalf("repeatedly failed to deliver sample: %v", err)
		}
	}

	start := time.Now()
	result := w.instr.Run(w.argv, initTimeout, timeout)
	f.statExecTime.Add(int(time.Since(start).Milliseconds()))
	coverage := w.instr.Coverage()

	if result == instrument.Crash {
		w.handleCrash(smp, initTimeout, timeout)
	}
	if result == instrument.Hang {
		f.outputMu.Lock()
		if f.cfg.SaveHangs {
			name := filepath.Join(f.hangsDir, fmt.Sprintf("hang_%v", f.numHangs))
			if err := smp.Save(name); err != nil {
				log.Logf(0, "failed to save hang: %v", err)
			}
		}
		f.numHangs++
		f.outputMu.Unlock()
	}

	return result, coverage
}

// handleCrash reproduces, deduplicates and preserves a crash. A crash
// that does not reproduce keeps its original name with a flaky_ prefix;
// a reproducing one takes the (hopefully refined) name of the
// reproducing run.
func (w *Worker) handleCrash(smp *sample.Sample, initTimeout, timeout time.Duration) {
	f := w.fuzzer
	crashName := w.instr.CrashName()
	if w.tryReproduceCrash(smp, initTimeout, timeout) == instrument.Crash {
		crashName = w.instr.CrashName()
	} else {
		crashName = "flaky_" + crashName
	}

	shouldSave := false
	duplicates := 0
	f.crashMu.Lock()
	f.numCrashes++
	if count, ok := f.uniqueCrashes[crashName]; !ok {
		shouldSave = true
		duplicates = 1
		f.uniqueCrashes[crashName] = 1
		f.numUniqueCrashes++
	} else if count < MaxIdenticalCrashes {
		shouldSave = true
		f.uniqueCrashes[crashName] = count + 1
		duplicates = count + 1
	}
	f.crashMu.Unlock()

	if !shouldSave {
		return
	}
	f.outputMu.Lock()
	outFile := filepath.Join(f.crashDir, fmt.Sprintf("%v_%v", crashName, duplicates))
	err := smp.Save(outFile)
	f.outputMu.Unlock()
	if err != nil {
		log.Logf(0, "failed to save crash: %v", err)
	}
	if f.cfg.Server != nil {
		f.serverMu.Lock()
		if err := f.cfg.Server.ReportCrash(smp, crashName); err != nil {
			log.Logf(0, "failed to report crash to server: %v", err)
		}
		f.serverMu.Unlock()
	}
}

func (w *Worker) tryReproduceCrash(smp *sample.Sample, initTimeout, timeout time.Duration) instrument.Result {
	f := w.fuzzer
	result := instrument.Other
	for i := 0; i < CrashReproduceTimes; i++ {
		f.totalExecs.Add(1)
		if err := w.deliver.Deliver(smp); err != nil {
			log.Logf(0, "error delivering sample, retrying with a clean target: %v", err)
			w.instr.CleanTarget()
			if err := w.deliver.Deliver(smp); err != nil {
				log.Fatalf("repeatedly failed to deliver sample: %v", err)
			}
		}
		result = w.instr.RunWithCrashAnalysis(w.argv, initTimeout, timeout)
		w.instr.ClearCoverage()
		if result == instrument.Crash {
			return result
		}
	}
	return result
}

// runSample is the full per-sample protocol: execute, re-run to split
// stable from variable coverage, consult the interest filter, trim,
// persist, publish to the corpus and report to the server.
// It returns the run result and whether new stable coverage was found.
func (w *Worker) runSample(smp *sample.Sample, trim, reportToServer bool,
	initTimeout, timeout time.Duration) (instrument.Result, bool) {
	f := w.fuzzer
	if f.cfg.OutputFilter != nil {
		if filtered, ok := f.cfg.OutputFilter(smp); ok {
			smp = filtered
		}
	}

	result, initialCoverage := w.runAndGetCoverage(smp, initTimeout, timeout)
	if result != instrument.OK || initialCoverage.Empty() {
		return result, false
	}

	// The sample returned new coverage. Re-run it to find out which
	// part of that coverage is stable; the initial run participates in
	// the intersection.
	stable := initialCoverage.Copy()
	total := initialCoverage

	// Have a clean target before retrying the sample.
	w.instr.CleanTarget()

	for i := 0; i < SampleRetryTimes; i++ {
		retryResult, retryCoverage := w.runAndGetCoverage(smp, initTimeout, timeout)
		if retryResult != instrument.OK {
			return retryResult, false
		}
		total.Merge(retryCoverage)
		stable = stable.Intersect(retryCoverage)
	}
	// Offsets seen in at least one run but not all of them.
	variable := stable.Diff(total)

	hasNewCoverage := false
	if f.interestingSample(&stable, &variable) {
		hasNewCoverage = true

		if trim {
			w.trimSample(smp, stable, initTimeout, timeout)
		}

		f.outputMu.Lock()
		index := f.numSamples
		outFile := filepath.Join(f.sampleDir, fmt.Sprintf("sample_%05d", index))
		err := smp.Save(outFile)
		f.numSamples++
		f.outputMu.Unlock()
		if err != nil {
			log.Fatalf("%v", err)
		}

		if f.cfg.Server != nil && reportToServer {
			f.serverMu.Lock()
			if err := f.cfg.Server.ReportNewCoverage(stable, smp); err != nil {
				log.Logf(0, "failed to report new coverage to server: %v", err)
			}
			f.serverMu.Unlock()
		}

		entry := &corpus.Entry{
			Sample:   smp.Clone(),
			Index:    int64(index),
			Priority: 0,
		}
		entry.Context = w.mut.CreateContext(entry.Sample)

		f.mu.Lock()
		f.corpus.Add(entry)
		f.mu.Unlock()
	}

	// The server should know about variable coverage so it stops other
	// fuzzers from chasing it, but it must not distribute a sample for it.
	if !variable.Empty() && f.cfg.Server != nil && reportToServer {
		f.serverMu.Lock()
		if err := f.cfg.Server.ReportNewCoverage(variable, nil); err != nil {
			log.Logf(0, "failed to report variable coverage to server: %v", err)
		}
		f.serverMu.Unlock()
	}

	// Everything this sample touches is no longer novelty for this
	// worker; subsequent mutant runs only surface new offsets.
	w.instr.IgnoreCoverage(total)

	return result, hasNewCoverage
}

// trimSample binary-searches the smallest prefix of smp that still
// yields a superset of stableCoverage, and cuts smp to it in place.
func (w *Worker) trimSample(smp *sample.Sample, stableCoverage cover.Coverage,
	initTimeout, timeout time.Duration) {
	if smp.Size() <= 1 {
		return
	}

	trimStep := TrimStepInitial
	trimmedSize := smp.Size()
	test := smp.Clone()

	for {
		if test.Size() <= 1 {
			break
		}
		for trimStep >= test.Size() {
			trimStep /= 2
		}
		if trimStep == 0 {
			break
		}

		test.Trim(test.Size() - trimStep)

		result, testCoverage := w.runAndGetCoverage(test, initTimeout, timeout)
		if result != instrument.OK {
			break
		}

		if !testCoverage.Includes(stableCoverage) {
			trimStep /= 2
			if trimStep == 0 {
				break
			}
			test = smp.Clone()
			test.Trim(trimmedSize)
			continue
		}

		trimmedSize = test.Size()
	}

	if trimmedSize < smp.Size() {
		smp.Trim(trimmedSize)
	}
}

// interestingSample is the interest filter: under the coverage lock it
// reduces stable and variable to the subsets the ledger has not seen,
// absorbs both into the ledger, and reports whether any new stable
// coverage remains.
func (f *Fuzzer) interestingSample(stable, variable *cover.Coverage) bool {
	f.coverMu.Lock()
	defer f.coverMu.Unlock()

	newStable := f.coverage.Diff(*stable)
	newVariable := f.coverage.Diff(*variable)

	f.coverage.Merge(newStable)
	f.coverage.Merge(newVariable)

	*stable = newStable
	*variable = newVariable

	return !newStable.Empty()
}

// fuzzJob is the per-entry mutation loop with hang/crash health checks.
func (w *Worker) fuzzJob(job *Job) {
	f := w.fuzzer
	entry := job.Entry

	if entry.Context == nil {
		entry.Context = w.mut.CreateContext(entry.Sample)
	}
	w.mut.InitRound(entry.Sample, entry.Context)

	log.Logf(1, "fuzzing sample %05d", entry.Index)

	job.DiscardSample = false

	for {
		mutated := entry.Sample.Clone()
		if !w.mut.Mutate(mutated, w.rnd, entry.Context, w.local) {
			break
		}
		if mutated.Size() > sample.MaxSize {
			mutated.Trim(sample.MaxSize)
		}

		result, hasNewCoverage := w.runSample(mutated, true, true, f.cfg.InitTimeout, f.cfg.Timeout)
		f.adjustSamplePriority(entry, hasNewCoverage)
		w.mut.NotifyResult(entry.Context, result, hasNewCoverage)

		entry.NumRuns++
		if hasNewCoverage {
			entry.NumNewCoverage++
		}
		if result == instrument.Hang {
			entry.NumHangs++
		}
		if result == instrument.Crash {
			entry.NumCrashes++
		}
		if entry.NumHangs > 10 &&
			float64(entry.NumHangs) > float64(entry.NumRuns)*f.cfg.AcceptableHangRatio {
			log.Logf(0, "sample %v produces too many hangs, discarding", entry.Index)
			job.DiscardSample = true
			break
		}
		if entry.NumCrashes > 100 &&
			float64(entry.NumCrashes) > float64(entry.NumRuns)*f.cfg.AcceptableCrashRatio {
			log.Logf(0, "sample %v produces too many crashes, discarding", entry.Index)
			job.DiscardSample = true
			break
		}
	}
}
