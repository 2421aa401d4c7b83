// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"strings"

	"github.com/lepusfuzz/lepus/pkg/log"
	"github.com/lepusfuzz/lepus/pkg/stat"
)

func (f *Fuzzer) registerStats() {
	stat.New("exec total", "Total target executions", stat.Console, stat.Rate{},
		stat.Prometheus("lepus_exec_total"), func() int {
			return int(f.totalExecs.Load())
		})
	stat.New("corpus", "Number of retained samples", stat.Console,
		stat.Prometheus("lepus_corpus_total"), func() int {
			return int(f.NumSamples())
		})
	stat.New("corpus discarded", "Entries discarded for excessive hangs/crashes", stat.Console,
		func() int {
			f.mu.Lock()
			defer f.mu.Unlock()
			return int(f.numDiscarded)
		})
	stat.New("crashes", "Total crashes observed", stat.Console,
		stat.Prometheus("lepus_crash_total"), func() int {
			f.crashMu.Lock()
			defer f.crashMu.Unlock()
			return int(f.numCrashes)
		})
	stat.New("crash types", "Distinct crash names observed", stat.Console, func() int {
		f.crashMu.Lock()
		defer f.crashMu.Unlock()
		return int(f.numUniqueCrashes)
	})
	stat.New("hangs", "Total hangs observed", stat.Console,
		stat.Prometheus("lepus_hang_total"), func() int {
			f.outputMu.Lock()
			defer f.outputMu.Unlock()
			return int(f.numHangs)
		})
	stat.New("coverage", "Offsets in the session coverage ledger", stat.Console,
		stat.Prometheus("lepus_coverage_total"), func() int {
			f.coverMu.Lock()
			defer f.coverMu.Unlock()
			return f.coverage.Count()
		})
	stat.New("queue", "Corpus entries waiting to be fuzzed", func() int {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.corpus.QueueLen()
	})
	f.statExecTime = stat.New("exec time", "Target execution time (ms)", stat.Distribution{})
}

// LogStats writes the periodic one-line heartbeat.
func (f *Fuzzer) LogStats() {
	var parts []string
	for _, ui := range stat.Collect(stat.Console) {
		parts = append(parts, fmt.Sprintf("%v: %v", ui.Name, ui.Value))
	}
	log.Logf(0, "%v", strings.Join(parts, ", "))
}
