// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/lepusfuzz/lepus/pkg/corpus"
	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/osutil"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

// Checkpoint file layout (state.dat), all fields little-endian:
//
//	u32 magic, u32 version
//	u64 num_samples, u64 total_execs, u64 min_priority (float64 bits)
//	coverage ledger (see cover.WriteBinary)
//
// The format is explicit rather than host-native and not compatible
// with any earlier layout; the version field gates future changes.
const (
	stateMagic   = uint32(0x5e91f022)
	stateVersion = uint32(1)
)

const stateFile = "state.dat"

// SaveState writes the checkpoint: session counters plus the coverage
// ledger. Retained samples are already on disk under samples/, so they
// are not duplicated here. Nothing is saved while seed ingestion is
// still running: the corpus would not be restorable in that state.
func (f *Fuzzer) SaveState() error {
	f.mu.Lock()
	state := f.state
	minPriority := f.minPriority
	f.mu.Unlock()
	if state == InputSampleProcessing {
		return nil
	}

	f.outputMu.Lock()
	defer f.outputMu.Unlock()
	f.coverMu.Lock()
	defer f.coverMu.Unlock()

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, stateMagic)
	binary.Write(buf, binary.LittleEndian, stateVersion)
	binary.Write(buf, binary.LittleEndian, f.numSamples)
	binary.Write(buf, binary.LittleEndian, f.totalExecs.Load())
	binary.Write(buf, binary.LittleEndian, math.Float64bits(minPriority))
	if err := f.coverage.WriteBinary(buf); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	if err := osutil.SafeWriteFile(filepath.Join(f.cfg.OutDir, stateFile), buf.Bytes()); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// RestoreState reconstructs counters, the coverage ledger and the
// corpus queue from the checkpoint and the samples/ directory. Restored
// entries get the minimum priority ever dequeued in the saved session
// (per-entry priorities are not saved, this is an approximation) and an
// uninitialized mutator context.
func (f *Fuzzer) RestoreState() error {
	f.outputMu.Lock()
	defer f.outputMu.Unlock()
	f.coverMu.Lock()
	defer f.coverMu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(f.cfg.OutDir, stateFile))
	if err != nil {
		return fmt.Errorf("failed to restore state (did the previous session run long enough for state to be saved?): %w", err)
	}
	r := bytes.NewReader(data)

	var magic, version uint32
	binary.Read(r, binary.LittleEndian, &magic)
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	if magic != stateMagic {
		return fmt.Errorf("bad state file header: 0x%x", magic)
	}
	if version != stateVersion {
		return fmt.Errorf("bad state file version: %v", version)
	}

	var numSamples, totalExecs, minPriorityBits uint64
	binary.Read(r, binary.LittleEndian, &numSamples)
	binary.Read(r, binary.LittleEndian, &totalExecs)
	if err := binary.Read(r, binary.LittleEndian, &minPriorityBits); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	coverage, err := cover.ReadBinary(r)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}

	f.numSamples = numSamples
	f.totalExecs.Store(totalExecs)
	f.minPriority = math.Float64frombits(minPriorityBits)
	f.coverage = coverage

	for i := uint64(0); i < numSamples; i++ {
		smp, err := sample.Load(filepath.Join(f.sampleDir, fmt.Sprintf("sample_%05d", i)))
		if err != nil {
			return fmt.Errorf("failed to restore state: %w", err)
		}
		f.corpus.Add(&corpus.Entry{
			Sample:   smp,
			Index:    int64(i),
			Priority: f.minPriority,
		})
	}
	return nil
}
