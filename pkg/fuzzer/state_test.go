// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/osutil"
)

func TestSaveRestore(t *testing.T) {
	// Five seeds with disjoint coverage keyed on the first byte.
	target := &fakeTarget{
		behavior: func(data []byte) (instrument.Result, cover.Coverage) {
			if len(data) == 0 {
				return instrument.OK, nil
			}
			return instrument.OK, covOf(uint64(data[0]))
		},
	}
	f, w := testFuzzer(t, target, nil)
	seeds := make(map[string][]byte)
	for i := 0; i < 5; i++ {
		seeds[fmt.Sprintf("seed%v", i)] = []byte{byte('a' + i), 'x', 'y'}
	}
	require.NoError(t, f.LoadInputs(writeSeeds(t, seeds)))
	ingestAll(t, f, w)
	require.Equal(t, uint64(5), f.NumSamples())

	// Transition to fuzzing (checks out one entry) so the checkpoint is
	// allowed to run, then return the entry.
	job := f.SynchronizeAndGetJob(w)
	require.Equal(t, Fuzz, job.Type)
	f.JobDone(job)
	require.NoError(t, f.SaveState())
	assert.True(t, osutil.IsExist(filepath.Join(f.cfg.OutDir, "state.dat")))

	// A fresh fuzzer over the same output directory restores the session.
	restored, err := New(&Config{
		OutDir: f.cfg.OutDir,
		CreateInstrumentation: f.cfg.CreateInstrumentation,
		CreateDelivery:        f.cfg.CreateDelivery,
		CreateMutator:         f.cfg.CreateMutator,
		Seed:                  1,
	})
	require.NoError(t, err)
	require.NoError(t, restored.RestoreState())

	assert.Equal(t, f.NumSamples(), restored.NumSamples())
	assert.Equal(t, f.TotalExecs(), restored.TotalExecs())
	assert.Equal(t, f.minPriority, restored.minPriority)
	assert.Empty(t, cmp.Diff(f.coverage, restored.coverage))
	assert.Equal(t, 5, restored.corpus.QueueLen())

	// All restored entries carry the saved minimum priority and an
	// uninitialized mutator context; popped samples match the on-disk
	// corpus.
	seen := make(map[int64]bool)
	var entries []*Job
	for i := 0; i < 5; i++ {
		entry := restored.corpus.PopMin()
		require.NotNil(t, entry)
		assert.Equal(t, restored.minPriority, entry.Priority)
		assert.Nil(t, entry.Context)
		assert.False(t, seen[entry.Index])
		seen[entry.Index] = true
		stored := filepath.Join(restored.sampleDir, fmt.Sprintf("sample_%05d", entry.Index))
		loaded, err := os.ReadFile(stored)
		require.NoError(t, err)
		assert.Equal(t, loaded, entry.Sample.Data)
		entries = append(entries, &Job{Type: Fuzz, Entry: entry})
	}
	for _, job := range entries {
		restored.JobDone(job)
	}

	// After a restore the input backlog is empty: the scheduler goes
	// straight to fuzzing.
	w2, err := restored.NewWorker(1)
	require.NoError(t, err)
	job = restored.SynchronizeAndGetJob(w2)
	assert.Equal(t, Fuzzing, restored.State())
	assert.Equal(t, Fuzz, job.Type)
	restored.JobDone(job)
}

func TestSaveSkippedDuringInputProcessing(t *testing.T) {
	f, _ := testFuzzer(t, &fakeTarget{behavior: func(data []byte) (instrument.Result, cover.Coverage) {
		return instrument.OK, nil
	}}, nil)
	require.NoError(t, f.SaveState())
	assert.False(t, osutil.IsExist(filepath.Join(f.cfg.OutDir, "state.dat")))
}

func TestRestoreWithoutCheckpoint(t *testing.T) {
	f, _ := testFuzzer(t, &fakeTarget{behavior: func(data []byte) (instrument.Result, cover.Coverage) {
		return instrument.OK, nil
	}}, nil)
	assert.Error(t, f.RestoreState())
}

func TestRestoreBadHeader(t *testing.T) {
	f, _ := testFuzzer(t, &fakeTarget{behavior: func(data []byte) (instrument.Result, cover.Coverage) {
		return instrument.OK, nil
	}}, nil)
	require.NoError(t, osutil.WriteFile(filepath.Join(f.cfg.OutDir, "state.dat"),
		[]byte("not a checkpoint at all")))
	assert.Error(t, f.RestoreState())
}
