// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepusfuzz/lepus/pkg/cover"
	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

func TestMagicOutputFilter(t *testing.T) {
	magic := []byte("MAGC")
	filter := MagicOutputFilter(magic)

	// A sample that already starts with the magic passes unchanged.
	smp := sample.New([]byte("MAGCrest"))
	_, used := filter(smp)
	assert.False(t, used)
	assert.Equal(t, []byte("MAGCrest"), smp.Data)

	// Otherwise the filtered copy starts with the magic and the rest is
	// untouched, as is the original.
	smp = sample.New([]byte("XYZQrest"))
	out, used := filter(smp)
	assert.True(t, used)
	assert.Equal(t, []byte("MAGCrest"), out.Data)
	assert.Equal(t, []byte("XYZQrest"), smp.Data)

	// A sample shorter than the magic gets only min(magic, size) bytes.
	smp = sample.New([]byte("ab"))
	out, used = filter(smp)
	assert.True(t, used)
	assert.Equal(t, []byte("MA"), out.Data)
	assert.Equal(t, []byte("ab"), smp.Data)

	// Empty sample.
	smp = sample.New(nil)
	out, used = filter(smp)
	assert.True(t, used)
	assert.Zero(t, out.Size())
}

func TestOutputFilterAppliedToRetainedSample(t *testing.T) {
	// The filtered rendition is what runs, gets saved and enters the
	// corpus; the caller's sample stays untouched.
	target := &fakeTarget{
		behavior: func(data []byte) (instrument.Result, cover.Coverage) {
			if len(data) >= 4 && string(data[:4]) == "MAGC" {
				return instrument.OK, covOf(1)
			}
			return instrument.OK, nil
		},
	}
	f, w := testFuzzer(t, target, nil)
	f.cfg.OutputFilter = MagicOutputFilter([]byte("MAGC"))

	orig := sample.New([]byte("XXXXpayload"))
	result, hasNew := w.runSample(orig, false, false, f.cfg.InitTimeout, f.cfg.Timeout)
	require.Equal(t, instrument.OK, result)
	assert.True(t, hasNew)
	assert.Equal(t, []byte("XXXXpayload"), orig.Data)

	f.mu.Lock()
	entry := f.corpus.PopMin()
	f.mu.Unlock()
	require.NotNil(t, entry)
	assert.Equal(t, []byte("MAGCpayload"), entry.Sample.Data)
}
