// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/sample"
	"github.com/lepusfuzz/lepus/pkg/testutil"
)

func TestRoundTerminates(t *testing.T) {
	m := &ByteMutator{RoundLen: 10}
	rnd := rand.New(testutil.RandSource(t))
	base := sample.New([]byte("base sample"))
	ctx := m.CreateContext(base)
	m.InitRound(base, ctx)

	n := 0
	for {
		smp := base.Clone()
		if !m.Mutate(smp, rnd, ctx, nil) {
			break
		}
		n++
	}
	assert.Equal(t, 10, n)

	// A new round starts from scratch.
	m.InitRound(base, ctx)
	assert.True(t, m.Mutate(base.Clone(), rnd, ctx, nil))
}

func TestMutateBounds(t *testing.T) {
	m := NewByte()
	rnd := rand.New(testutil.RandSource(t))
	base := sample.New(testutil.RandBytes(rnd, 4096))
	all := []*sample.Sample{
		sample.New(testutil.RandBytes(rnd, 128)),
		sample.New(nil),
		nil,
	}
	ctx := m.CreateContext(base)
	for i := 0; i < testutil.IterCount(); i++ {
		m.InitRound(base, ctx)
		smp := base.Clone()
		if !m.Mutate(smp, rnd, ctx, all) {
			continue
		}
		assert.LessOrEqual(t, smp.Size(), sample.MaxSize)
	}
}

func TestMutateFromEmpty(t *testing.T) {
	m := NewByte()
	rnd := rand.New(testutil.RandSource(t))
	base := sample.New(nil)
	ctx := m.CreateContext(base)
	m.InitRound(base, ctx)
	smp := base.Clone()
	assert.True(t, m.Mutate(smp, rnd, ctx, nil))
	assert.NotZero(t, smp.Size())
}

func TestMutateKeepsBase(t *testing.T) {
	m := NewByte()
	rnd := rand.New(testutil.RandSource(t))
	base := sample.New([]byte("do not touch me"))
	ctx := m.CreateContext(base)
	m.InitRound(base, ctx)
	for i := 0; i < 100; i++ {
		m.Mutate(base.Clone(), rnd, ctx, nil)
	}
	assert.Equal(t, []byte("do not touch me"), base.Data)
}

func TestNotifyResult(t *testing.T) {
	m := NewByte()
	ctx := m.CreateContext(sample.New([]byte("x")))
	m.NotifyResult(ctx, instrument.OK, true)
	m.NotifyResult(ctx, instrument.Crash, false)
	assert.Equal(t, int64(1), ctx.(*byteContext).newCover)
}
