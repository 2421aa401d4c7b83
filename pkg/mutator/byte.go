// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"
	"math/rand"

	"github.com/lepusfuzz/lepus/pkg/instrument"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

// ByteMutator applies format-agnostic byte-level mutations: bit and
// byte flips, interesting values, arithmetic, block edits and splicing
// with other corpus samples.
type ByteMutator struct {
	// RoundLen is the number of variants produced per round.
	RoundLen int
}

const defaultRoundLen = 512

func NewByte() *ByteMutator {
	return &ByteMutator{RoundLen: defaultRoundLen}
}

// byteContext tracks the position in the current round, the number of
// rounds started and how many variants produced new coverage. The round
// length does not depend on these counts; every round is RoundLen long.
type byteContext struct {
	iter     int
	rounds   int
	newCover int64
}

func (m *ByteMutator) CreateContext(s *sample.Sample) Context {
	return &byteContext{}
}

func (m *ByteMutator) InitRound(s *sample.Sample, ctx Context) {
	c := ctx.(*byteContext)
	c.iter = 0
	c.rounds++
}

func (m *ByteMutator) NotifyResult(ctx Context, result instrument.Result, newCoverage bool) {
	if newCoverage {
		ctx.(*byteContext).newCover++
	}
}

var (
	interesting8  = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

func (m *ByteMutator) Mutate(s *sample.Sample, rnd *rand.Rand, ctx Context, all []*sample.Sample) bool {
	c := ctx.(*byteContext)
	roundLen := m.RoundLen
	if roundLen == 0 {
		roundLen = defaultRoundLen
	}
	if c.iter >= roundLen {
		return false
	}
	c.iter++

	// Stack a few mutations per variant.
	steps := 1 + rnd.Intn(3)
	for i := 0; i < steps; i++ {
		m.mutateOnce(s, rnd, all)
	}
	return true
}

func (m *ByteMutator) mutateOnce(s *sample.Sample, rnd *rand.Rand, all []*sample.Sample) {
	data := s.Data
	if len(data) == 0 {
		s.Data = []byte{byte(rnd.Intn(256))}
		return
	}
	switch rnd.Intn(10) {
	case 0: // flip a bit
		pos := rnd.Intn(len(data))
		data[pos] ^= 1 << uint(rnd.Intn(8))
	case 1: // flip a byte
		data[rnd.Intn(len(data))] ^= 0xff
	case 2: // set a byte to an interesting value
		data[rnd.Intn(len(data))] = byte(interesting8[rnd.Intn(len(interesting8))])
	case 3: // set a word to an interesting value
		if len(data) < 2 {
			data[0] = byte(rnd.Intn(256))
			break
		}
		pos := rnd.Intn(len(data) - 1)
		binary.LittleEndian.PutUint16(data[pos:], uint16(interesting16[rnd.Intn(len(interesting16))]))
	case 4: // set a dword to an interesting value
		if len(data) < 4 {
			data[rnd.Intn(len(data))] = byte(rnd.Intn(256))
			break
		}
		pos := rnd.Intn(len(data) - 3)
		binary.LittleEndian.PutUint32(data[pos:], uint32(interesting32[rnd.Intn(len(interesting32))]))
	case 5: // add/subtract from a byte
		pos := rnd.Intn(len(data))
		delta := byte(1 + rnd.Intn(35))
		if rnd.Intn(2) == 0 {
			data[pos] += delta
		} else {
			data[pos] -= delta
		}
	case 6: // overwrite a range with random bytes
		pos := rnd.Intn(len(data))
		n := 1 + rnd.Intn(16)
		for i := pos; i < len(data) && i < pos+n; i++ {
			data[i] = byte(rnd.Intn(256))
		}
	case 7: // remove a range
		if len(data) < 2 {
			break
		}
		pos := rnd.Intn(len(data) - 1)
		n := 1 + rnd.Intn(len(data)-pos-1)
		s.Data = append(data[:pos], data[pos+n:]...)
	case 8: // duplicate a range
		pos := rnd.Intn(len(data))
		n := 1 + rnd.Intn(16)
		if pos+n > len(data) {
			n = len(data) - pos
		}
		chunk := append([]byte(nil), data[pos:pos+n]...)
		ins := rnd.Intn(len(data) + 1)
		s.Data = append(data[:ins], append(chunk, data[ins:]...)...)
	case 9: // splice with another retained sample
		if len(all) == 0 {
			data[rnd.Intn(len(data))] ^= 0xff
			break
		}
		other := all[rnd.Intn(len(all))]
		if other == nil || other.Size() == 0 {
			break
		}
		pos := rnd.Intn(other.Size())
		n := 1 + rnd.Intn(other.Size()-pos)
		ins := rnd.Intn(len(data) + 1)
		chunk := append([]byte(nil), other.Data[pos:pos+n]...)
		s.Data = append(data[:ins], append(chunk, data[ins:]...)...)
	}
	if len(s.Data) > sample.MaxSize {
		s.Trim(sample.MaxSize)
	}
}
