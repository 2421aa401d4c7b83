// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"

	"github.com/lepusfuzz/lepus/pkg/sample"
)

// MagicOutputFilter builds an OutputFilter that pins the first bytes of
// every delivered sample to the given magic number. Samples that
// already begin with the magic pass through unchanged (the filter
// declines); otherwise a copy with the magic spliced over its prefix is
// delivered and the original stays untouched.
func MagicOutputFilter(magic []byte) OutputFilter {
	return func(original *sample.Sample) (*sample.Sample, bool) {
		if len(original.Data) >= len(magic) && bytes.Equal(original.Data[:len(magic)], magic) {
			return nil, false
		}
		out := original.Clone()
		for i := 0; i < len(magic) && i < len(out.Data); i++ {
			out.Data[i] = magic[i]
		}
		return out, true
	}
}
