// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package sample

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "sample_00000")
	smp := New([]byte("some input"))
	require.NoError(t, smp.Save(filename))

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, smp.Data, loaded.Data)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)
}

func TestTrim(t *testing.T) {
	smp := New([]byte("0123456789"))
	smp.Trim(4)
	assert.Equal(t, []byte("0123"), smp.Data)
	// Trim never grows.
	smp.Trim(100)
	assert.Equal(t, 4, smp.Size())
	smp.Trim(-1)
	assert.Equal(t, 4, smp.Size())
	smp.Trim(0)
	assert.Zero(t, smp.Size())
}

func TestClone(t *testing.T) {
	orig := New([]byte("abcd"))
	clone := orig.Clone()
	clone.Data[0] = 'x'
	clone.Trim(2)
	assert.Equal(t, []byte("abcd"), orig.Data)
	assert.Equal(t, []byte("xb"), clone.Data)
}

func TestTrimAliasing(t *testing.T) {
	// A trimmed sample must not share backing storage growth with its
	// clones: appending to one must not clobber the other.
	orig := New([]byte("abcdef"))
	orig.Trim(3)
	other := orig.Clone()
	orig.Data = append(orig.Data, 'X')
	assert.Equal(t, []byte("abc"), other.Data)
}
