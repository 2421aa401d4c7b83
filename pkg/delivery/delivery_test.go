// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package delivery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepusfuzz/lepus/pkg/sample"
)

func TestFileDelivery(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "input_1")
	d := NewFile(filename)
	assert.Equal(t, filename, d.Name())

	require.NoError(t, d.Deliver(sample.New([]byte("first"))))
	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Redelivery overwrites.
	require.NoError(t, d.Deliver(sample.New([]byte("2nd"))))
	data, err = os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, []byte("2nd"), data)
	assert.NoError(t, d.Close())
}
