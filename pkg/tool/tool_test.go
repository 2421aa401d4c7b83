// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitArgs(t *testing.T) {
	toolArgs, targetArgs := SplitArgs([]string{"-in", "seeds", "--", "./target", "@@"})
	assert.Equal(t, []string{"-in", "seeds"}, toolArgs)
	assert.Equal(t, []string{"./target", "@@"}, targetArgs)

	toolArgs, targetArgs = SplitArgs([]string{"-in", "seeds"})
	assert.Equal(t, []string{"-in", "seeds"}, toolArgs)
	assert.Nil(t, targetArgs)

	// Only the first separator splits.
	_, targetArgs = SplitArgs([]string{"--", "./target", "--", "-x"})
	assert.Equal(t, []string{"./target", "--", "-x"}, targetArgs)
}

func TestReplaceArg(t *testing.T) {
	argv := []string{"./target", "-f", "@@", "@@"}
	got := ReplaceArg(argv, "@@", "/tmp/input_1")
	assert.Equal(t, []string{"./target", "-f", "/tmp/input_1", "/tmp/input_1"}, got)
	// The original is untouched, each worker owns its own copy.
	assert.Equal(t, []string{"./target", "-f", "@@", "@@"}, argv)
}
