// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVal(t *testing.T) {
	v := New("test val", "some value", Console)
	v.Add(1)
	v.Add(41)
	assert.Equal(t, 42, v.Val())
}

func TestExternalVal(t *testing.T) {
	backing := 7
	v := New("test ext", "external value", func() int { return backing })
	assert.Equal(t, 7, v.Val())
	backing = 8
	assert.Equal(t, 8, v.Val())
	assert.Panics(t, func() { v.Add(1) })
}

func TestLenOf(t *testing.T) {
	var mu sync.RWMutex
	slice := []int{1, 2, 3}
	v := New("test len", "len of slice", LenOf(&slice, &mu))
	assert.Equal(t, 3, v.Val())
}

func TestDistribution(t *testing.T) {
	v := New("test dist", "distribution", Distribution{})
	for i := 0; i < 100; i++ {
		v.Add(10)
	}
	assert.Equal(t, 10, v.Val())
}

func TestCollect(t *testing.T) {
	New("test console", "printed", Console).Add(3)
	New("test hidden", "not printed")

	names := make(map[string]string)
	for _, ui := range Collect(Console) {
		names[ui.Name] = ui.Value
	}
	assert.Equal(t, "3", names["test console"])
	_, ok := names["test hidden"]
	assert.False(t, ok)
}
