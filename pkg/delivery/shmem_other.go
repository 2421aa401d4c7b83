// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !linux

package delivery

import (
	"fmt"

	"github.com/lepusfuzz/lepus/pkg/sample"
)

type Shmem struct{}

func NewShmem(name string, size int) (*Shmem, error) {
	return nil, fmt.Errorf("shmem delivery is not supported on this platform")
}

func (s *Shmem) Deliver(smp *sample.Sample) error { panic("unreachable") }
func (s *Shmem) Name() string                     { panic("unreachable") }
func (s *Shmem) Close() error                     { panic("unreachable") }
