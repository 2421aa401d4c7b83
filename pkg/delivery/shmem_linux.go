// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package delivery

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/lepusfuzz/lepus/pkg/sample"
)

// Shmem delivers samples through a POSIX shared memory object.
// Layout: little-endian u32 sample size followed by the sample bytes,
// so the mapping size is the maximum sample size plus 4.
type Shmem struct {
	name string
	file *os.File
	mem  []byte
}

func NewShmem(name string, size int) (*Shmem, error) {
	// shm_open(3) backs named objects with /dev/shm on Linux.
	path := "/dev/shm/" + name
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory %v: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to size shared memory %v: %w", name, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to mmap shared memory %v: %w", name, err)
	}
	return &Shmem{name: name, file: f, mem: mem}, nil
}

func (s *Shmem) Deliver(smp *sample.Sample) error {
	if len(smp.Data)+4 > len(s.mem) {
		return fmt.Errorf("sample size %v exceeds shared memory size %v", len(smp.Data), len(s.mem))
	}
	binary.LittleEndian.PutUint32(s.mem, uint32(len(smp.Data)))
	copy(s.mem[4:], smp.Data)
	return nil
}

func (s *Shmem) Name() string {
	return s.name
}

func (s *Shmem) Close() error {
	err1 := unix.Munmap(s.mem)
	err2 := s.file.Close()
	err3 := os.Remove("/dev/shm/" + s.name)
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return err
		}
	}
	return nil
}
