// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package delivery places samples where the target reads them.
package delivery

import (
	"fmt"

	"github.com/lepusfuzz/lepus/pkg/osutil"
	"github.com/lepusfuzz/lepus/pkg/sample"
)

// MaxShmemSize is the shared-memory mapping size used for sample
// delivery: the maximum sample size plus the u32 length prefix.
const MaxShmemSize = sample.MaxSize + 4

// Delivery writes a sample to the location the target consumes it from.
// Implementations are not goroutine-safe; every worker owns its own
// instance.
type Delivery interface {
	Deliver(s *sample.Sample) error
	// Name returns the path or shared-memory name the target reads;
	// it is substituted for the @@ placeholder in the target command line.
	Name() string
	Close() error
}

// File delivers samples by writing a plain file.
type File struct {
	filename string
}

func NewFile(filename string) *File {
	return &File{filename: filename}
}

func (f *File) Deliver(s *sample.Sample) error {
	if err := osutil.WriteFile(f.filename, s.Data); err != nil {
		return fmt.Errorf("failed to deliver sample: %w", err)
	}
	return nil
}

func (f *File) Name() string {
	return f.filename
}

func (f *File) Close() error {
	return nil
}
