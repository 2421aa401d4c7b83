// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Serial is a wire/disk representation of Coverage with deterministic
// ordering. It is used both by the checkpoint file and the coverage
// server RPC.
type Serial struct {
	Modules []string
	Offsets [][]uint64
}

func (c Coverage) Serialize() Serial {
	if c.Empty() {
		return Serial{}
	}
	modules := make([]string, 0, len(c))
	for module, offsets := range c {
		if len(offsets) == 0 {
			continue
		}
		modules = append(modules, module)
	}
	sort.Strings(modules)
	res := Serial{
		Modules: modules,
		Offsets: make([][]uint64, len(modules)),
	}
	for i, module := range modules {
		offsets := make([]uint64, 0, len(c[module]))
		for off := range c[module] {
			offsets = append(offsets, off)
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		res.Offsets[i] = offsets
	}
	return res
}

func (ser Serial) Deserialize() (Coverage, error) {
	if len(ser.Modules) != len(ser.Offsets) {
		return nil, fmt.Errorf("corrupted coverage serial: %v modules, %v offset sets",
			len(ser.Modules), len(ser.Offsets))
	}
	if len(ser.Modules) == 0 {
		return nil, nil
	}
	c := make(Coverage, len(ser.Modules))
	for i, module := range ser.Modules {
		for _, off := range ser.Offsets[i] {
			c.Add(module, off)
		}
	}
	return c, nil
}

// Binary layout (all fields little-endian):
//
//	u32 module count
//	per module: u32 name length, name bytes, u64 offset count, u64 offsets
//
// The layout is explicit rather than host-native so that a checkpoint
// written on one architecture restores on another.

func (c Coverage) WriteBinary(w io.Writer) error {
	ser := c.Serialize()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ser.Modules))); err != nil {
		return err
	}
	for i, module := range ser.Modules {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(module))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, module); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(len(ser.Offsets[i]))); err != nil {
			return err
		}
		for _, off := range ser.Offsets[i] {
			if err := binary.Write(w, binary.LittleEndian, off); err != nil {
				return err
			}
		}
	}
	return nil
}

func ReadBinary(r io.Reader) (Coverage, error) {
	var numModules uint32
	if err := binary.Read(r, binary.LittleEndian, &numModules); err != nil {
		return nil, fmt.Errorf("failed to read coverage module count: %w", err)
	}
	var c Coverage
	for i := uint32(0); i < numModules; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("failed to read coverage module name length: %w", err)
		}
		const maxModuleName = 1 << 16
		if nameLen > maxModuleName {
			return nil, fmt.Errorf("bad coverage module name length %v", nameLen)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("failed to read coverage module name: %w", err)
		}
		var numOffsets uint64
		if err := binary.Read(r, binary.LittleEndian, &numOffsets); err != nil {
			return nil, fmt.Errorf("failed to read coverage offset count: %w", err)
		}
		if c == nil {
			c = make(Coverage)
		}
		for j := uint64(0); j < numOffsets; j++ {
			var off uint64
			if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
				return nil, fmt.Errorf("failed to read coverage offset: %w", err)
			}
			c.Add(string(name), off)
		}
	}
	return c, nil
}
