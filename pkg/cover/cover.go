// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover provides types for working with code coverage feedback.
// Coverage is a set of instrumented locations, keyed by the module that
// contains them; an offset is an opaque identifier of one location.
package cover

type offsetSet map[uint64]struct{}

// Coverage maps module identity to the set of offsets touched in that module.
type Coverage map[string]offsetSet

func (c Coverage) Empty() bool {
	for _, offsets := range c {
		if len(offsets) != 0 {
			return false
		}
	}
	return true
}

// Count returns the total number of offsets across all modules.
func (c Coverage) Count() int {
	n := 0
	for _, offsets := range c {
		n += len(offsets)
	}
	return n
}

func (c Coverage) Copy() Coverage {
	ret := make(Coverage, len(c))
	for module, offsets := range c {
		set := make(offsetSet, len(offsets))
		for off := range offsets {
			set[off] = struct{}{}
		}
		ret[module] = set
	}
	return ret
}

// Add records a single offset in the given module.
func (c Coverage) Add(module string, offset uint64) {
	set := c[module]
	if set == nil {
		set = make(offsetSet)
		c[module] = set
	}
	set[offset] = struct{}{}
}

func (c Coverage) Contains(module string, offset uint64) bool {
	_, ok := c[module][offset]
	return ok
}

// Merge adds all offsets of c1 into c.
func (c *Coverage) Merge(c1 Coverage) {
	if c1.Empty() {
		return
	}
	c0 := *c
	if c0 == nil {
		c0 = make(Coverage, len(c1))
		*c = c0
	}
	for module, offsets := range c1 {
		set := c0[module]
		if set == nil {
			set = make(offsetSet, len(offsets))
			c0[module] = set
		}
		for off := range offsets {
			set[off] = struct{}{}
		}
	}
}

// Intersect returns the offsets present in both c and c1.
func (c Coverage) Intersect(c1 Coverage) Coverage {
	var res Coverage
	for module, offsets := range c {
		other := c1[module]
		if len(other) == 0 {
			continue
		}
		for off := range offsets {
			if _, ok := other[off]; ok {
				if res == nil {
					res = make(Coverage)
				}
				res.Add(module, off)
			}
		}
	}
	return res
}

// Diff returns the offsets of c1 that are not present in c.
func (c Coverage) Diff(c1 Coverage) Coverage {
	var res Coverage
	for module, offsets := range c1 {
		known := c[module]
		for off := range offsets {
			if _, ok := known[off]; ok {
				continue
			}
			if res == nil {
				res = make(Coverage)
			}
			res.Add(module, off)
		}
	}
	return res
}

// Includes reports whether c contains every offset of c1.
func (c Coverage) Includes(c1 Coverage) bool {
	for module, offsets := range c1 {
		known := c[module]
		for off := range offsets {
			if _, ok := known[off]; !ok {
				return false
			}
		}
	}
	return true
}
