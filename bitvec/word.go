// Copyright 2014 The go-dexguard Authors
// This file is part of the go-dexguard library.
//
// The go-dexguard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-dexguard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-dexguard library. If not, see <http://www.gnu.org/licenses/>.

// Package bitvec implements the dense, word-packed bit vectors used by the
// register-type cache (the unresolved-member set of a merged reference type)
// and, optionally, by a register line's lock-depth map.
package bitvec

import "unsafe"

// Word is any unsigned integer type usable as bit-vector storage. Both u32
// and u64 must interoperate at the call site, which on a
// pre-generics toolchain required duplicated types; Go generics let a single
// View[W] serve all three.
type Word interface {
	~uint32 | ~uint64 | ~uintptr
}

func bitsPerWord[W Word]() int {
	var w W
	return int(unsafe.Sizeof(w)) * 8
}

func wordIndex[W Word](i int) int {
	return i / bitsPerWord[W]()
}

func bitMask[W Word](i int) W {
	return W(1) << uint(i%bitsPerWord[W]())
}
