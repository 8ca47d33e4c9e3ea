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

// Package verifierdeps implements the assignability dependency recorder: a
// best-effort log of resolved-reference assignability checks a downstream
// re-verifier consults when a class hierarchy changes. Serialization of
// dependency records to disk is host plumbing; this package supplies the
// concrete reference recorder.
package verifierdeps

import (
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// Recorder consumes assignability facts, narrowed to the single call the
// core makes.
type Recorder interface {
	RecordAssignability(lhsDescriptor, rhsDescriptor string)
}

// Entry is one RLP-encodable dependency record.
type Entry struct {
	LHSDescriptor string
	RHSDescriptor string
}

// FileRecorder appends Entry records to an io.Writer as an RLP stream, the
// out-of-scope "serialization of dependency records" collaborator made
// concrete for demonstration and testing.
type FileRecorder struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

// NewFileRecorder wraps w; callers are responsible for closing it.
func NewFileRecorder(w io.Writer) *FileRecorder {
	return &FileRecorder{w: w}
}

// RecordAssignability RLP-encodes one dependency entry. Errors are sticky
// and exposed via Err; recording is best-effort and the verifier's own
// data-flow pass never blocks on this call succeeding.
func (r *FileRecorder) RecordAssignability(lhsDescriptor, rhsDescriptor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	r.err = rlp.Encode(r.w, Entry{LHSDescriptor: lhsDescriptor, RHSDescriptor: rhsDescriptor})
}

// Err returns the first encoding error encountered, if any.
func (r *FileRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// MemoryRecorder is an in-process Recorder used by tests that don't need
// on-disk persistence; it keeps every entry instead of streaming them.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (r *MemoryRecorder) RecordAssignability(lhsDescriptor, rhsDescriptor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{LHSDescriptor: lhsDescriptor, RHSDescriptor: rhsDescriptor})
}

// Entries returns every recorded dependency, in call order.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
