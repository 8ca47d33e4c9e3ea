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

// Package regtypecache implements the per-method register-type cache: the
// interner that maps dex type indices and descriptors to
// cached RegType entries, and that constructs uninitialized and merged
// unresolved types on demand.
package regtypecache

import (
	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/regtype"
	"github.com/dexguard/go-dexguard/bitvec"
)

// Type is a single cache slot. Only the fields relevant to its
// Kind are meaningful; the others are zero.
type Type struct {
	kind       regtype.Kind
	descriptor string
	cacheID    uint16

	// Resolved Reference / JavaLangObject / UnresolvedReference.
	class       classresolver.Handle
	uninitTwin  *Type // lazily filled back-pointer

	// Uninitialized* kinds: pointer to the initialized counterpart.
	initializedCounterpart *Type

	// UnresolvedMergedReference.
	owner        *Cache
	resolvedPart *Type
	unresolved   *bitvec.Vector[uint32]
	// isArray records whether both operands of the merge that produced a
	// merged reference were arrays (a Zero or Null operand counts as one).
	isArray bool
}

// Kind returns the type's closed kind discriminant.
func (t *Type) Kind() regtype.Kind { return t.kind }

// Descriptor returns the textual descriptor, empty for primitives,
// constants, Undefined/Conflict and UnresolvedMergedReference.
func (t *Type) Descriptor() string { return t.descriptor }

// CacheID returns this type's index within its owning Cache.
func (t *Type) CacheID() uint16 { return t.cacheID }

// ClassHandle returns the resolved class handle of a Reference or
// JavaLangObject type and of the uninitialized twin of one; nil for
// unresolved types and every other kind.
func (t *Type) ClassHandle() classresolver.Handle { return t.class }

// ResolvedPart returns the resolved component of an
// UnresolvedMergedReference (itself Zero, JavaLangObject or a resolved
// Reference); nil for every other kind.
func (t *Type) ResolvedPart() *Type { return t.resolvedPart }

// UnresolvedMembers returns the immutable bit-set of cache-ids of the
// unresolved reference-kind members of an UnresolvedMergedReference; nil
// for every other kind.
func (t *Type) UnresolvedMembers() *bitvec.Vector[uint32] { return t.unresolved }

// InitializedCounterpart returns the initialized type an uninitialized
// type's back-pointer points to. Valid only for the four uninitialized
// kinds.
func (t *Type) InitializedCounterpart() *Type { return t.initializedCounterpart }

// IsArrayTypes reports whether this type denotes an array, which for a
// resolved reference defers to the class handle and for an
// UnresolvedMergedReference holds iff both operands of the merge that
// produced it were arrays (a Zero or Null operand counts as one).
func (t *Type) IsArrayTypes() bool {
	switch t.kind {
	case regtype.Reference, regtype.JavaLangObject:
		return t.class != nil && t.class.IsArray()
	case regtype.UnresolvedReference:
		return len(t.descriptor) > 0 && t.descriptor[0] == '['
	case regtype.UnresolvedMergedReference:
		return t.isArray
	default:
		return false
	}
}

// IsObjectArrayTypes reports whether this type denotes a reference-element
// array, i.e. IsArrayTypes() and the (unresolved) element type is itself a
// reference rather than primitive.
func (t *Type) IsObjectArrayTypes() bool {
	if !t.IsArrayTypes() {
		return false
	}
	switch t.kind {
	case regtype.Reference, regtype.JavaLangObject:
		return t.class.Component() != nil && !t.class.Component().IsPrimitive()
	case regtype.UnresolvedReference:
		return len(t.descriptor) > 1 && t.descriptor[1] != 'I' && t.descriptor[1] != 'J' &&
			t.descriptor[1] != 'F' && t.descriptor[1] != 'D' && t.descriptor[1] != 'Z' &&
			t.descriptor[1] != 'B' && t.descriptor[1] != 'S' && t.descriptor[1] != 'C'
	case regtype.UnresolvedMergedReference:
		return true // merged arrays are only ever formed from reference-element arrays; see FromUnresolvedMerge
	default:
		return false
	}
}
