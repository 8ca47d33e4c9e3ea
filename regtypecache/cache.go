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

package regtypecache

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/regtype"
)

// fixedKindOrder lists every kind whose cache-id is assigned once at
// Cache construction, in ascending cache-id order. Reference,
// UnresolvedReference and the four uninitialized-by-allocation kinds are
// never fixed: they are created on demand.
var fixedKindOrder = []regtype.Kind{
	regtype.Undefined, regtype.Conflict,
	regtype.Boolean, regtype.Byte, regtype.Short, regtype.Char, regtype.Integer, regtype.Float,
	regtype.LongLo, regtype.LongHi, regtype.DoubleLo, regtype.DoubleHi,
	regtype.Zero, regtype.BooleanConstant, regtype.PositiveByteConstant, regtype.PositiveShortConstant, regtype.CharConstant,
	regtype.ByteConstant, regtype.ShortConstant, regtype.IntegerConstant,
	regtype.ConstantLo, regtype.ConstantHi,
	regtype.Null,
	regtype.JavaLangObject,
}

// Cache is the per-method register-type interner. It is not
// safe for concurrent use; the verifier owns exactly one Cache per method
// being verified.
type Cache struct {
	id       uuid.UUID // correlates cache-scoped trace logs across a verification run
	resolver classresolver.Resolver

	entries []*Type
	byKind  map[regtype.Kind]*Type // only for fixed kinds
	byClass map[classresolver.Handle]*Type
	byDescriptor map[string]*Type

	idsForTypeIndex []uint16 // 0 means "not yet computed"

	javaLangObject *Type
	lastUninitThis *Type // single "last" slot for UninitializedThisArgument
}

// New constructs a Cache with every fixed kind pre-allocated and
// java.lang.Object resolved. numTypeIndices sizes the dex type-index
// lookup table.
func New(resolver classresolver.Resolver, numTypeIndices int) (*Cache, error) {
	c := &Cache{
		id:              uuid.New(),
		resolver:        resolver,
		byKind:          make(map[regtype.Kind]*Type, len(fixedKindOrder)),
		byClass:         make(map[classresolver.Handle]*Type),
		byDescriptor:    make(map[string]*Type),
		idsForTypeIndex: make([]uint16, numTypeIndices),
	}
	for _, k := range fixedKindOrder {
		c.intern(&Type{kind: k})
		c.byKind[k] = c.entries[len(c.entries)-1]
	}
	jlo := c.byKind[regtype.JavaLangObject]
	jlo.descriptor = "Ljava/lang/Object;"
	if resolver != nil {
		h, err := resolver.FindClass("Ljava/lang/Object;")
		if err == nil {
			jlo.class = h
			c.byClass[h] = jlo
		}
	}
	c.javaLangObject = jlo
	return c, nil
}

// ID returns the cache's correlation identifier, useful for tying trace
// log lines from multiple packages back to one verification run.
func (c *Cache) ID() uuid.UUID { return c.id }

func (c *Cache) intern(t *Type) *Type {
	t.cacheID = uint16(len(c.entries))
	c.entries = append(c.entries, t)
	return t
}

// GetFromID returns the cached type with the given cache-id. Panics if id
// is out of range; the cache never forgets an id it handed out.
func (c *Cache) GetFromID(id uint16) *Type {
	if int(id) >= len(c.entries) {
		panic(fmt.Sprintf("regtypecache: id %d out of range (cache has %d entries)", id, len(c.entries)))
	}
	return c.entries[id]
}

// GetFromRegKind returns the fixed-cache-id type for a kind that is fixed
// at construction. Panics for Reference, UnresolvedReference and the
// uninitialized kinds, which have no single fixed id.
func (c *Cache) GetFromRegKind(k regtype.Kind) *Type {
	t, ok := c.byKind[k]
	if !ok {
		panic(fmt.Sprintf("regtypecache: %v has no fixed cache-id", k))
	}
	return t
}

// FromTypeIndex resolves a dex type-index to a cached type, memoizing the
// result in idsForTypeIndex.
func (c *Cache) FromTypeIndex(idx uint32) (*Type, error) {
	if int(idx) < len(c.idsForTypeIndex) && c.idsForTypeIndex[idx] != 0 {
		return c.GetFromID(c.idsForTypeIndex[idx]), nil
	}
	class, err := c.resolver.ResolveType(idx)
	if err != nil {
		return nil, err
	}
	t, err := c.FromClass(class)
	if err != nil {
		return nil, err
	}
	if int(idx) < len(c.idsForTypeIndex) {
		c.idsForTypeIndex[idx] = t.cacheID
	}
	return t, nil
}

// FromDescriptor maps a one-character primitive descriptor, "V", or a
// class/array descriptor to a cached type. A malformed
// descriptor produces Conflict rather than an error.
func (c *Cache) FromDescriptor(desc string) *Type {
	if desc == "" {
		return c.GetFromRegKind(regtype.Conflict)
	}
	if t, ok := primitiveFromDescriptor(c, desc); ok {
		return t
	}
	if existing, ok := c.byDescriptor[desc]; ok {
		return existing
	}
	if !wellFormedReferenceDescriptor(desc) {
		return c.GetFromRegKind(regtype.Conflict)
	}
	if c.resolver == nil {
		return c.internUnresolved(desc)
	}
	class, err := c.resolver.FindClass(desc)
	if err != nil {
		return c.internUnresolved(desc)
	}
	t, ferr := c.FromClass(class)
	if ferr != nil {
		return c.internUnresolved(desc)
	}
	return t
}

func (c *Cache) internUnresolved(desc string) *Type {
	t := &Type{kind: regtype.UnresolvedReference, descriptor: desc}
	c.intern(t)
	c.byDescriptor[desc] = t
	return t
}

func primitiveFromDescriptor(c *Cache, desc string) (*Type, bool) {
	if len(desc) != 1 {
		return nil, false
	}
	switch desc[0] {
	case 'V':
		return c.GetFromRegKind(regtype.Conflict), true
	case 'Z':
		return c.GetFromRegKind(regtype.Boolean), true
	case 'B':
		return c.GetFromRegKind(regtype.Byte), true
	case 'S':
		return c.GetFromRegKind(regtype.Short), true
	case 'C':
		return c.GetFromRegKind(regtype.Char), true
	case 'I':
		return c.GetFromRegKind(regtype.Integer), true
	case 'F':
		return c.GetFromRegKind(regtype.Float), true
	case 'J':
		return c.GetFromRegKind(regtype.LongLo), true
	case 'D':
		return c.GetFromRegKind(regtype.DoubleLo), true
	default:
		return nil, false
	}
}

func wellFormedReferenceDescriptor(desc string) bool {
	n := 0
	for n < len(desc) && desc[n] == '[' {
		n++
	}
	if n > 255 || n >= len(desc) {
		return false
	}
	rest := desc[n:]
	if len(rest) == 1 {
		switch rest[0] {
		case 'Z', 'B', 'S', 'C', 'I', 'F', 'J', 'D':
			return true // a primitive is well-formed as an array component
		default:
			return false
		}
	}
	return len(rest) >= 2 && rest[0] == 'L' && rest[len(rest)-1] == ';'
}

// FromClass maps a resolved class Handle to a cached type.
func (c *Cache) FromClass(class classresolver.Handle) (*Type, error) {
	if class.IsPrimitive() {
		t, ok := primitiveFromDescriptor(c, class.Descriptor())
		if !ok {
			return nil, fmt.Errorf("regtypecache: unrecognized primitive descriptor %q", class.Descriptor())
		}
		return t, nil
	}
	if class.Descriptor() == "Ljava/lang/Object;" {
		return c.javaLangObject, nil
	}
	if existing, ok := c.byClass[class]; ok {
		return existing, nil
	}
	t := &Type{kind: regtype.Reference, descriptor: class.Descriptor(), class: class}
	c.intern(t)
	c.byClass[class] = t
	c.byDescriptor[class.Descriptor()] = t
	return t, nil
}

// MakeUnresolvedReference returns a fresh anonymous unresolved type with an
// intentionally invalid descriptor, the fallback for a failed class-join.
func (c *Cache) MakeUnresolvedReference() *Type {
	t := &Type{kind: regtype.UnresolvedReference, descriptor: "Lunresolved-synthetic;"}
	c.intern(t)
	return t
}

// Uninitialized returns the uninitialized twin of a resolved Reference,
// UnresolvedReference or JavaLangObject type, creating and linking it
// lazily on first use.
func (c *Cache) Uninitialized(t *Type) *Type {
	switch t.kind {
	case regtype.JavaLangObject, regtype.Reference:
		if t.uninitTwin == nil {
			twin := &Type{kind: regtype.UninitializedReference, descriptor: t.descriptor, class: t.class, initializedCounterpart: t}
			c.intern(twin)
			t.uninitTwin = twin
		}
		return t.uninitTwin
	case regtype.UnresolvedReference:
		if t.uninitTwin == nil {
			twin := &Type{kind: regtype.UnresolvedUninitializedReference, descriptor: t.descriptor, initializedCounterpart: t}
			c.intern(twin)
			t.uninitTwin = twin
		}
		return t.uninitTwin
	default:
		panic(fmt.Sprintf("regtypecache: Uninitialized of non-reference kind %v", t.kind))
	}
}

// UninitializedThisArgument returns an uninitialized-this twin of t,
// reusing the single "last" slot when consecutive calls ask for the same
// type.
func (c *Cache) UninitializedThisArgument(t *Type) *Type {
	if c.lastUninitThis != nil && c.lastUninitThis.initializedCounterpart == t {
		return c.lastUninitThis
	}
	kind := regtype.UninitializedThisReference
	if t.kind == regtype.UnresolvedReference {
		kind = regtype.UnresolvedUninitializedThisReference
	}
	twin := &Type{kind: kind, descriptor: t.descriptor, class: t.class, initializedCounterpart: t}
	c.intern(twin)
	c.lastUninitThis = twin
	return twin
}

// FromUninitialized returns the initialized counterpart of an
// uninitialized type via its back-pointer.
func (c *Cache) FromUninitialized(uninit *Type) *Type {
	return uninit.initializedCounterpart
}

// GetComponentType returns the array element type of an array-typed
// reference. Calling it on anything else (including an
// UnresolvedMergedReference) is a programmer error.
func (c *Cache) GetComponentType(array *Type) (*Type, error) {
	switch array.kind {
	case regtype.Reference, regtype.JavaLangObject:
		comp := array.class.Component()
		if comp == nil {
			return nil, fmt.Errorf("regtypecache: GetComponentType of non-array class %s", array.class.Descriptor())
		}
		return c.FromClass(comp)
	case regtype.UnresolvedReference:
		if len(array.descriptor) < 2 || array.descriptor[0] != '[' {
			return nil, fmt.Errorf("regtypecache: GetComponentType of non-array unresolved type %s", array.descriptor)
		}
		return c.FromDescriptor(array.descriptor[1:]), nil
	default:
		panic(fmt.Sprintf("regtypecache: GetComponentType of non-array kind %v", array.kind))
	}
}
