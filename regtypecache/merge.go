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
	"github.com/dexguard/go-dexguard/bitvec"
	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/regtype"
)

// AssignabilityRecorder receives resolved-reference assignability facts,
// narrowed to the one call the lattice makes. verifierdeps.Recorder
// satisfies this.
type AssignabilityRecorder interface {
	RecordAssignability(lhsDescriptor, rhsDescriptor string)
}

// Assignable reports whether a value of type src may flow into a slot
// requiring dest, deferring to class-level reflection when the kind table
// alone cannot decide. strict selects the stricter interface-vs-concrete-class rule used
// only by return-object.
func (c *Cache) Assignable(dest, src *Type, strict bool, rec AssignabilityRecorder) (bool, error) {
	if dest == src {
		return true, nil
	}
	a := regtype.AssignabilityOf(dest.kind, src.kind)
	if dest.kind == src.kind && (dest.kind == regtype.Reference || dest.kind == regtype.UnresolvedReference) {
		// Kind-level reflexivity says nothing about two distinct types of
		// the same reference kind: they need the class-level check.
		a = regtype.DeferToReference
	}
	switch a {
	case regtype.AssignableKind:
		return true, nil
	case regtype.NotAssignable, regtype.InvalidAssignability:
		return false, nil
	case regtype.NarrowingConversionKind:
		return false, nil
	case regtype.DeferToReference:
		return c.assignableReference(dest, src, strict, rec)
	default:
		return false, nil
	}
}

func (c *Cache) assignableReference(dest, src *Type, strict bool, rec AssignabilityRecorder) (bool, error) {
	if dest.kind == regtype.UnresolvedReference || src.kind == regtype.UnresolvedReference ||
		dest.kind == regtype.UnresolvedMergedReference || src.kind == regtype.UnresolvedMergedReference {
		return false, nil // an unresolved operand can never be proven assignable statically
	}
	ok := dest.class.IsAssignableFrom(src.class)
	if !ok && dest.class.IsInterface() && !src.class.IsInterface() && !src.class.IsObjectClass() && !strict {
		ok = true // non-strict mode defers interface checks to run time
	}
	if ok && rec != nil && dest.class != src.class && !dest.class.IsObjectClass() {
		rec.RecordAssignability(dest.descriptor, src.descriptor)
	}
	return ok, nil
}

// Merge computes the least upper bound of two register types: kind-level
// merge first, falling through to class-join/unresolved-bitset
// merge whenever the kind table defers.
func (c *Cache) Merge(lhs, rhs *Type) *Type {
	if lhs == rhs {
		return lhs
	}
	kindResult := regtype.MergeKinds(lhs.kind, rhs.kind)
	if kindResult != regtype.UnresolvedMergedReference {
		return c.GetFromRegKind(kindResult)
	}
	return c.mergeReferences(lhs, rhs)
}

func (c *Cache) mergeReferences(lhs, rhs *Type) *Type {
	// A primitive-array operand mixing into a reference join collapses the
	// result to java.lang.Object. A Zero or Null partner mixes nothing, so a
	// resolved primitive array joined with it stays that array; any other
	// partner reaching mergeReferences is unresolved or a non-matching
	// reference, so the primitive-array operand is necessarily mixing
	// categories.
	if isPrimitiveArrayOperand(lhs) || isPrimitiveArrayOperand(rhs) {
		if regtype.IsZeroOrNull(lhs.kind) && rhs.kind == regtype.Reference {
			return rhs
		}
		if regtype.IsZeroOrNull(rhs.kind) && lhs.kind == regtype.Reference {
			return lhs
		}
		return c.javaLangObject
	}

	lResolved, lUnresolved := splitMergeOperand(lhs)
	rResolved, rUnresolved := splitMergeOperand(rhs)

	resolved := c.safeMerge(lResolved, rResolved)
	if resolved.kind == regtype.Conflict {
		return resolved
	}
	if resolved.kind == regtype.JavaLangObject {
		// Everything joins to java.lang.Object, including any unresolved
		// members; no merged type is needed.
		return resolved
	}
	if len(lUnresolved) == 0 && len(rUnresolved) == 0 {
		// Both operands were resolved or null; the class join is the result.
		return resolved
	}

	merged := newFixedBitVector(lUnresolved, rUnresolved)
	isArray := bothUnresolvedArrays(lhs, rhs)

	if existing := c.findEquivalentMerge(resolved, merged); existing != nil {
		return existing
	}
	t := &Type{kind: regtype.UnresolvedMergedReference, owner: c, resolvedPart: resolved, unresolved: merged, isArray: isArray}
	c.intern(t)
	return t
}

// splitMergeOperand decomposes a merge operand into its resolved part
// (nil standing for Zero) and, if it is or carries unresolved members, the
// set of unresolved cache-ids contributed.
func splitMergeOperand(t *Type) (resolved *Type, unresolvedIDs []uint16) {
	switch t.kind {
	case regtype.UnresolvedMergedReference:
		if t.resolvedPart != nil && t.resolvedPart.kind == regtype.Zero {
			return nil, collectIDs(t.unresolved)
		}
		return t.resolvedPart, collectIDs(t.unresolved)
	case regtype.UnresolvedReference:
		return nil, []uint16{t.cacheID}
	case regtype.Zero, regtype.Null:
		// Null joins into anything; it contributes neither a resolved part
		// nor an unresolved member.
		return nil, nil
	default:
		return t, nil
	}
}

func collectIDs(v *bitvec.Vector[uint32]) []uint16 {
	if v == nil {
		return nil
	}
	var out []uint16
	it := v.Indexes()
	for {
		i, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, uint16(i))
	}
	return out
}

// newFixedBitVector builds the immutable member bit-set of a merged
// reference. The vector is sized to the highest member id so that two
// merges with identical members always produce Equal vectors, regardless of
// how large the cache had grown when each was interned.
func newFixedBitVector(a, b []uint16) *bitvec.Vector[uint32] {
	size := 0
	for _, id := range a {
		if int(id)+1 > size {
			size = int(id) + 1
		}
	}
	for _, id := range b {
		if int(id)+1 > size {
			size = int(id) + 1
		}
	}
	v := bitvec.NewFixedVector[uint32](size)
	for _, id := range a {
		v.Set(int(id))
	}
	for _, id := range b {
		v.Set(int(id))
	}
	return v
}

func (c *Cache) findEquivalentMerge(resolved *Type, unresolved *bitvec.Vector[uint32]) *Type {
	for _, e := range c.entries {
		if e.kind != regtype.UnresolvedMergedReference {
			continue
		}
		if e.resolvedPart == resolved && e.unresolved.Equal(unresolved) {
			return e
		}
	}
	return nil
}

func isPrimitiveArrayOperand(t *Type) bool {
	switch t.kind {
	case regtype.Reference, regtype.JavaLangObject:
		return t.class.IsArray() && t.class.Component().IsPrimitive()
	case regtype.UnresolvedReference:
		if len(t.descriptor) < 2 || t.descriptor[0] != '[' {
			return false
		}
		switch t.descriptor[1] {
		case 'I', 'J', 'F', 'D', 'Z', 'B', 'S', 'C':
			return true
		default:
			return false
		}
	default:
		return false
	}
}

func bothUnresolvedArrays(lhs, rhs *Type) bool {
	return descriptorIsArray(lhs) && descriptorIsArray(rhs)
}

func descriptorIsArray(t *Type) bool {
	if t.kind == regtype.UnresolvedMergedReference {
		return t.isArray
	}
	if t.kind == regtype.Zero || t.kind == regtype.Null {
		return true // a null operand adds no non-array member
	}
	return t.IsArrayTypes()
}

// safeMerge merges two resolved parts (either of which may be nil,
// standing for Zero). Returns Zero when both are nil, the other part when
// one is nil or both are the same, java.lang.Object when either side is
// java.lang.Object, and otherwise the cached type of their class join
// (possibly freshly interned), or a synthetic unresolved reference from
// MakeUnresolvedReference when the join fails.
func (c *Cache) safeMerge(lhs, rhs *Type) *Type {
	if lhs == nil && rhs == nil {
		return c.GetFromRegKind(regtype.Zero)
	}
	if lhs == nil {
		return rhs
	}
	if rhs == nil {
		return lhs
	}
	if lhs == rhs {
		return lhs
	}
	if lhs.kind == regtype.JavaLangObject || rhs.kind == regtype.JavaLangObject {
		return c.javaLangObject
	}
	joined, err := c.classJoin(lhs.class, rhs.class)
	if err != nil {
		return c.MakeUnresolvedReference()
	}
	t, ferr := c.FromClass(joined)
	if ferr != nil {
		return c.MakeUnresolvedReference()
	}
	return t
}

// classJoin finds the nearest common ancestor class of l and r.
func (c *Cache) classJoin(l, r classresolver.Handle) (classresolver.Handle, error) {
	if l.IsArray() && r.IsArray() {
		lc, rc := l.Component(), r.Component()
		if lc.IsPrimitive() || rc.IsPrimitive() {
			if lc.Descriptor() == rc.Descriptor() {
				return l, nil
			}
			return c.resolver.FindClass("Ljava/lang/Object;")
		}
		comp, err := c.classJoin(lc, rc)
		if err != nil {
			return nil, err
		}
		return c.resolver.FindArrayClass(comp)
	}
	if l.IsInterface() || r.IsInterface() {
		if common := commonInterface(l, r); common != nil {
			return common, nil
		}
		return c.resolver.FindClass("Ljava/lang/Object;")
	}
	common := walkToCommonAncestor(l, r)
	if common == nil {
		return nil, errNoCommonAncestor
	}
	return common, nil
}

var errNoCommonAncestor = classresolver.ErrNotFound

func commonInterface(l, r classresolver.Handle) classresolver.Handle {
	ls := interfaceClosure(l)
	rs := interfaceClosure(r)
	rset := make(map[classresolver.Handle]bool, len(rs))
	for _, i := range rs {
		rset[i] = true
	}
	var best classresolver.Handle
	bestDepth := -1
	for _, i := range ls {
		if rset[i] && i.DepthInHierarchy() > bestDepth {
			best = i
			bestDepth = i.DepthInHierarchy()
		}
	}
	return best
}

func interfaceClosure(h classresolver.Handle) []classresolver.Handle {
	var out []classresolver.Handle
	seen := map[classresolver.Handle]bool{}
	var walk func(classresolver.Handle)
	walk = func(c classresolver.Handle) {
		if c == nil {
			return
		}
		for _, i := range c.ImplementedInterfaces() {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
				walk(i)
			}
		}
		walk(c.Superclass())
	}
	if h.IsInterface() {
		out = append(out, h)
		seen[h] = true
	}
	walk(h)
	return out
}

func walkToCommonAncestor(l, r classresolver.Handle) classresolver.Handle {
	for l.DepthInHierarchy() > r.DepthInHierarchy() {
		l = l.Superclass()
	}
	for r.DepthInHierarchy() > l.DepthInHierarchy() {
		r = r.Superclass()
	}
	for l != r {
		l = l.Superclass()
		r = r.Superclass()
		if l == nil || r == nil {
			return nil
		}
	}
	return l
}

// FromUnresolvedMerge merges two reference types where at least one side
// is unresolved, interning the result.
func (c *Cache) FromUnresolvedMerge(left, right *Type) *Type {
	return c.mergeReferences(left, right)
}
