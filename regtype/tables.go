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

package regtype

// Assignability is the compile-time-tabulated outcome of checking whether a
// value of kind rhs may flow into a slot that requires kind lhs.
type Assignability uint8

const (
	NotAssignable Assignability = iota
	AssignableKind
	NarrowingConversionKind
	DeferToReference
	InvalidAssignability
)

func (a Assignability) String() string {
	switch a {
	case NotAssignable:
		return "NotAssignable"
	case AssignableKind:
		return "Assignable"
	case NarrowingConversionKind:
		return "NarrowingConversion"
	case DeferToReference:
		return "Reference"
	case InvalidAssignability:
		return "Invalid"
	default:
		return "InvalidAssignability"
	}
}

var assignabilityTable [numKinds][numKinds]Assignability
var kindMergeTable [numKinds][numKinds]Kind

func init() {
	for l := Kind(0); l < numKinds; l++ {
		for r := Kind(0); r < numKinds; r++ {
			assignabilityTable[l][r] = computeAssignability(l, r)
			kindMergeTable[l][r] = computeKindMerge(l, r)
		}
	}
}

// AssignabilityOf answers the kind-level assignability question, including
// the "lhs == rhs" reflexivity shortcut for every kind except void,
// uninitialized and merged-unresolved, which stay Invalid even when
// compared with themselves.
//
// This is a kind-level abstraction: Reference, UnresolvedReference and the
// uninitialized-but-not-invalid... kinds can each represent many distinct
// underlying classes, so a caller holding two actual RegType values must
// first compare real identity (cache-id equality) before falling back to
// this table — see regtypecache's assignability entry point.
func AssignabilityOf(lhs, rhs Kind) Assignability {
	if lhs == rhs {
		switch lhs {
		case Conflict, UninitializedReference, UninitializedThisReference,
			UnresolvedUninitializedReference, UnresolvedUninitializedThisReference,
			UnresolvedMergedReference:
			// falls through: these stay Invalid even reflexively.
		default:
			return AssignableKind
		}
	}
	return assignabilityTable[lhs][rhs]
}

func computeAssignability(lhs, rhs Kind) Assignability {
	switch lhs {
	case Boolean:
		if IsBooleanTypes(rhs) {
			return AssignableKind
		}
		if IsIntegralTypes(rhs) {
			return NarrowingConversionKind
		}
		return NotAssignable
	case Byte:
		if IsByteTypes(rhs) {
			return AssignableKind
		}
		if IsIntegralTypes(rhs) {
			return NarrowingConversionKind
		}
		return NotAssignable
	case Short:
		if IsShortTypes(rhs) {
			return AssignableKind
		}
		if IsIntegralTypes(rhs) {
			return NarrowingConversionKind
		}
		return NotAssignable
	case Char:
		if IsCharTypes(rhs) {
			return AssignableKind
		}
		if IsIntegralTypes(rhs) {
			return NarrowingConversionKind
		}
		return NotAssignable
	case Integer:
		if IsIntegralTypes(rhs) {
			return AssignableKind
		}
		return NotAssignable
	case Float:
		if IsFloatTypes(rhs) {
			return AssignableKind
		}
		return NotAssignable
	case LongLo:
		if IsLongTypes(rhs) {
			return AssignableKind
		}
		return NotAssignable
	case DoubleLo:
		if IsDoubleTypes(rhs) {
			return AssignableKind
		}
		return NotAssignable
	case Conflict:
		return InvalidAssignability
	}

	if IsUninitializedTypes(lhs) || lhs == UnresolvedMergedReference {
		return InvalidAssignability
	}

	if IsNonZeroReferenceTypes(lhs) {
		switch {
		case IsZeroOrNull(rhs):
			return AssignableKind
		case !IsReferenceTypes(rhs):
			return NotAssignable
		case IsUninitializedTypes(rhs):
			return NotAssignable
		case lhs == JavaLangObject:
			return AssignableKind
		default:
			return DeferToReference
		}
	}

	return InvalidAssignability
}

// MergeKinds is the kind-level least upper bound. An
// UnresolvedMergedReference result is a marker telling the caller to
// continue with reference-level merging; it is not necessarily the final
// kind. Equal kinds merge to themselves, except the reference and
// uninitialized kinds: each stands for many distinct types, so an equal
// pair of them goes through the table like any other pair.
func MergeKinds(l, r Kind) Kind {
	if l == r {
		switch l {
		case Reference, UnresolvedReference, UnresolvedMergedReference,
			UninitializedReference, UninitializedThisReference,
			UnresolvedUninitializedReference, UnresolvedUninitializedThisReference:
		default:
			return l
		}
	}
	return kindMergeTable[l][r]
}

func computeKindMerge(l, r Kind) Kind {
	if l == Undefined || r == Undefined {
		return Undefined
	}
	if l == Conflict || r == Conflict {
		return Conflict
	}

	switch {
	case IsConstantTypes(l) && IsConstantTypes(r):
		switch {
		case l == ConstantLo && r == ConstantLo:
			return ConstantLo
		case l == ConstantHi && r == ConstantHi:
			return ConstantHi
		case IsConstant(l) && IsConstant(r):
			return mergeNarrowConstants(l, r)
		default:
			return Conflict
		}
	case IsFloatTypes(l) && IsFloatTypes(r):
		if l == Float || r == Float {
			return Float
		}
		return mergeNarrowConstants(l, r) // both constants, unreachable via above branch but safe
	case IsLongTypes(l) && IsLongTypes(r):
		if l == LongLo || r == LongLo {
			return LongLo
		}
		return ConstantLo
	case IsLongHighTypes(l) && IsLongHighTypes(r):
		if l == LongHi || r == LongHi {
			return LongHi
		}
		return ConstantHi
	case IsDoubleTypes(l) && IsDoubleTypes(r):
		if l == DoubleLo || r == DoubleLo {
			return DoubleLo
		}
		return ConstantLo
	case IsDoubleHighTypes(l) && IsDoubleHighTypes(r):
		if l == DoubleHi || r == DoubleHi {
			return DoubleHi
		}
		return ConstantHi
	case IsIntegralTypes(l) && IsIntegralTypes(r):
		return mergeIntegralFamily(l, r)
	case IsReferenceTypes(l) && IsReferenceTypes(r):
		if IsUninitializedTypes(l) || IsUninitializedTypes(r) {
			return Conflict
		}
		if l == JavaLangObject || r == JavaLangObject {
			return JavaLangObject
		}
		return UnresolvedMergedReference
	default:
		return Conflict
	}
}

type intRange struct{ lo, hi int64 }

func narrowConstantRange(k Kind) intRange {
	switch k {
	case Zero:
		return intRange{0, 0}
	case BooleanConstant:
		return intRange{0, 1}
	case PositiveByteConstant:
		return intRange{0, 127}
	case PositiveShortConstant:
		return intRange{0, 32767}
	case CharConstant:
		return intRange{0, 65535}
	case ByteConstant:
		return intRange{-128, 127}
	case ShortConstant:
		return intRange{-32768, 32767}
	case IntegerConstant:
		return intRange{-2147483648, 2147483647}
	default:
		panic("regtype: narrowConstantRange of a non-narrow-constant kind")
	}
}

// mergeNarrowConstants picks the smallest narrow-constant kind whose range
// is a superset of the union of l's and r's ranges, preferring the
// non-negative chain (Zero < BooleanConstant < PositiveByteConstant <
// PositiveShortConstant < CharConstant) when the union never goes negative,
// and the can-be-negative chain (ByteConstant < ShortConstant <
// IntegerConstant) otherwise (e.g. ByteConstant ∨ PositiveByteConstant =
// ByteConstant,
// ByteConstant ∨ PositiveShortConstant = ShortConstant, any can-be-negative
// ∨ CharConstant = IntegerConstant).
func mergeNarrowConstants(l, r Kind) Kind {
	lr, rr := narrowConstantRange(l), narrowConstantRange(r)
	lo := min64(lr.lo, rr.lo)
	hi := max64(lr.hi, rr.hi)

	if lo >= 0 {
		nonneg := []Kind{Zero, BooleanConstant, PositiveByteConstant, PositiveShortConstant, CharConstant}
		for _, k := range nonneg {
			kr := narrowConstantRange(k)
			if hi <= kr.hi {
				return k
			}
		}
	}
	negChain := []Kind{ByteConstant, ShortConstant, IntegerConstant}
	for _, k := range negChain {
		kr := narrowConstantRange(k)
		if lo >= kr.lo && hi <= kr.hi {
			return k
		}
	}
	return IntegerConstant
}

func primitiveIntegralRange(k Kind) intRange {
	switch k {
	case Boolean:
		return intRange{0, 1}
	case Byte:
		return intRange{-128, 127}
	case Short:
		return intRange{-32768, 32767}
	case Char:
		return intRange{0, 65535}
	case Integer:
		return intRange{-2147483648, 2147483647}
	default:
		return narrowConstantRange(k)
	}
}

// mergeIntegralFamily implements "both integral-types: pick the narrowest
// integral family that contains both (Boolean, Byte, Short, Char, Integer)".
func mergeIntegralFamily(l, r Kind) Kind {
	lr, rr := primitiveIntegralRange(l), primitiveIntegralRange(r)
	lo := min64(lr.lo, rr.lo)
	hi := max64(lr.hi, rr.hi)

	if lo >= 0 {
		if hi <= 1 {
			return Boolean
		}
		if hi <= 127 {
			return Byte
		}
		if hi <= 32767 {
			return Short
		}
		if hi <= 65535 {
			return Char
		}
		return Integer
	}
	if hi <= 127 && lo >= -128 {
		return Byte
	}
	if hi <= 32767 && lo >= -32768 {
		return Short
	}
	return Integer
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
