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

import mapset "github.com/deckarep/golang-set"

// The kind-family predicates. Each is a small boolean table over
// the closed kind set, built once at package init instead of re-derived on
// every call. Families that are unions of other families (integral and
// float both absorb the narrow constants) are derived by set union rather
// than restated by hand.

var (
	booleanTypes  [numKinds]bool
	byteTypes     [numKinds]bool
	shortTypes    [numKinds]bool
	charTypes     [numKinds]bool
	floatTypes    [numKinds]bool
	longTypes     [numKinds]bool
	longHighTypes [numKinds]bool
	doubleTypes   [numKinds]bool
	doubleHighTypes [numKinds]bool

	integralTypes   [numKinds]bool
	referenceTypes  [numKinds]bool
	nonZeroRefTypes [numKinds]bool
	uninitTypes     [numKinds]bool
	unresolvedTypes [numKinds]bool
	constantTypes   [numKinds]bool
	constantNarrow  [numKinds]bool
	category1Types  [numKinds]bool
	category2Types  [numKinds]bool
	zeroOrNull      [numKinds]bool
)

func init() {
	set := func(tbl *[numKinds]bool, ks ...Kind) {
		for _, k := range ks {
			tbl[k] = true
		}
	}

	set(&zeroOrNull, Zero, Null)

	set(&booleanTypes, Zero, BooleanConstant, Boolean)
	set(&byteTypes, Zero, BooleanConstant, PositiveByteConstant, ByteConstant, Byte)
	set(&shortTypes, Zero, BooleanConstant, PositiveByteConstant, PositiveShortConstant, ByteConstant, ShortConstant, Short)
	set(&charTypes, Zero, BooleanConstant, PositiveByteConstant, PositiveShortConstant, CharConstant, Char)

	narrowConstants := kindSet(Zero, BooleanConstant, PositiveByteConstant, PositiveShortConstant, CharConstant, ByteConstant, ShortConstant, IntegerConstant)
	materialize(&constantNarrow, narrowConstants)
	materialize(&constantTypes, narrowConstants.Union(kindSet(ConstantLo, ConstantHi)))

	materialize(&integralTypes, narrowConstants.Union(kindSet(Boolean, Byte, Short, Char, Integer)))
	materialize(&floatTypes, narrowConstants.Union(kindSet(Float)))

	set(&longTypes, LongLo, ConstantLo)
	set(&longHighTypes, LongHi, ConstantHi)
	set(&doubleTypes, DoubleLo, ConstantLo)
	set(&doubleHighTypes, DoubleHi, ConstantHi)

	set(&referenceTypes, Zero, Null, JavaLangObject, Reference, UnresolvedReference,
		UninitializedReference, UninitializedThisReference,
		UnresolvedUninitializedReference, UnresolvedUninitializedThisReference,
		UnresolvedMergedReference)
	set(&nonZeroRefTypes, JavaLangObject, Reference, UnresolvedReference,
		UninitializedReference, UninitializedThisReference,
		UnresolvedUninitializedReference, UnresolvedUninitializedThisReference,
		UnresolvedMergedReference)

	set(&uninitTypes, UninitializedReference, UninitializedThisReference,
		UnresolvedUninitializedReference, UnresolvedUninitializedThisReference)
	set(&unresolvedTypes, UnresolvedReference, UnresolvedUninitializedReference,
		UnresolvedUninitializedThisReference, UnresolvedMergedReference)

	set(&category2Types, LongLo, DoubleLo, ConstantLo)
	for k := Kind(0); k < numKinds; k++ {
		switch k {
		case LongLo, LongHi, DoubleLo, DoubleHi, ConstantLo, ConstantHi:
			// wide halves are never category-1
		default:
			category1Types[k] = true
		}
	}
}

func kindSet(ks ...Kind) mapset.Set {
	s := mapset.NewSet()
	for _, k := range ks {
		s.Add(k)
	}
	return s
}

func materialize(tbl *[numKinds]bool, s mapset.Set) {
	for k := range s.Iter() {
		tbl[k.(Kind)] = true
	}
}

func IsBooleanTypes(k Kind) bool     { return booleanTypes[k] }
func IsByteTypes(k Kind) bool        { return byteTypes[k] }
func IsShortTypes(k Kind) bool       { return shortTypes[k] }
func IsCharTypes(k Kind) bool        { return charTypes[k] }
func IsFloatTypes(k Kind) bool       { return floatTypes[k] }
func IsLongTypes(k Kind) bool        { return longTypes[k] }
func IsLongHighTypes(k Kind) bool    { return longHighTypes[k] }
func IsDoubleTypes(k Kind) bool      { return doubleTypes[k] }
func IsDoubleHighTypes(k Kind) bool  { return doubleHighTypes[k] }
func IsIntegralTypes(k Kind) bool    { return integralTypes[k] }
func IsReferenceTypes(k Kind) bool   { return referenceTypes[k] }
func IsNonZeroReferenceTypes(k Kind) bool { return nonZeroRefTypes[k] }
func IsUninitializedTypes(k Kind) bool    { return uninitTypes[k] }
func IsUnresolvedTypes(k Kind) bool       { return unresolvedTypes[k] }
func IsConstantTypes(k Kind) bool         { return constantTypes[k] }
func IsConstant(k Kind) bool              { return constantNarrow[k] }
func IsCategory1Types(k Kind) bool        { return category1Types[k] }
func IsCategory2Types(k Kind) bool        { return category2Types[k] }
func IsZeroOrNull(k Kind) bool            { return zeroOrNull[k] }
