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

// Package regtype implements the register-type lattice: the closed kind
// enum, its predicates, and the compile-time assignability/merge tables.
package regtype

// Kind is the closed, densely packed discriminant of a register type. The
// integer-constant group is laid out in range order; the constant merge in
// mergeNarrowConstants (tables.go) works from explicit value ranges, not
// from these numeric values.
type Kind uint8

const (
	Undefined Kind = iota
	Conflict

	Boolean
	Byte
	Short
	Char
	Integer
	Float

	LongLo
	LongHi
	DoubleLo
	DoubleHi

	// Non-negative constant group, increasing range.
	Zero
	BooleanConstant
	PositiveByteConstant
	PositiveShortConstant
	CharConstant

	// Can-be-negative constant group, increasing range.
	ByteConstant
	ShortConstant
	IntegerConstant

	ConstantLo
	ConstantHi

	Null
	JavaLangObject
	Reference
	UnresolvedReference
	UninitializedReference
	UninitializedThisReference
	UnresolvedUninitializedReference
	UnresolvedUninitializedThisReference
	UnresolvedMergedReference

	numKinds
)

// NumKinds is the size of the closed kind set.
const NumKinds = int(numKinds)

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "InvalidKind"
}

var kindNames = [numKinds]string{
	Undefined:                            "Undefined",
	Conflict:                             "Conflict",
	Boolean:                              "Boolean",
	Byte:                                 "Byte",
	Short:                                "Short",
	Char:                                 "Char",
	Integer:                              "Integer",
	Float:                                "Float",
	LongLo:                               "LongLo",
	LongHi:                               "LongHi",
	DoubleLo:                             "DoubleLo",
	DoubleHi:                             "DoubleHi",
	Zero:                                 "Zero",
	BooleanConstant:                      "BooleanConstant",
	PositiveByteConstant:                 "PositiveByteConstant",
	PositiveShortConstant:                "PositiveShortConstant",
	CharConstant:                         "CharConstant",
	ByteConstant:                         "ByteConstant",
	ShortConstant:                        "ShortConstant",
	IntegerConstant:                      "IntegerConstant",
	ConstantLo:                           "ConstantLo",
	ConstantHi:                           "ConstantHi",
	Null:                                 "Null",
	JavaLangObject:                       "JavaLangObject",
	Reference:                            "Reference",
	UnresolvedReference:                  "UnresolvedReference",
	UninitializedReference:               "UninitializedReference",
	UninitializedThisReference:           "UninitializedThisReference",
	UnresolvedUninitializedReference:     "UnresolvedUninitializedReference",
	UnresolvedUninitializedThisReference: "UnresolvedUninitializedThisReference",
	UnresolvedMergedReference:            "UnresolvedMergedReference",
}

// HighHalf returns the high half of a low-half wide kind. Panics for any
// kind that is not LongLo, DoubleLo or ConstantLo.
func HighHalf(k Kind) Kind {
	switch k {
	case LongLo:
		return LongHi
	case DoubleLo:
		return DoubleHi
	case ConstantLo:
		return ConstantHi
	default:
		panic("regtype: HighHalf of a non low-half kind")
	}
}

// CheckWidePair reports whether hi is exactly the high half of lo.
func CheckWidePair(lo, hi Kind) bool {
	switch lo {
	case LongLo, DoubleLo, ConstantLo:
		return hi == HighHalf(lo)
	default:
		return false
	}
}
