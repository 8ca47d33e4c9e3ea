package regtype

import "testing"

func TestMergeCommutative(t *testing.T) {
	for l := Kind(0); l < numKinds; l++ {
		for r := Kind(0); r < numKinds; r++ {
			if got, want := MergeKinds(l, r), MergeKinds(r, l); got != want {
				t.Fatalf("merge(%v,%v)=%v but merge(%v,%v)=%v: not commutative", l, r, got, r, l, want)
			}
		}
	}
}

func TestMergeConflictAbsorbs(t *testing.T) {
	for k := Kind(0); k < numKinds; k++ {
		if k == Undefined {
			continue // Undefined takes precedence over Conflict; see below
		}
		if got := MergeKinds(k, Conflict); got != Conflict {
			t.Fatalf("merge(%v, Conflict) = %v, want Conflict", k, got)
		}
	}
}

func TestMergeUndefinedAbsorbs(t *testing.T) {
	for k := Kind(0); k < numKinds; k++ {
		if got := MergeKinds(k, Undefined); got != Undefined {
			t.Fatalf("merge(%v, Undefined) = %v, want Undefined", k, got)
		}
	}
}

func TestMergeUndefinedBeatsConflict(t *testing.T) {
	if got := MergeKinds(Undefined, Conflict); got != Undefined {
		t.Fatalf("merge(Undefined, Conflict) = %v, want Undefined (Undefined takes precedence)", got)
	}
}

func TestMergeConstantExamples(t *testing.T) {
	cases := []struct {
		l, r, want Kind
	}{
		{ByteConstant, PositiveByteConstant, ByteConstant},
		{ByteConstant, PositiveShortConstant, ShortConstant},
		{ByteConstant, CharConstant, IntegerConstant},
		{ShortConstant, CharConstant, IntegerConstant},
		{IntegerConstant, CharConstant, IntegerConstant},
		{Zero, BooleanConstant, BooleanConstant},
		{PositiveByteConstant, PositiveShortConstant, PositiveShortConstant},
	}
	for _, c := range cases {
		if got := MergeKinds(c.l, c.r); got != c.want {
			t.Errorf("merge(%v,%v) = %v, want %v", c.l, c.r, got, c.want)
		}
	}
}

func TestAssignabilityReflexive(t *testing.T) {
	// Reflexive on kinds, modulo the Invalid cells for
	// void/uninitialized/merged-unresolved, which never self-assign.
	exempt := map[Kind]bool{
		Conflict: true, UninitializedReference: true, UninitializedThisReference: true,
		UnresolvedUninitializedReference: true, UnresolvedUninitializedThisReference: true,
		UnresolvedMergedReference: true,
	}
	for k := Kind(0); k < numKinds; k++ {
		got := AssignabilityOf(k, k)
		if exempt[k] {
			if got != InvalidAssignability {
				t.Fatalf("AssignabilityOf(%v,%v) = %v, want Invalid (exempt from reflexivity)", k, k, got)
			}
			continue
		}
		if got != AssignableKind {
			t.Fatalf("AssignabilityOf(%v,%v) = %v, want Assignable (reflexivity)", k, k, got)
		}
	}
}

func TestAssignabilityTransitiveUpToReference(t *testing.T) {
	for a := Kind(0); a < numKinds; a++ {
		for b := Kind(0); b < numKinds; b++ {
			if AssignabilityOf(a, b) != AssignableKind {
				continue
			}
			for c := Kind(0); c < numKinds; c++ {
				if AssignabilityOf(b, c) != AssignableKind {
					continue
				}
				got := AssignabilityOf(a, c)
				if got != AssignableKind && got != DeferToReference {
					t.Fatalf("transitivity violated: a=%v b=%v c=%v assignability(a,c)=%v", a, b, c, got)
				}
			}
		}
	}
}

func TestReferenceKindIsReflexivelyAssignable(t *testing.T) {
	// The kind table cannot tell classes apart, so Reference from Reference
	// is Assignable here; regtypecache.Cache.Assignable sends two distinct
	// types of the same reference kind to the class-level check instead.
	if got := AssignabilityOf(Reference, Reference); got != AssignableKind {
		t.Fatalf("identical Reference kinds must be assignable at the kind level without deferring")
	}
}

func TestUninitializedNeverAssignableDestination(t *testing.T) {
	uninit := []Kind{UninitializedReference, UninitializedThisReference,
		UnresolvedUninitializedReference, UnresolvedUninitializedThisReference}
	for _, lhs := range uninit {
		for rhs := Kind(0); rhs < numKinds; rhs++ {
			if lhs == rhs {
				continue // reflexivity shortcut still applies at the caller level
			}
			if got := assignabilityTable[lhs][rhs]; got != InvalidAssignability {
				t.Fatalf("uninitialized lhs=%v rhs=%v: got %v, want Invalid", lhs, rhs, got)
			}
		}
	}
}
