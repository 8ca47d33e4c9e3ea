package regtypecache

import (
	"testing"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/regtype"
)

func newTestResolver(t *testing.T) *classresolver.MemoryResolver {
	t.Helper()
	return classresolver.NewMemoryResolver()
}

func TestFixedKindsPreallocated(t *testing.T) {
	r := newTestResolver(t)
	c, err := New(r, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.GetFromRegKind(regtype.Undefined).CacheID(); got != 0 {
		t.Fatalf("Undefined cache-id = %d, want 0", got)
	}
	if c.GetFromRegKind(regtype.Integer).Kind() != regtype.Integer {
		t.Fatalf("GetFromRegKind(Integer) kind mismatch")
	}
}

func TestFromDescriptorPrimitivesAndVoid(t *testing.T) {
	c, _ := New(newTestResolver(t), 0)
	if got := c.FromDescriptor("I").Kind(); got != regtype.Integer {
		t.Fatalf("FromDescriptor(I) = %v, want Integer", got)
	}
	if got := c.FromDescriptor("V").Kind(); got != regtype.Conflict {
		t.Fatalf("FromDescriptor(V) = %v, want Conflict", got)
	}
	if got := c.FromDescriptor("J").Kind(); got != regtype.LongLo {
		t.Fatalf("FromDescriptor(J) = %v, want LongLo", got)
	}
}

func TestFromDescriptorMalformedIsConflict(t *testing.T) {
	c, _ := New(newTestResolver(t), 0)
	if got := c.FromDescriptor("not-a-descriptor").Kind(); got != regtype.Conflict {
		t.Fatalf("malformed descriptor = %v, want Conflict", got)
	}
}

func TestFromDescriptorUnresolvedInterned(t *testing.T) {
	c, _ := New(newTestResolver(t), 0)
	a := c.FromDescriptor("LUnresolvedA;")
	b := c.FromDescriptor("LUnresolvedA;")
	if a != b {
		t.Fatalf("two lookups of the same unresolved descriptor should intern to the same type")
	}
	if a.Kind() != regtype.UnresolvedReference {
		t.Fatalf("kind = %v, want UnresolvedReference", a.Kind())
	}
}

func TestFromClassResolvedAndCached(t *testing.T) {
	r := newTestResolver(t)
	if _, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	c, _ := New(r, 0)
	h, err := r.FindClass("LFoo;")
	if err != nil {
		t.Fatal(err)
	}
	a, err := c.FromClass(h)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.FromClass(h)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("FromClass should intern identical Handles to the same Type")
	}
	if a.Kind() != regtype.Reference {
		t.Fatalf("kind = %v, want Reference", a.Kind())
	}
}

func TestUninitializedTwinRoundTrips(t *testing.T) {
	r := newTestResolver(t)
	if _, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	c, _ := New(r, 0)
	h, _ := r.FindClass("LFoo;")
	resolved, err := c.FromClass(h)
	if err != nil {
		t.Fatal(err)
	}
	uninit := c.Uninitialized(resolved)
	if uninit.Kind() != regtype.UninitializedReference {
		t.Fatalf("kind = %v, want UninitializedReference", uninit.Kind())
	}
	if c.FromUninitialized(uninit) != resolved {
		t.Fatalf("FromUninitialized should round-trip to the original resolved type")
	}
	if c.Uninitialized(resolved) != uninit {
		t.Fatalf("Uninitialized should be idempotent (same twin on repeat calls)")
	}
}

func TestMergeUnresolvedArraysProduceArrayMergedType(t *testing.T) {
	c, _ := New(newTestResolver(t), 0)
	a := c.FromDescriptor("[LUnresolvedA;")
	b := c.FromDescriptor("[LUnresolvedB;")
	merged := c.Merge(a, b)
	if merged.Kind() != regtype.UnresolvedMergedReference {
		t.Fatalf("kind = %v, want UnresolvedMergedReference", merged.Kind())
	}
	if !merged.IsArrayTypes() {
		t.Fatalf("merged unresolved array type should report IsArrayTypes")
	}
	if !merged.IsObjectArrayTypes() {
		t.Fatalf("merged unresolved array type should report IsObjectArrayTypes")
	}
	if got := merged.UnresolvedMembers().Indexes(); got == nil {
		t.Fatalf("expected a non-nil unresolved member iterator")
	}
}

func TestMergeUnresolvedWithPrimitiveArrayCollapsesToObject(t *testing.T) {
	c, _ := New(newTestResolver(t), 0)
	a := c.FromDescriptor("[LUnresolvedA;")
	intArray := c.FromDescriptor("[I")
	// The test resolver resolves [I to a primitive-array class; merging it
	// with an unresolved reference array mixes primitive and reference
	// arrays, so the result collapses to java.lang.Object rather than a
	// merged-unresolved type.
	merged := c.Merge(a, intArray)
	if merged.Kind() == regtype.UnresolvedMergedReference {
		t.Fatalf("merge of unresolved array with primitive array should not stay merged-unresolved")
	}
}
