package registerline

import (
	"testing"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/regtype"
	"github.com/dexguard/go-dexguard/regtypecache"
)

func newTestCache(t *testing.T) *regtypecache.Cache {
	t.Helper()
	c, err := regtypecache.New(classresolver.NewMemoryResolver(), 4)
	if err != nil {
		t.Fatalf("regtypecache.New: %v", err)
	}
	return c
}

func TestNewLineAllUndefined(t *testing.T) {
	c := newTestCache(t)
	l := New(c, 4)
	for v := 0; v < 4; v++ {
		if got := l.GetRegisterType(v).Kind(); got != regtype.Undefined {
			t.Fatalf("v%d = %v, want Undefined", v, got)
		}
	}
}

func TestSetRegisterTypeClearsLocksByDefault(t *testing.T) {
	c := newTestCache(t)
	l := New(c, 2)
	obj := c.GetFromRegKind(regtype.JavaLangObject)
	if err := l.PushMonitor(0, obj, 10); err != nil {
		t.Fatalf("PushMonitor: %v", err)
	}
	l.SetRegisterType(0, c.GetFromRegKind(regtype.Integer), ClearLocks)
	if err := l.PopMonitor(0, l.GetRegisterType(0)); err == nil {
		t.Fatalf("expected PopMonitor to fail: lock bits should have been cleared")
	}
}

func TestMonitorPushPopRoundTrip(t *testing.T) {
	c := newTestCache(t)
	l := New(c, 1)
	obj := c.GetFromRegKind(regtype.JavaLangObject)
	if err := l.PushMonitor(0, obj, 5); err != nil {
		t.Fatalf("PushMonitor: %v", err)
	}
	if err := l.PopMonitor(0, obj); err != nil {
		t.Fatalf("PopMonitor: %v", err)
	}
	if err := l.VerifyMonitorStackEmpty(); err != nil {
		t.Fatalf("VerifyMonitorStackEmpty: %v", err)
	}
}

func TestMonitorNullAliasing(t *testing.T) {
	c := newTestCache(t)
	l := New(c, 2)
	zero := c.GetFromRegKind(regtype.Zero)
	l.SetRegisterType(0, zero, ClearLocks)
	if err := l.PushMonitor(0, zero, 1); err != nil {
		t.Fatalf("PushMonitor: %v", err)
	}
	// A different vreg, also holding Zero, should be able to pop the same
	// null-aliased lock.
	l.SetRegisterType(1, zero, ClearLocks)
	if err := l.PopMonitor(1, zero); err != nil {
		t.Fatalf("PopMonitor via null alias should succeed: %v", err)
	}
}

func TestMonitorStackOverflow(t *testing.T) {
	c := newTestCache(t)
	l := New(c, 1)
	obj := c.GetFromRegKind(regtype.JavaLangObject)
	for i := 0; i < maxMonitorDepth; i++ {
		l.monitors = append(l.monitors, uint32(i))
	}
	if err := l.PushMonitor(0, obj, 99); err == nil {
		t.Fatalf("expected LOCKING failure once the monitor stack hits %d", maxMonitorDepth)
	}
}

func TestMarkRefsAsInitialized(t *testing.T) {
	r := classresolver.NewMemoryResolver()
	if _, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	c, err := regtypecache.New(r, 0)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := r.FindClass("LFoo;")
	resolved, err := c.FromClass(h)
	if err != nil {
		t.Fatal(err)
	}
	uninit := c.Uninitialized(resolved)

	l := New(c, 2)
	l.SetRegisterTypeForNewInstance(0, uninit, 4)
	l.SetRegisterTypeForNewInstance(1, uninit, 8) // distinct allocation site

	l.MarkRefsAsInitialized(0)
	if got := l.GetRegisterType(0).Kind(); got != regtype.Reference {
		t.Fatalf("v0 = %v, want Reference (initialized)", got)
	}
	if got := l.GetRegisterType(1).Kind(); got != regtype.UninitializedReference {
		t.Fatalf("v1 should remain uninitialized (different allocation site), got %v", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	c := newTestCache(t)
	a := New(c, 2)
	a.SetRegisterType(0, c.GetFromRegKind(regtype.Integer), ClearLocks)
	b := a.Copy()
	changed, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if changed {
		t.Fatalf("merging a line with an identical copy of itself should report no change")
	}
}

func TestMergeAllocationMismatchDowngradesToConflict(t *testing.T) {
	r := classresolver.NewMemoryResolver()
	if _, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	c, err := regtypecache.New(r, 0)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := r.FindClass("LFoo;")
	resolved, _ := c.FromClass(h)
	uninit := c.Uninitialized(resolved)

	a := New(c, 1)
	a.SetRegisterTypeForNewInstance(0, uninit, 10)
	b := New(c, 1)
	b.SetRegisterTypeForNewInstance(0, uninit, 20)

	changed, err := a.Merge(b)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !changed {
		t.Fatalf("expected a change: allocation-dex-pc mismatch should downgrade to Conflict")
	}
	if got := a.GetRegisterType(0).Kind(); got != regtype.Conflict {
		t.Fatalf("v0 = %v, want Conflict", got)
	}
}
