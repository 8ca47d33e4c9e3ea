package classresolver

import "testing"

func TestMemoryResolverHierarchy(t *testing.T) {
	r := NewMemoryResolver()
	if _, err := r.RegisterClass("Ljava/lang/Throwable;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatalf("RegisterClass Throwable: %v", err)
	}
	foo, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 4)
	if err != nil {
		t.Fatalf("RegisterClass Foo: %v", err)
	}
	bar, err := r.RegisterClass("LBar;", false, false, false, "LFoo;", nil, 5)
	if err != nil {
		t.Fatalf("RegisterClass Bar: %v", err)
	}
	if !foo.IsAssignableFrom(bar) {
		t.Fatalf("Foo should be assignable from its subclass Bar")
	}
	if bar.IsAssignableFrom(foo) {
		t.Fatalf("Bar should not be assignable from its superclass Foo")
	}
	if bar.DepthInHierarchy() != 2 {
		t.Fatalf("Bar depth = %d, want 2 (Object -> Foo -> Bar)", bar.DepthInHierarchy())
	}
}

func TestMemoryResolverArrayClass(t *testing.T) {
	r := NewMemoryResolver()
	foo, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 0)
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	arr, err := r.FindArrayClass(foo)
	if err != nil {
		t.Fatalf("FindArrayClass: %v", err)
	}
	if !arr.IsArray() {
		t.Fatalf("array class should report IsArray")
	}
	if arr.Component().Descriptor() != "LFoo;" {
		t.Fatalf("array component = %s, want LFoo;", arr.Component().Descriptor())
	}
	arr2, err := r.FindArrayClass(foo)
	if err != nil {
		t.Fatalf("FindArrayClass (repeat): %v", err)
	}
	if arr != arr2 {
		t.Fatalf("repeated FindArrayClass should return the same interned Handle")
	}
}

func TestMemoryResolverInterfaceAssignability(t *testing.T) {
	r := NewMemoryResolver()
	iface, err := r.RegisterClass("LRunnable;", true, false, true, "", nil, 0)
	if err != nil {
		t.Fatalf("RegisterClass iface: %v", err)
	}
	impl, err := r.RegisterClass("LTask;", false, false, false, "Ljava/lang/Object;", []string{"LRunnable;"}, 0)
	if err != nil {
		t.Fatalf("RegisterClass impl: %v", err)
	}
	if !iface.IsAssignableFrom(impl) {
		t.Fatalf("interface should be assignable from an implementing class")
	}
}

func TestDumpPackagePrefix(t *testing.T) {
	r := NewMemoryResolver()
	if _, err := r.RegisterClass("Lcom/app/Foo;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RegisterClass("Lcom/app/Bar;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := r.RegisterClass("Lcom/other/Baz;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	got := r.DumpPackage("Lcom/app/")
	if len(got) != 2 {
		t.Fatalf("DumpPackage(Lcom/app/) = %v, want 2 entries", got)
	}
}

func TestResolveTypeBinding(t *testing.T) {
	r := NewMemoryResolver()
	if _, err := r.RegisterClass("LFoo;", false, false, false, "Ljava/lang/Object;", nil, 0); err != nil {
		t.Fatal(err)
	}
	if err := r.BindTypeIndex(7, "LFoo;"); err != nil {
		t.Fatalf("BindTypeIndex: %v", err)
	}
	h, err := r.ResolveType(7)
	if err != nil {
		t.Fatalf("ResolveType: %v", err)
	}
	if h.Descriptor() != "LFoo;" {
		t.Fatalf("ResolveType(7) = %s, want LFoo;", h.Descriptor())
	}
	if _, err := r.ResolveType(99); err != ErrNotFound {
		t.Fatalf("ResolveType(99) err = %v, want ErrNotFound", err)
	}
}
