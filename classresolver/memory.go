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

package classresolver

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// handle is the reference Handle implementation. A class is either a
// primitive, an array (with a Component), or a declared class with a
// superclass/interface set.
type handle struct {
	descriptor  string
	isInterface bool
	isFinal     bool
	isAbstract  bool
	isPrimitive bool
	component   *handle
	super       *handle
	ifaces      []*handle
	depth       int
	vtableLen   int
}

func (h *handle) Descriptor() string { return h.descriptor }
func (h *handle) IsInterface() bool  { return h.isInterface }
func (h *handle) IsFinal() bool      { return h.isFinal }
func (h *handle) IsAbstract() bool   { return h.isAbstract }
func (h *handle) IsArray() bool      { return h.component != nil }
func (h *handle) IsPrimitive() bool  { return h.isPrimitive }
func (h *handle) Component() Handle {
	if h.component == nil {
		return nil
	}
	return h.component
}
func (h *handle) IsObjectClass() bool { return h.descriptor == "Ljava/lang/Object;" }
func (h *handle) Superclass() Handle {
	if h.super == nil {
		return nil
	}
	return h.super
}
func (h *handle) DepthInHierarchy() int { return h.depth }
func (h *handle) ImplementedInterfaces() []Handle {
	out := make([]Handle, len(h.ifaces))
	for i, f := range h.ifaces {
		out[i] = f
	}
	return out
}
func (h *handle) VtableLength() int { return h.vtableLen }

// IsAssignableFrom reports whether a value of type other may be stored in a
// slot of type h, i.e. h is other or a supertype/superinterface of other.
func (h *handle) IsAssignableFrom(other Handle) bool {
	o, ok := other.(*handle)
	if !ok || o == nil {
		return false
	}
	if h == o {
		return true
	}
	if h.IsArray() && o.IsArray() {
		return h.Component().(*handle).IsAssignableFrom(o.Component())
	}
	if h.IsArray() != o.IsArray() {
		return h.IsObjectClass()
	}
	if h.isInterface {
		return o.implementsInterface(h)
	}
	for c := o.super; c != nil; c = c.super {
		if c == h {
			return true
		}
	}
	return false
}

func (h *handle) implementsInterface(iface *handle) bool {
	for c := h; c != nil; c = c.super {
		for _, f := range c.ifaces {
			if f == iface || f.implementsInterface(iface) {
				return true
			}
		}
	}
	return false
}

type fieldHandle struct {
	declaring *handle
	flags     AccessFlags
	descriptor string
	name      string
}

func (f *fieldHandle) DeclaringClass() Handle  { return f.declaring }
func (f *fieldHandle) AccessFlags() AccessFlags { return f.flags }
func (f *fieldHandle) Descriptor() string      { return f.descriptor }
func (f *fieldHandle) Name() string            { return f.name }
func (f *fieldHandle) IsStatic() bool          { return f.flags.Has(AccStatic) }
func (f *fieldHandle) IsFinal() bool           { return f.flags.Has(AccFinal) }

type methodHandle struct {
	declaring  *handle
	flags      AccessFlags
	name       string
	params     []string
	ret        string
	kind       InvokeKind
	isCtor     bool
}

func (m *methodHandle) DeclaringClass() Handle  { return m.declaring }
func (m *methodHandle) AccessFlags() AccessFlags { return m.flags }
func (m *methodHandle) Signature() string {
	s := "("
	for _, p := range m.params {
		s += p
	}
	return s + ")" + m.ret
}
func (m *methodHandle) Name() string                    { return m.name }
func (m *methodHandle) IsStatic() bool                  { return m.flags.Has(AccStatic) }
func (m *methodHandle) IsConstructor() bool             { return m.isCtor }
func (m *methodHandle) IsFinal() bool                   { return m.flags.Has(AccFinal) }
func (m *methodHandle) IsPrivate() bool                 { return m.flags.Has(AccPrivate) }
func (m *methodHandle) IsPublic() bool                  { return m.flags.Has(AccPublic) }
func (m *methodHandle) InvokeKind() InvokeKind          { return m.kind }
func (m *methodHandle) ParameterDescriptors() []string  { return m.params }
func (m *methodHandle) ReturnDescriptor() string        { return m.ret }

// MemoryResolver is the in-memory reference Resolver used by tests and the
// CLI. Classes, fields and methods are registered ahead of time via
// Register*; ResolveType/ResolveField/ResolveMethod then look them up by the
// dex type/field/method index the caller assigns them, backed by an LRU
// cache over descriptor->Handle.
type MemoryResolver struct {
	mu          sync.RWMutex
	descriptors *descriptorTrie
	byDescriptor *lru.ARCCache // string -> *handle
	types       map[uint32]*handle
	fields      map[uint32]*fieldHandle
	methods     map[uint32]*methodHandle
}

// NewMemoryResolver constructs an empty resolver with java.lang.Object
// pre-registered, the one class every verifier run needs to exist.
func NewMemoryResolver() *MemoryResolver {
	cache, err := lru.NewARC(4096)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	r := &MemoryResolver{
		descriptors:  newDescriptorTrie(),
		byDescriptor: cache,
		types:        map[uint32]*handle{},
		fields:       map[uint32]*fieldHandle{},
		methods:      map[uint32]*methodHandle{},
	}
	r.registerClass("Ljava/lang/Object;", false, false, false, nil, nil, 0)
	return r
}

func (r *MemoryResolver) registerClass(descriptor string, isInterface, isFinal, isAbstract bool, super *handle, ifaces []*handle, vtableLen int) *handle {
	depth := 0
	if super != nil {
		depth = super.depth + 1
	}
	h := &handle{
		descriptor:  descriptor,
		isInterface: isInterface,
		isFinal:     isFinal,
		isAbstract:  isAbstract,
		super:       super,
		ifaces:      ifaces,
		depth:       depth,
		vtableLen:   vtableLen,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors.insert(descriptor)
	r.byDescriptor.Add(descriptor, h)
	return h
}

// RegisterClass registers a named, non-array, non-primitive class and
// returns its Handle. superDescriptor and ifaceDescriptors must already be
// registered (or empty/nil for superDescriptor at java.lang.Object).
func (r *MemoryResolver) RegisterClass(descriptor string, isInterface, isFinal, isAbstract bool, superDescriptor string, ifaceDescriptors []string, vtableLen int) (Handle, error) {
	var super *handle
	if superDescriptor != "" {
		h, err := r.findHandle(superDescriptor)
		if err != nil {
			return nil, err
		}
		super = h
	}
	ifaces := make([]*handle, 0, len(ifaceDescriptors))
	for _, d := range ifaceDescriptors {
		h, err := r.findHandle(d)
		if err != nil {
			return nil, err
		}
		ifaces = append(ifaces, h)
	}
	return r.registerClass(descriptor, isInterface, isFinal, isAbstract, super, ifaces, vtableLen), nil
}

// BindTypeIndex associates a dex type-index with an already-registered
// descriptor, the wiring ResolveType needs.
func (r *MemoryResolver) BindTypeIndex(typeIndex uint32, descriptor string) error {
	h, err := r.findHandle(descriptor)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.types[typeIndex] = h
	r.mu.Unlock()
	return nil
}

func (r *MemoryResolver) findHandle(descriptor string) (*handle, error) {
	r.mu.RLock()
	v, ok := r.byDescriptor.Get(descriptor)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("classresolver: %w: %s", ErrNotFound, descriptor)
	}
	return v.(*handle), nil
}

func (r *MemoryResolver) ResolveType(typeIndex uint32) (Handle, error) {
	r.mu.RLock()
	h, ok := r.types[typeIndex]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (r *MemoryResolver) FindClass(descriptor string) (Handle, error) {
	if prim := primitiveHandle(descriptor); prim != nil {
		return prim, nil
	}
	if len(descriptor) > 0 && descriptor[0] == '[' {
		comp, err := r.FindClass(descriptor[1:])
		if err != nil {
			return nil, err
		}
		return r.FindArrayClass(comp)
	}
	h, err := r.findHandle(descriptor)
	if err != nil {
		return nil, ErrNotFound
	}
	return h, nil
}

func (r *MemoryResolver) FindArrayClass(component Handle) (Handle, error) {
	c, ok := component.(*handle)
	if !ok {
		return nil, fmt.Errorf("classresolver: FindArrayClass: %w", ErrNotFound)
	}
	descriptor := "[" + c.descriptor
	if h, err := r.findHandle(descriptor); err == nil {
		return h, nil
	}
	obj, err := r.findHandle("Ljava/lang/Object;")
	if err != nil {
		return nil, err
	}
	return r.registerClass(descriptor, false, true, false, obj, nil, 0).withComponent(c), nil
}

func (h *handle) withComponent(c *handle) *handle {
	h.component = c
	return h
}

func (r *MemoryResolver) ResolveField(fieldIndex uint32) (FieldHandle, error) {
	r.mu.RLock()
	f, ok := r.fields[fieldIndex]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

// RegisterField registers a field under fieldIndex for later resolution.
func (r *MemoryResolver) RegisterField(fieldIndex uint32, declaringDescriptor string, flags AccessFlags, descriptor, name string) error {
	declaring, err := r.findHandle(declaringDescriptor)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.fields[fieldIndex] = &fieldHandle{declaring: declaring, flags: flags, descriptor: descriptor, name: name}
	r.mu.Unlock()
	return nil
}

func (r *MemoryResolver) ResolveMethod(methodIndex uint32, kind InvokeKind) (MethodHandle, error) {
	r.mu.RLock()
	m, ok := r.methods[methodIndex]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// RegisterMethod registers a method under methodIndex for later resolution.
func (r *MemoryResolver) RegisterMethod(methodIndex uint32, declaringDescriptor string, flags AccessFlags, name string, params []string, ret string, kind InvokeKind) error {
	declaring, err := r.findHandle(declaringDescriptor)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.methods[methodIndex] = &methodHandle{
		declaring: declaring, flags: flags, name: name, params: params, ret: ret, kind: kind,
		isCtor: name == "<init>",
	}
	r.mu.Unlock()
	return nil
}

var primitiveHandles = map[string]*handle{
	"V": {descriptor: "V", isPrimitive: true},
	"Z": {descriptor: "Z", isPrimitive: true},
	"B": {descriptor: "B", isPrimitive: true},
	"S": {descriptor: "S", isPrimitive: true},
	"C": {descriptor: "C", isPrimitive: true},
	"I": {descriptor: "I", isPrimitive: true},
	"J": {descriptor: "J", isPrimitive: true},
	"F": {descriptor: "F", isPrimitive: true},
	"D": {descriptor: "D", isPrimitive: true},
}

func primitiveHandle(descriptor string) *handle {
	return primitiveHandles[descriptor]
}
