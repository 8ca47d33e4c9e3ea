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

// Package classresolver defines the class-loading collaborator the verifier
// consults and ships an in-memory reference implementation
// used by tests and the CLI. Real class loading, GC interaction and dex
// parsing stay out of the core's scope; this package only fixes the shape of
// the interface the core depends on.
package classresolver

import "errors"

// ErrNotFound is returned by Resolver methods when a lookup is well-formed
// but the class/field/method does not exist.
var ErrNotFound = errors.New("classresolver: not found")

// Handle is the reflection surface of a resolved class. The verifier only ever
// reads through a Handle; it never mutates the referenced class.
type Handle interface {
	Descriptor() string
	IsInterface() bool
	IsFinal() bool
	IsAbstract() bool
	IsArray() bool
	IsPrimitive() bool
	// Component returns the array component's Handle; nil if not an array.
	Component() Handle
	IsAssignableFrom(other Handle) bool
	IsObjectClass() bool
	Superclass() Handle
	DepthInHierarchy() int
	ImplementedInterfaces() []Handle
	VtableLength() int
}

// FieldHandle is the reflection surface for a resolved field.
type FieldHandle interface {
	DeclaringClass() Handle
	AccessFlags() AccessFlags
	Descriptor() string
	Name() string
	IsStatic() bool
	IsFinal() bool
}

// MethodHandle is the reflection surface for a resolved method.
type MethodHandle interface {
	DeclaringClass() Handle
	AccessFlags() AccessFlags
	Signature() string
	Name() string
	IsStatic() bool
	IsConstructor() bool
	IsFinal() bool
	IsPrivate() bool
	IsPublic() bool
	// InvokeKind reports which invoke-* family this method belongs to.
	InvokeKind() InvokeKind
	// ParameterDescriptors returns the formal parameter descriptors, not
	// including the implicit receiver.
	ParameterDescriptors() []string
	ReturnDescriptor() string
}

// InvokeKind mirrors the Dex invoke-* opcode families a resolved method may
// be dispatched through.
type InvokeKind uint8

const (
	InvokeDirect InvokeKind = iota
	InvokeVirtual
	InvokeStatic
	InvokeInterface
	InvokeSuper
	InvokePolymorphic
)

// AccessFlags mirrors the subset of Dex access_flags the verifier consults.
type AccessFlags uint32

const (
	AccPublic    AccessFlags = 0x0001
	AccPrivate   AccessFlags = 0x0002
	AccProtected AccessFlags = 0x0004
	AccStatic    AccessFlags = 0x0008
	AccFinal     AccessFlags = 0x0010
	AccSuper     AccessFlags = 0x0020
	AccSynchronized AccessFlags = 0x0020
	AccInterface AccessFlags = 0x0200
	AccAbstract  AccessFlags = 0x0400
	AccStrict    AccessFlags = 0x0800
	AccNative    AccessFlags = 0x0100
	AccConstructor AccessFlags = 0x10000
)

func (f AccessFlags) Has(bit AccessFlags) bool { return f&bit != 0 }

// Resolver is the class-loading collaborator. All lookups are
// read-only from the verifier's perspective; resolution failures are
// reported via the (nil, ErrNotFound) or (nil, some other error) pair rather
// than a pending-exception side channel.
type Resolver interface {
	ResolveType(typeIndex uint32) (Handle, error)
	FindClass(descriptor string) (Handle, error)
	FindArrayClass(component Handle) (Handle, error)
	ResolveField(fieldIndex uint32) (FieldHandle, error)
	ResolveMethod(methodIndex uint32, kind InvokeKind) (MethodHandle, error)
}
