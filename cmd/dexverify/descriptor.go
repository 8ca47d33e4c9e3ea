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

package main

import (
	"bufio"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"

	"github.com/dexguard/go-dexguard/classresolver"
	"github.com/dexguard/go-dexguard/dex"
	"github.com/dexguard/go-dexguard/verifier"
)

// tomlSettings mirrors cmd/gprobe/config.go's field-naming convention: TOML
// keys match Go struct field names exactly, no case-folding.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
}

// descriptorFile is the on-disk TOML shape this CLI reads: the world
// (classes/fields/methods the resolver needs to know about) plus the one
// method body to verify. The binary Dex format itself stays out of scope;
// this is the reference front end tests and operators drive the
// core with.
type descriptorFile struct {
	Class  []classEntry
	Field  []fieldEntry
	Method []methodEntry
	Verify methodDescriptor
}

type classEntry struct {
	Descriptor string
	Super      string   `toml:",omitempty"`
	Interfaces []string `toml:",omitempty"`
	Interface  bool     `toml:",omitempty"`
	Final      bool     `toml:",omitempty"`
	Abstract   bool     `toml:",omitempty"`
	VtableLen  int      `toml:",omitempty"`
	TypeIndex  *uint32  `toml:",omitempty"`
}

type fieldEntry struct {
	Index      uint32
	Declaring  string
	Descriptor string
	Name       string
	Flags      []string `toml:",omitempty"`
}

type methodEntry struct {
	Index      uint32
	Declaring  string
	Name       string
	Params     []string `toml:",omitempty"`
	Return     string   `toml:",omitempty"`
	Kind       string
	Flags      []string `toml:",omitempty"`
}

// instructionEntry mirrors dex.Instruction in a TOML-friendly shape: Op
// names the mnemonic by string since opcode numbers here carry no relation
// to an on-disk encoding.
type instructionEntry struct {
	Op   string
	A, B, C int   `toml:",omitempty"`
	H    int64  `toml:",omitempty"`
	Args []int  `toml:",omitempty"`
}

type handlerEntry struct {
	Type string `toml:",omitempty"`
	PC   uint32
}

type tryEntry struct {
	Start    uint32
	End      uint32
	Handlers []handlerEntry
}

// methodDescriptor is the [Verify] table: the MethodDef fields of
// verifier.MethodDef spelled out for TOML plus the instruction list a
// dex.Cursor is built from.
type methodDescriptor struct {
	MethodIndex     uint32
	Declaring       string
	Constructor     bool
	Static          bool
	AccessFlags     []string `toml:",omitempty"`
	NumRegisters    int
	InsSize         int
	Params          []string `toml:",omitempty"`
	Return          string
	APILevel        int
	AOTMode         bool `toml:",omitempty"`
	Instructions []instructionEntry
	Tries        []tryEntry `toml:",omitempty"`
}

var accessFlagByName = map[string]classresolver.AccessFlags{
	"public":        classresolver.AccPublic,
	"private":       classresolver.AccPrivate,
	"protected":     classresolver.AccProtected,
	"static":        classresolver.AccStatic,
	"final":         classresolver.AccFinal,
	"synchronized":  classresolver.AccSynchronized,
	"interface":     classresolver.AccInterface,
	"abstract":      classresolver.AccAbstract,
	"strictfp":      classresolver.AccStrict,
	"native":        classresolver.AccNative,
	"constructor":   classresolver.AccConstructor,
}

func parseAccessFlags(names []string) (classresolver.AccessFlags, error) {
	var out classresolver.AccessFlags
	for _, n := range names {
		bit, ok := accessFlagByName[n]
		if !ok {
			return 0, fmt.Errorf("dexverify: unknown access flag %q", n)
		}
		out |= bit
	}
	return out, nil
}

var invokeKindByName = map[string]classresolver.InvokeKind{
	"direct":      classresolver.InvokeDirect,
	"virtual":     classresolver.InvokeVirtual,
	"static":      classresolver.InvokeStatic,
	"interface":   classresolver.InvokeInterface,
	"super":       classresolver.InvokeSuper,
	"polymorphic": classresolver.InvokePolymorphic,
}

var opcodeByName = map[string]dex.Opcode{
	"nop": dex.OpNop, "move": dex.OpMove, "move-wide": dex.OpMoveWide,
	"move-object": dex.OpMoveObject, "move-result": dex.OpMoveResult,
	"move-result-wide": dex.OpMoveResultWide, "move-result-object": dex.OpMoveResultObject,
	"move-exception": dex.OpMoveException,
	"return-void": dex.OpReturnVoid, "return": dex.OpReturn, "return-wide": dex.OpReturnWide,
	"return-object": dex.OpReturnObject,
	"const4": dex.OpConst4, "const": dex.OpConst, "const-wide": dex.OpConstWide,
	"const-string": dex.OpConstString, "const-class": dex.OpConstClass,
	"monitor-enter": dex.OpMonitorEnter, "monitor-exit": dex.OpMonitorExit,
	"check-cast": dex.OpCheckCast, "instance-of": dex.OpInstanceOf,
	"new-instance": dex.OpNewInstance, "new-array": dex.OpNewArray,
	"filled-new-array": dex.OpFilledNewArray,
	"fill-array-data": dex.OpFillArrayData, "fill-array-data-payload": dex.OpFillArrayDataPayload,
	"throw": dex.OpThrow, "goto": dex.OpGoto,
	"packed-switch": dex.OpPackedSwitch, "packed-switch-payload": dex.OpPackedSwitchPayload,
	"sparse-switch": dex.OpSparseSwitch, "sparse-switch-payload": dex.OpSparseSwitchPayload,
	"if-eqz": dex.OpIfEqz, "if-nez": dex.OpIfNez, "if-ltz": dex.OpIfLtz, "if-gez": dex.OpIfGez,
	"if-gtz": dex.OpIfGtz, "if-lez": dex.OpIfLez,
	"if-eq": dex.OpIfEq, "if-ne": dex.OpIfNe, "if-lt": dex.OpIfLt, "if-ge": dex.OpIfGe,
	"if-gt": dex.OpIfGt, "if-le": dex.OpIfLe,
	"aget": dex.OpAget, "aget-wide": dex.OpAgetWide, "aget-object": dex.OpAgetObject,
	"aget-boolean": dex.OpAgetBoolean, "aget-byte": dex.OpAgetByte, "aget-char": dex.OpAgetChar,
	"aget-short": dex.OpAgetShort,
	"aput": dex.OpAput, "aput-wide": dex.OpAputWide, "aput-object": dex.OpAputObject,
	"aput-boolean": dex.OpAputBoolean, "aput-byte": dex.OpAputByte, "aput-char": dex.OpAputChar,
	"aput-short": dex.OpAputShort,
	"iget": dex.OpIget, "iget-wide": dex.OpIgetWide, "iget-object": dex.OpIgetObject,
	"iget-boolean": dex.OpIgetBoolean, "iget-byte": dex.OpIgetByte, "iget-char": dex.OpIgetChar,
	"iget-short": dex.OpIgetShort,
	"iput": dex.OpIput, "iput-wide": dex.OpIputWide, "iput-object": dex.OpIputObject,
	"iput-boolean": dex.OpIputBoolean, "iput-byte": dex.OpIputByte, "iput-char": dex.OpIputChar,
	"iput-short": dex.OpIputShort,
	"sget": dex.OpSget, "sget-wide": dex.OpSgetWide, "sget-object": dex.OpSgetObject,
	"sget-boolean": dex.OpSgetBoolean, "sget-byte": dex.OpSgetByte, "sget-char": dex.OpSgetChar,
	"sget-short": dex.OpSgetShort,
	"sput": dex.OpSput, "sput-wide": dex.OpSputWide, "sput-object": dex.OpSputObject,
	"sput-boolean": dex.OpSputBoolean, "sput-byte": dex.OpSputByte, "sput-char": dex.OpSputChar,
	"sput-short": dex.OpSputShort,
	"invoke-virtual": dex.OpInvokeVirtual, "invoke-super": dex.OpInvokeSuper,
	"invoke-direct": dex.OpInvokeDirect, "invoke-static": dex.OpInvokeStatic,
	"invoke-interface": dex.OpInvokeInterface,
	"add-int": dex.OpAddInt, "add-int-2addr": dex.OpAddInt2Addr, "add-long": dex.OpAddLong,
	"add-float": dex.OpAddFloat, "add-double": dex.OpAddDouble,
}

func loadDescriptorFile(path string) (*descriptorFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dexverify: %w", err)
	}
	defer f.Close()
	var d descriptorFile
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&d); err != nil {
		return nil, fmt.Errorf("dexverify: parsing %s: %w", path, err)
	}
	return &d, nil
}

// buildResolver populates a fresh MemoryResolver from d's class/field/method
// tables: classes first, in file order, then fields and methods. A class's
// superclass must be java.lang.Object or appear earlier in the file, since
// RegisterClass fails for a superclass that is not registered yet.
func buildResolver(d *descriptorFile) (*classresolver.MemoryResolver, error) {
	r := classresolver.NewMemoryResolver()
	for _, c := range d.Class {
		if c.Descriptor == "Ljava/lang/Object;" {
			continue // pre-registered by NewMemoryResolver
		}
		if _, err := r.RegisterClass(c.Descriptor, c.Interface, c.Final, c.Abstract, c.Super, c.Interfaces, c.VtableLen); err != nil {
			return nil, fmt.Errorf("dexverify: class %s: %w", c.Descriptor, err)
		}
	}
	for _, c := range d.Class {
		if c.TypeIndex != nil {
			if err := r.BindTypeIndex(*c.TypeIndex, c.Descriptor); err != nil {
				return nil, fmt.Errorf("dexverify: class %s: %w", c.Descriptor, err)
			}
		}
	}
	for _, fl := range d.Field {
		flags, err := parseAccessFlags(fl.Flags)
		if err != nil {
			return nil, err
		}
		if err := r.RegisterField(fl.Index, fl.Declaring, flags, fl.Descriptor, fl.Name); err != nil {
			return nil, fmt.Errorf("dexverify: field %s.%s: %w", fl.Declaring, fl.Name, err)
		}
	}
	for _, m := range d.Method {
		flags, err := parseAccessFlags(m.Flags)
		if err != nil {
			return nil, err
		}
		kind, ok := invokeKindByName[m.Kind]
		if !ok {
			return nil, fmt.Errorf("dexverify: method %s.%s: unknown invoke kind %q", m.Declaring, m.Name, m.Kind)
		}
		if err := r.RegisterMethod(m.Index, m.Declaring, flags, m.Name, m.Params, m.Return, kind); err != nil {
			return nil, fmt.Errorf("dexverify: method %s.%s: %w", m.Declaring, m.Name, err)
		}
	}
	return r, nil
}

// buildMethodDef decodes md's instruction/try tables into a dex.Cursor and
// the verifier.MethodDef that walks it.
func buildMethodDef(md methodDescriptor) (*verifier.MethodDef, error) {
	insns := make([]dex.Instruction, 0, len(md.Instructions))
	for i, ie := range md.Instructions {
		op, ok := opcodeByName[ie.Op]
		if !ok {
			return nil, fmt.Errorf("dexverify: instruction %d: unknown opcode %q", i, ie.Op)
		}
		insns = append(insns, dex.Instruction{Op: op, A: ie.A, B: ie.B, C: ie.C, H: ie.H, Args: ie.Args})
	}
	cursor := dex.NewCursor(insns)

	flags, err := parseAccessFlags(md.AccessFlags)
	if err != nil {
		return nil, err
	}
	if md.Static {
		flags |= classresolver.AccStatic
	}

	tries := make([]verifier.TryItem, 0, len(md.Tries))
	for _, t := range md.Tries {
		handlers := make([]verifier.CatchHandler, 0, len(t.Handlers))
		for _, h := range t.Handlers {
			handlers = append(handlers, verifier.CatchHandler{TypeDescriptor: h.Type, HandlerPC: h.PC})
		}
		tries = append(tries, verifier.TryItem{StartPC: t.Start, EndPC: t.End, Handlers: handlers})
	}

	return &verifier.MethodDef{
		MethodIndex:          md.MethodIndex,
		AccessFlags:          flags,
		ClassDescriptor:      md.Declaring,
		IsConstructor:        md.Constructor,
		NumRegisters:         md.NumRegisters,
		InsSize:              md.InsSize,
		ParameterDescriptors: md.Params,
		ReturnDescriptor:     md.Return,
		Code:                 cursor,
		Tries:                tries,
		APILevel:             md.APILevel,
		AOTMode:              md.AOTMode,
	}, nil
}

