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

// Package failsink implements the typed, dex-pc-tagged failure stream the
// verifier appends to, made concrete for tests and the CLI.
package failsink

import (
	"fmt"

	mapset "github.com/deckarep/golang-set"
)

// Kind tags one class of verification failure.
type Kind string

const (
	NoClass             Kind = "NO_CLASS"
	UnresolvedTypeCheck  Kind = "UNRESOLVED_TYPE_CHECK"
	NoMethod             Kind = "NO_METHOD"
	NoField              Kind = "NO_FIELD"
	AccessClass          Kind = "ACCESS_CLASS"
	AccessField          Kind = "ACCESS_FIELD"
	AccessMethod         Kind = "ACCESS_METHOD"
	Instantiation        Kind = "INSTANTIATION"
	ClassChange          Kind = "CLASS_CHANGE"
	FilledNewArray       Kind = "FILLED_NEW_ARRAY"
	Locking              Kind = "LOCKING"
	BadClassHard         Kind = "BAD_CLASS_HARD"
	RuntimeThrow         Kind = "RUNTIME_THROW"
)

// compilerIncompatible is the set of kinds that force a SoftFailure
// classification even though the method is otherwise provably safe.
var compilerIncompatible = map[Kind]bool{
	Locking:      true,
	RuntimeThrow: true,
}

// accessKinds is the set of kinds that, absent anything worse, classify the
// method as AccessChecksFailure.
var accessKinds = map[Kind]bool{
	AccessClass: true, AccessField: true, AccessMethod: true,
}

// Message is one recorded failure.
type Message struct {
	Kind               Kind
	DexPC              uint32
	Text               string
	PendingException   bool
}

func (m Message) String() string {
	return fmt.Sprintf("[%s @%d] %s", m.Kind, m.DexPC, m.Text)
}

// Sink is the failure collector the verifier reports through.
type Sink interface {
	// Fail appends a message and returns a stream the caller may continue
	// to format onto.
	Fail(kind Kind, dexPC uint32, pendingException bool, format string, args ...any) *Message
}

// Collector is the in-process reference Sink used by the verifier and its
// tests. It tracks the union of encountered kinds with a golang-set.Set,
// and reduces it to the single overall FailureKind on demand.
type Collector struct {
	messages []Message
	kinds    mapset.Set
	hardPC   uint32
	hardMsg  string
	haveHard bool
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{kinds: mapset.NewSet()}
}

func (c *Collector) Fail(kind Kind, dexPC uint32, pendingException bool, format string, args ...any) *Message {
	// Any kind recorded with pendingException also sets the RuntimeThrow
	// bit: legacy dead code after a guaranteed throw must classify as a
	// soft failure even when the triggering kind alone would not. The
	// caller's api-level gating lives in the verifier package; this sink
	// only records what it's told.
	msg := Message{Kind: kind, DexPC: dexPC, Text: fmt.Sprintf(format, args...), PendingException: pendingException}
	c.messages = append(c.messages, msg)
	c.kinds.Add(kind)
	if pendingException {
		c.kinds.Add(RuntimeThrow)
	}
	if kind == BadClassHard {
		c.haveHard = true
		c.hardPC = dexPC
		c.hardMsg = msg.Text
	}
	return &c.messages[len(c.messages)-1]
}

// Messages returns every recorded failure, in append order.
func (c *Collector) Messages() []Message { return c.messages }

// Kinds returns the set of distinct kinds encountered so far.
func (c *Collector) Kinds() mapset.Set { return c.kinds.Clone() }

// HasKind reports whether kind was ever recorded.
func (c *Collector) HasKind(kind Kind) bool { return c.kinds.Contains(kind) }

// HardFailure reports the pending hard failure, if any.
func (c *Collector) HardFailure() (pc uint32, msg string, ok bool) {
	return c.hardPC, c.hardMsg, c.haveHard
}

// FailureKind is the overall classification of one method's verification.
type FailureKind string

const (
	NoFailure           FailureKind = "NoFailure"
	SoftFailure         FailureKind = "SoftFailure"
	AccessChecksFailure FailureKind = "AccessChecksFailure"
	TypeChecksFailure   FailureKind = "TypeChecksFailure"
	HardFailureKind     FailureKind = "HardFailure"
)

// Reduce collapses the encountered kinds to the overall classification.
func (c *Collector) Reduce() FailureKind {
	if c.haveHard {
		return HardFailureKind
	}
	for k := range compilerIncompatible {
		if c.kinds.Contains(k) {
			return SoftFailure
		}
	}
	if c.kinds.Contains(UnresolvedTypeCheck) {
		return TypeChecksFailure
	}
	for k := range accessKinds {
		if c.kinds.Contains(k) {
			return AccessChecksFailure
		}
	}
	return NoFailure
}
