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

import "sort"

// descriptorTrie is a compressed (radix) prefix trie over class descriptor
// strings: an edge carries a compressed key segment instead of one byte per
// hop. There is no hashing or persistence concern here, only the
// descriptor-prefix diagnostics DumpPackage exposes.
type descriptorTrie struct {
	root *trieNode
}

type trieNode struct {
	// key is the compressed edge label leading into this node from its
	// parent; the root's key is always empty.
	key      string
	children map[byte]*trieNode
	leaf     bool
}

func newDescriptorTrie() *descriptorTrie {
	return &descriptorTrie{root: &trieNode{children: map[byte]*trieNode{}}}
}

func (t *descriptorTrie) insert(descriptor string) {
	insertAt(t.root, descriptor)
}

func insertAt(n *trieNode, rest string) {
	if rest == "" {
		n.leaf = true
		return
	}
	child, ok := n.children[rest[0]]
	if !ok {
		n.children[rest[0]] = &trieNode{key: rest, leaf: true, children: map[byte]*trieNode{}}
		return
	}
	common := commonPrefixLen(child.key, rest)
	if common == len(child.key) {
		insertAt(child, rest[common:])
		return
	}
	// Split child's edge at the point of divergence.
	split := &trieNode{
		key:      child.key[:common],
		children: map[byte]*trieNode{child.key[common]: child},
	}
	child.key = child.key[common:]
	n.children[rest[0]] = split
	if common == len(rest) {
		split.leaf = true
		return
	}
	insertAt(split, rest[common:])
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// withPrefix returns every inserted descriptor starting with prefix, sorted.
func (t *descriptorTrie) withPrefix(prefix string) []string {
	node, matched := descend(t.root, prefix)
	if node == nil {
		return nil
	}
	var out []string
	collect(node, matched, &out)
	sort.Strings(out)
	return out
}

// descend walks down from n following prefix, returning the deepest node
// reached and the full edge-label path accumulated to reach it. If prefix
// is not fully consumed along existing edges, returns (nil, "").
func descend(n *trieNode, prefix string) (*trieNode, string) {
	if prefix == "" {
		return n, ""
	}
	child, ok := n.children[prefix[0]]
	if !ok {
		return nil, ""
	}
	common := commonPrefixLen(child.key, prefix)
	switch {
	case common == len(prefix):
		// prefix ends inside (or exactly at) this edge.
		return child, child.key
	case common == len(child.key):
		sub, rest := descend(child, prefix[common:])
		if sub == nil {
			return nil, ""
		}
		return sub, child.key + rest
	default:
		return nil, ""
	}
}

func collect(n *trieNode, path string, out *[]string) {
	if n.leaf {
		*out = append(*out, path)
	}
	for _, c := range n.children {
		collect(c, path+c.key, out)
	}
}

// DumpPackage returns every descriptor the resolver has ever produced a
// Handle for, restricted to those starting with prefix (e.g. "Lcom/app/").
func (r *MemoryResolver) DumpPackage(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptors.withPrefix(prefix)
}
