package data

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/bits"
)

// HAMT is a persistent, 32-way bitmap-indexed hash trie. Every mutating
// operation returns a new HAMT; unaffected subtrees are shared by pointer
// with the version it was derived from. Sortition uses one HAMT version
// per observed block (SPEC_FULL.md §4.3/§4.6): versions that differ by a
// handful of registry changes still share almost their entire structure.
//
// No persistent-HAMT library surfaced anywhere in the retrieval pack, so
// this is a from-scratch implementation of a standard, well-documented
// data structure — not a design invented for this module.
type HAMT struct {
	root *hamtNode
}

const (
	bitsPerLevel = 5
	fanout       = 1 << bitsPerLevel // 32
	levelMask    = fanout - 1
)

type hamtEntry struct {
	isLeaf bool
	key    string
	value  []byte
	node   *hamtNode
}

type hamtNode struct {
	bitmap   uint32
	children []hamtEntry
}

// Empty returns the empty HAMT.
func Empty() *HAMT { return &HAMT{root: &hamtNode{}} }

func hashKey(key string) [32]byte { return sha256.Sum256([]byte(key)) }

func chunkAt(h [32]byte, level int) uint32 {
	bitOffset := level * bitsPerLevel
	byteIdx := bitOffset / 8
	bitIdx := bitOffset % 8
	// Read up to two bytes to cover a 5-bit window that may straddle a
	// byte boundary, then mask down to bitsPerLevel bits.
	var window uint32
	if byteIdx < len(h) {
		window = uint32(h[byteIdx])
	}
	if byteIdx+1 < len(h) {
		window |= uint32(h[byteIdx+1]) << 8
	}
	return (window >> bitIdx) & levelMask
}

func slotIndex(bitmap uint32, bit uint32) int {
	return bits.OnesCount32(bitmap & (1<<bit - 1))
}

// Get looks up key, descending the trie by successive 5-bit chunks of
// sha256(key).
func (h *HAMT) Get(key string) ([]byte, bool) {
	hk := hashKey(key)
	n := h.root
	level := 0
	for {
		bit := chunkAt(hk, level)
		if n.bitmap&(1<<bit) == 0 {
			return nil, false
		}
		e := n.children[slotIndex(n.bitmap, bit)]
		if e.isLeaf {
			if e.key == key {
				return e.value, true
			}
			return nil, false
		}
		n = e.node
		level++
	}
}

// Insert returns a new HAMT with key bound to value, sharing every
// subtree not on the path to key.
func (h *HAMT) Insert(key string, value []byte) *HAMT {
	hk := hashKey(key)
	newRoot := insert(h.root, hk, key, value, 0)
	return &HAMT{root: newRoot}
}

func insert(n *hamtNode, hk [32]byte, key string, value []byte, level int) *hamtNode {
	bit := chunkAt(hk, level)
	idx := slotIndex(n.bitmap, bit)

	if n.bitmap&(1<<bit) == 0 {
		return withInsertedChild(n, bit, idx, hamtEntry{isLeaf: true, key: key, value: value})
	}

	existing := n.children[idx]
	if existing.isLeaf {
		if existing.key == key {
			return withReplacedChild(n, idx, hamtEntry{isLeaf: true, key: key, value: value})
		}
		// Collision: push both down one level into a fresh subnode.
		existingHash := hashKey(existing.key)
		sub := &hamtNode{}
		sub = insert(sub, existingHash, existing.key, existing.value, level+1)
		sub = insert(sub, hk, key, value, level+1)
		return withReplacedChild(n, idx, hamtEntry{node: sub})
	}

	sub := insert(existing.node, hk, key, value, level+1)
	return withReplacedChild(n, idx, hamtEntry{node: sub})
}

func withInsertedChild(n *hamtNode, bit uint32, idx int, e hamtEntry) *hamtNode {
	children := make([]hamtEntry, len(n.children)+1)
	copy(children, n.children[:idx])
	children[idx] = e
	copy(children[idx+1:], n.children[idx:])
	return &hamtNode{bitmap: n.bitmap | (1 << bit), children: children}
}

func withReplacedChild(n *hamtNode, idx int, e hamtEntry) *hamtNode {
	children := make([]hamtEntry, len(n.children))
	copy(children, n.children)
	children[idx] = e
	return &hamtNode{bitmap: n.bitmap, children: children}
}

// Each calls fn for every (key, value) pair reachable from h, in an
// unspecified but deterministic-per-structure order.
func (h *HAMT) Each(fn func(key string, value []byte)) {
	eachNode(h.root, fn)
}

func eachNode(n *hamtNode, fn func(key string, value []byte)) {
	for _, e := range n.children {
		if e.isLeaf {
			fn(e.key, e.value)
		} else {
			eachNode(e.node, fn)
		}
	}
}

// Delete returns a new HAMT with key removed, if present.
func (h *HAMT) Delete(key string) *HAMT {
	hk := hashKey(key)
	newRoot, _ := del(h.root, hk, key, 0)
	if newRoot == nil {
		newRoot = &hamtNode{}
	}
	return &HAMT{root: newRoot}
}

func del(n *hamtNode, hk [32]byte, key string, level int) (*hamtNode, bool) {
	bit := chunkAt(hk, level)
	if n.bitmap&(1<<bit) == 0 {
		return n, false
	}
	idx := slotIndex(n.bitmap, bit)
	existing := n.children[idx]
	if existing.isLeaf {
		if existing.key != key {
			return n, false
		}
		children := make([]hamtEntry, len(n.children)-1)
		copy(children, n.children[:idx])
		copy(children[idx:], n.children[idx+1:])
		return &hamtNode{bitmap: n.bitmap &^ (1 << bit), children: children}, true
	}
	newSub, removed := del(existing.node, hk, key, level+1)
	if !removed {
		return n, false
	}
	if len(newSub.children) == 0 {
		children := make([]hamtEntry, len(n.children)-1)
		copy(children, n.children[:idx])
		copy(children[idx:], n.children[idx+1:])
		return &hamtNode{bitmap: n.bitmap &^ (1 << bit), children: children}, true
	}
	return withReplacedChild(n, idx, hamtEntry{node: newSub}), true
}

// Root returns the content hash identifying this version's root node —
// the Merkle-style fingerprint Sortition persists per block.
func (h *HAMT) Root() [32]byte { return nodeHash(h.root) }

func nodeHash(n *hamtNode) [32]byte {
	return sha256.Sum256(encodeNode(n, nodeHash))
}

// encodeNode produces a canonical, order-preserving byte encoding of a
// node. childHash is injected so callers can either hash recursively
// (nodeHash) or substitute already-computed hashes during serialization.
func encodeNode(n *hamtNode, childHash func(*hamtNode) [32]byte) []byte {
	buf := make([]byte, 4, 4+len(n.children)*40)
	binary.BigEndian.PutUint32(buf, n.bitmap)
	for _, e := range n.children {
		if e.isLeaf {
			buf = append(buf, 0x01)
			klen := make([]byte, 4)
			binary.BigEndian.PutUint32(klen, uint32(len(e.key)))
			buf = append(buf, klen...)
			buf = append(buf, e.key...)
			vlen := make([]byte, 4)
			binary.BigEndian.PutUint32(vlen, uint32(len(e.value)))
			buf = append(buf, vlen...)
			buf = append(buf, e.value...)
		} else {
			buf = append(buf, 0x00)
			h := childHash(e.node)
			buf = append(buf, h[:]...)
		}
	}
	return buf
}

// Serialize walks h and returns every content-addressed node reachable
// from its root, keyed by the node hash Root() would report for that
// subtree.
func Serialize(h *HAMT) map[[32]byte][]byte {
	out := make(map[[32]byte][]byte)
	serializeNode(h.root, out)
	return out
}

func serializeNode(n *hamtNode, out map[[32]byte][]byte) [32]byte {
	id := nodeHash(n)
	if _, ok := out[id]; ok {
		return id // already visited this exact subtree in this call
	}
	for _, e := range n.children {
		if !e.isLeaf {
			serializeNode(e.node, out)
		}
	}
	out[id] = encodeNode(n, nodeHash)
	return id
}

// SerializeMany serializes several HAMT versions into one map. Because
// nodes are content-addressed, any subtree shared across versions
// collapses to a single map entry — the multi-version structural-sharing
// guarantee from SPEC_FULL.md §4.3.
func SerializeMany(versions ...*HAMT) map[[32]byte][]byte {
	out := make(map[[32]byte][]byte)
	for _, v := range versions {
		serializeNode(v.root, out)
	}
	return out
}

// ErrDanglingReference is returned by Deserialize when a node references
// a child hash absent from the supplied node set.
var ErrDanglingReference = errors.New("data: hamt node references unknown child hash")

// Deserialize reconstructs a HAMT given its root hash and the full node
// set produced by Serialize/SerializeMany (or a union of several such
// sets read back from storage).
func Deserialize(root [32]byte, nodes map[[32]byte][]byte) (*HAMT, error) {
	n, err := decodeNode(root, nodes, make(map[[32]byte]*hamtNode))
	if err != nil {
		return nil, err
	}
	return &HAMT{root: n}, nil
}

func decodeNode(id [32]byte, nodes map[[32]byte][]byte, cache map[[32]byte]*hamtNode) (*hamtNode, error) {
	if n, ok := cache[id]; ok {
		return n, nil
	}
	raw, ok := nodes[id]
	if !ok {
		return nil, ErrDanglingReference
	}
	bitmap := binary.BigEndian.Uint32(raw[:4])
	rest := raw[4:]
	count := bits.OnesCount32(bitmap)
	children := make([]hamtEntry, count)
	for i := 0; i < count; i++ {
		tag := rest[0]
		rest = rest[1:]
		if tag == 0x01 {
			klen := binary.BigEndian.Uint32(rest[:4])
			rest = rest[4:]
			key := string(rest[:klen])
			rest = rest[klen:]
			vlen := binary.BigEndian.Uint32(rest[:4])
			rest = rest[4:]
			value := append([]byte(nil), rest[:vlen]...)
			rest = rest[vlen:]
			children[i] = hamtEntry{isLeaf: true, key: key, value: value}
		} else {
			var childID [32]byte
			copy(childID[:], rest[:32])
			rest = rest[32:]
			child, err := decodeNode(childID, nodes, cache)
			if err != nil {
				return nil, err
			}
			children[i] = hamtEntry{node: child}
		}
	}
	n := &hamtNode{bitmap: bitmap, children: children}
	cache[id] = n
	return n, nil
}
