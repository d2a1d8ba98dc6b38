package storage

import (
	"sort"

	"github.com/google/btree"
)

// IndexEntry maps a live key to the pointer of its most recent record.
type IndexEntry struct {
	Key     string
	Pointer LogPointer
}

// Index is the in-memory map from key to log pointer, ordered by key.
// Removed keys have no entry at all; there are no tombstones.
//
// It also keeps, per generation, how many entries point into that segment
// and how many bytes those records take, which drives compaction and
// segment retirement.
//
// Index is not safe for concurrent mutation; the Store serializes writers and
// lets readers call Lookup concurrently.
type Index struct {
	tree      *btree.BTreeG[IndexEntry]
	refs      map[uint64]int
	liveBytes map[uint64]int64
	total     int64
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		tree: btree.NewG(32, func(a, b IndexEntry) bool {
			return a.Key < b.Key
		}),
		refs:      make(map[uint64]int),
		liveBytes: make(map[uint64]int64),
	}
}

// Lookup returns the pointer for key.
func (ix *Index) Lookup(key string) (LogPointer, bool) {
	e, ok := ix.tree.Get(IndexEntry{Key: key})
	return e.Pointer, ok
}

// Put points key at ptr, replacing any previous entry. The previous pointer,
// if any, is returned so callers can account for the bytes it leaves behind.
func (ix *Index) Put(key string, ptr LogPointer) (LogPointer, bool) {
	old, replaced := ix.tree.ReplaceOrInsert(IndexEntry{Key: key, Pointer: ptr})
	if replaced {
		ix.release(old.Pointer)
	}
	ix.retain(ptr)
	return old.Pointer, replaced
}

// Delete removes key. Deleting an absent key is a no-op.
func (ix *Index) Delete(key string) (LogPointer, bool) {
	old, ok := ix.tree.Delete(IndexEntry{Key: key})
	if ok {
		ix.release(old.Pointer)
	}
	return old.Pointer, ok
}

// Snapshot returns every entry in ascending key order.
func (ix *Index) Snapshot() []IndexEntry {
	entries := make([]IndexEntry, 0, ix.tree.Len())
	ix.tree.Ascend(func(e IndexEntry) bool {
		entries = append(entries, e)
		return true
	})
	return entries
}

// Keys returns every live key in ascending order.
func (ix *Index) Keys() []string {
	keys := make([]string, 0, ix.tree.Len())
	ix.tree.Ascend(func(e IndexEntry) bool {
		keys = append(keys, e.Key)
		return true
	})
	return keys
}

// Len returns the number of live keys.
func (ix *Index) Len() int {
	return ix.tree.Len()
}

// References returns how many entries point into generation gen.
func (ix *Index) References(gen uint64) int {
	return ix.refs[gen]
}

// LiveBytes returns the encoded size of every record the index points at.
func (ix *Index) LiveBytes() int64 {
	return ix.total
}

// LiveBytesIn returns the encoded size of the live records in generation gen.
func (ix *Index) LiveBytesIn(gen uint64) int64 {
	return ix.liveBytes[gen]
}

// Generations returns the referenced generations in ascending order.
func (ix *Index) Generations() []uint64 {
	gens := make([]uint64, 0, len(ix.refs))
	for gen := range ix.refs {
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens
}

func (ix *Index) retain(ptr LogPointer) {
	ix.refs[ptr.Generation]++
	ix.liveBytes[ptr.Generation] += ptr.Length
	ix.total += ptr.Length
}

func (ix *Index) release(ptr LogPointer) {
	ix.refs[ptr.Generation]--
	ix.liveBytes[ptr.Generation] -= ptr.Length
	ix.total -= ptr.Length
	if ix.refs[ptr.Generation] <= 0 {
		delete(ix.refs, ptr.Generation)
		delete(ix.liveBytes, ptr.Generation)
	}
}
