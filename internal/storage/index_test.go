package storage

import "testing"

func TestIndex_PutLookupDelete(t *testing.T) {
	ix := NewIndex()

	p1 := LogPointer{Generation: 1, Offset: 0, Length: 20}
	p2 := LogPointer{Generation: 2, Offset: 40, Length: 30}

	if _, replaced := ix.Put("a", p1); replaced {
		t.Error("expected fresh insert")
	}
	old, replaced := ix.Put("a", p2)
	if !replaced || old != p1 {
		t.Errorf("expected to replace %v, got %v (replaced=%v)", p1, old, replaced)
	}
	if got, ok := ix.Lookup("a"); !ok || got != p2 {
		t.Errorf("expected %v, got %v", p2, got)
	}

	if _, ok := ix.Delete("missing"); ok {
		t.Error("expected delete of missing key to be a no-op")
	}
	if _, ok := ix.Delete("a"); !ok {
		t.Error("expected delete to report the removed entry")
	}
	if _, ok := ix.Lookup("a"); ok {
		t.Error("expected a to be gone")
	}
	if ix.Len() != 0 || ix.LiveBytes() != 0 {
		t.Errorf("expected empty index, got len=%d live=%d", ix.Len(), ix.LiveBytes())
	}
}

func TestIndex_SnapshotOrdered(t *testing.T) {
	ix := NewIndex()
	for i, k := range []string{"delta", "alpha", "charlie", "bravo"} {
		ix.Put(k, LogPointer{Generation: 1, Offset: int64(i * 10), Length: 10})
	}

	snap := ix.Snapshot()
	want := []string{"alpha", "bravo", "charlie", "delta"}
	if len(snap) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(snap))
	}
	for i, e := range snap {
		if e.Key != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], e.Key)
		}
	}
	if keys := ix.Keys(); keys[0] != "alpha" || keys[3] != "delta" {
		t.Errorf("unexpected key order %v", keys)
	}
}

func TestIndex_GenerationAccounting(t *testing.T) {
	ix := NewIndex()
	ix.Put("a", LogPointer{Generation: 1, Length: 10})
	ix.Put("b", LogPointer{Generation: 1, Length: 15})
	ix.Put("c", LogPointer{Generation: 3, Length: 5})

	if ix.References(1) != 2 || ix.LiveBytesIn(1) != 25 {
		t.Errorf("generation 1: refs=%d bytes=%d", ix.References(1), ix.LiveBytesIn(1))
	}

	ix.Put("a", LogPointer{Generation: 3, Length: 12})
	ix.Delete("b")

	if ix.References(1) != 0 {
		t.Errorf("expected no references to generation 1, got %d", ix.References(1))
	}
	gens := ix.Generations()
	if len(gens) != 1 || gens[0] != 3 {
		t.Errorf("expected only generation 3 referenced, got %v", gens)
	}
	if ix.LiveBytes() != 17 {
		t.Errorf("expected 17 live bytes, got %d", ix.LiveBytes())
	}
}
