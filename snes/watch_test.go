package snes

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"
)

func isSortedUnique(s []uint32) bool {
	for i := 1; i < len(s); i++ {
		if s[i] <= s[i-1] {
			return false
		}
	}
	return true
}

func TestWatchSet_SortedUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w := NewWatchSet(true)
	model := map[uint32]bool{}

	bases := []uint32{0x000100, 0x7FFFF0, 0xDFFFFC, 0xE00000, 0xF50000, 0xF5FFF8}
	for i := 0; i < 2000; i++ {
		addr := bases[rng.Intn(len(bases))] + uint32(rng.Intn(32))
		n := rng.Intn(5)
		if rng.Intn(3) == 0 {
			w.Remove(addr, n)
			for j := 0; j < n; j++ {
				delete(model, addr+uint32(j))
			}
		} else {
			w.Add(addr, n)
			for j := 0; j < n; j++ {
				model[addr+uint32(j)] = true
			}
		}

		all, noROM := w.Addresses(false), w.Addresses(true)
		if !isSortedUnique(all) {
			t.Fatalf("step %d: full set not sorted/unique: %x", i, all)
		}
		if !isSortedUnique(noROM) {
			t.Fatalf("step %d: no-ROM set not sorted/unique: %x", i, noROM)
		}
		if len(all) != len(model) {
			t.Fatalf("step %d: len actual = %d, expected = %d", i, len(all), len(model))
		}
	}

	var expected, expectedNoROM []uint32
	for a := range model {
		expected = append(expected, a)
		if a >= ROMBoundary {
			expectedNoROM = append(expectedNoROM, a)
		}
	}
	sort.Slice(expected, func(i, j int) bool { return expected[i] < expected[j] })
	sort.Slice(expectedNoROM, func(i, j int) bool { return expectedNoROM[i] < expectedNoROM[j] })
	if actual := w.Addresses(false); !reflect.DeepEqual(actual, expected) && len(expected) > 0 {
		t.Fatalf("full set actual = %x, expected = %x", actual, expected)
	}
	if actual := w.Addresses(true); !reflect.DeepEqual(actual, expectedNoROM) && len(expectedNoROM) > 0 {
		t.Fatalf("no-ROM set actual = %x, expected = %x", actual, expectedNoROM)
	}
}

func TestWatchSet_AddRemove(t *testing.T) {
	w := NewWatchSet(true)
	if !w.Add(0xF50010, 2) {
		t.Fatal("expected change")
	}
	if w.Add(0xF50011, 1) {
		t.Fatal("expected no change for existing watch")
	}
	if !w.Add(0x008000, 1) {
		t.Fatal("expected change")
	}
	if actual, expected := w.Addresses(false), []uint32{0x008000, 0xF50010, 0xF50011}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("actual = %x, expected = %x", actual, expected)
	}
	if actual, expected := w.Addresses(true), []uint32{0xF50010, 0xF50011}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("no-ROM actual = %x, expected = %x", actual, expected)
	}
	if !w.Contains(0xF50011) || w.Contains(0xF50012) {
		t.Fatal("Contains")
	}

	if !w.Remove(0xF50010, 1) {
		t.Fatal("expected change")
	}
	if w.Remove(0xF50010, 1) {
		t.Fatal("expected no change removing missing watch")
	}
	if actual, expected := w.Addresses(true), []uint32{0xF50011}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("no-ROM actual = %x, expected = %x", actual, expected)
	}

	w.Replace([]uint32{3, 1, 2})
	if actual, expected := w.Addresses(false), []uint32{1, 2, 3}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("actual = %x, expected = %x", actual, expected)
	}
	w.Clear()
	if w.Len() != 0 {
		t.Fatal("Clear")
	}
}

func TestWatchSet_NoMirror(t *testing.T) {
	w := NewWatchSet(false)
	w.Add(0xF50010, 2)
	w.Add(0x008000, 1)
	if actual := w.Addresses(true); len(actual) != 0 {
		t.Fatalf("no-ROM actual = %x, expected none", actual)
	}
	if actual, expected := w.Addresses(false), []uint32{0x008000, 0xF50010, 0xF50011}; !reflect.DeepEqual(actual, expected) {
		t.Fatalf("actual = %x, expected = %x", actual, expected)
	}
}

func TestIsROM(t *testing.T) {
	for _, tt := range []struct {
		addr     uint32
		expected bool
	}{
		{0x000000, true},
		{ROMBoundary - 1, true},
		{SRAMBase, false},
		{WRAMBase, false},
		{MaxBusAddress, false},
	} {
		if actual := IsROM(tt.addr); actual != tt.expected {
			t.Errorf("IsROM(%#06x) actual = %v, expected = %v", tt.addr, actual, tt.expected)
		}
	}
}

func TestNextBatch(t *testing.T) {
	tests := []struct {
		name        string
		addrs       []uint32
		cursor      int
		hole, block int
		wantAddr    uint32
		wantN       int
		wantNext    int
	}{
		{"coalesces small holes", []uint32{0x100, 0x101, 0x110}, 0, 16, 32, 0x100, 17, 0},
		{"hole too large", []uint32{0x100, 0x101, 0x120}, 0, 16, 64, 0x100, 2, 2},
		{"block too large", []uint32{0x100, 0x101, 0x110}, 0, 16, 16, 0x100, 2, 2},
		{"no hole budget", []uint32{0x100, 0x101, 0x103}, 0, 0, 32, 0x100, 2, 2},
		{"resumes at cursor", []uint32{0x100, 0x101, 0x120}, 2, 16, 64, 0x120, 1, 0},
		{"cursor out of range", []uint32{0x100, 0x101}, 7, 16, 64, 0x100, 2, 0},
		{"single", []uint32{0xF50000}, 0, 8, 512, 0xF50000, 1, 0},
		{"empty", nil, 0, 8, 512, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, n, next := NextBatch(tt.addrs, tt.cursor, tt.hole, tt.block)
			if addr != tt.wantAddr || n != tt.wantN || next != tt.wantNext {
				t.Errorf("actual = (%#x, %d, %d), expected = (%#x, %d, %d)", addr, n, next, tt.wantAddr, tt.wantN, tt.wantNext)
			}
		})
	}
}

func TestScanner(t *testing.T) {
	var s Scanner
	s.SetAddresses([]uint32{0x100, 0x101, 0x200, 0x300})

	now := time.Unix(1000, 0)
	if !s.AtPassStart() {
		t.Fatal("expected pass start")
	}

	addr, n, wrapped := s.Next(4, 64, now)
	if addr != 0x100 || n != 2 || wrapped {
		t.Fatalf("batch 1 = (%#x, %d, %v)", addr, n, wrapped)
	}
	addr, n, wrapped = s.Next(4, 64, now.Add(time.Millisecond))
	if addr != 0x200 || n != 1 || wrapped {
		t.Fatalf("batch 2 = (%#x, %d, %v)", addr, n, wrapped)
	}
	addr, n, wrapped = s.Next(4, 64, now.Add(2*time.Millisecond))
	if addr != 0x300 || n != 1 || !wrapped {
		t.Fatalf("batch 3 = (%#x, %d, %v)", addr, n, wrapped)
	}
	if actual, expected := s.LastPass(), (PassStats{Updates: 3, Duration: 2 * time.Millisecond}); actual != expected {
		t.Fatalf("LastPass actual = %+v, expected = %+v", actual, expected)
	}
	if !s.AtPassStart() {
		t.Fatal("expected pass start after wrap")
	}

	// shrinking the snapshot keeps the cursor in range:
	s.Next(4, 64, now)
	s.SetAddresses([]uint32{0x100})
	if !s.AtPassStart() {
		t.Fatal("expected cursor reset")
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	if c.Get(0xF50000) != 0 || c.Has(0xF50000) {
		t.Fatal("absent address must read 0")
	}
	if !c.Store(0xF50000, []byte{1, 2}) {
		t.Fatal("expected change")
	}
	if c.Store(0xF50000, []byte{1, 2}) {
		t.Fatal("expected no change")
	}
	if c.Get(0xF50001) != 2 || c.Get(0xF50001) != 2 {
		t.Fatal("repeated reads must agree")
	}
	c.Clear()
	if c.Len() != 0 || c.Get(0xF50001) != 0 {
		t.Fatal("Clear")
	}
}
