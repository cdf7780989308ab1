package snes

import (
	"sort"
	"time"
)

// WatchSet is the set of bridge addresses kept fresh by polling.
//
// Watches are single bytes so that reads can be coalesced freely. Bridge watch sets keep a
// second list mirroring every watch outside ROM for devices that cannot serve ROM reads.
type WatchSet struct {
	mirrorNoROM bool

	all   []uint32
	noROM []uint32
}

// NewWatchSet returns an empty set. Only sets of bridge addresses should mirrorNoROM; bus
// address sets have no ROM boundary.
func NewWatchSet(mirrorNoROM bool) *WatchSet {
	return &WatchSet{mirrorNoROM: mirrorNoROM}
}

// Add watches n bytes starting at addr. It reports whether the set changed.
func (w *WatchSet) Add(addr uint32, n int) (changed bool) {
	for i := 0; i < n; i++ {
		a := addr + uint32(i)
		if insertSorted(&w.all, a) {
			changed = true
		}
		if w.mirrorNoROM && !IsROM(a) {
			insertSorted(&w.noROM, a)
		}
	}
	return
}

// Remove stops watching n bytes starting at addr. It reports whether the set changed.
func (w *WatchSet) Remove(addr uint32, n int) (changed bool) {
	for i := 0; i < n; i++ {
		a := addr + uint32(i)
		if removeSorted(&w.all, a) {
			changed = true
		}
		removeSorted(&w.noROM, a)
	}
	return
}

func (w *WatchSet) Contains(addr uint32) bool {
	i := sort.Search(len(w.all), func(i int) bool { return w.all[i] >= addr })
	return i < len(w.all) && w.all[i] == addr
}

func (w *WatchSet) Len() int { return len(w.all) }

// Addresses returns a copy of the watched addresses in ascending order.
func (w *WatchSet) Addresses(noROM bool) []uint32 {
	src := w.all
	if noROM {
		src = w.noROM
	}
	return append([]uint32(nil), src...)
}

// Replace discards the current watches in favor of addrs.
func (w *WatchSet) Replace(addrs []uint32) {
	w.Clear()
	for _, a := range addrs {
		w.Add(a, 1)
	}
}

func (w *WatchSet) Clear() {
	w.all = w.all[:0]
	w.noROM = w.noROM[:0]
}

func insertSorted(s *[]uint32, a uint32) bool {
	l := *s
	i := sort.Search(len(l), func(i int) bool { return l[i] >= a })
	if i < len(l) && l[i] == a {
		return false
	}
	l = append(l, 0)
	copy(l[i+1:], l[i:])
	l[i] = a
	*s = l
	return true
}

func removeSorted(s *[]uint32, a uint32) bool {
	l := *s
	i := sort.Search(len(l), func(i int) bool { return l[i] >= a })
	if i >= len(l) || l[i] != a {
		return false
	}
	*s = append(l[:i], l[i+1:]...)
	return true
}

// NextBatch picks the run of watches to read next, starting at index cursor of the sorted addrs.
//
// The run is extended greedily while the number of unwatched bytes between consecutive
// watches stays within holeBudget and the total read length stays within blockBudget, so a
// single request reads through small gaps instead of fetching every byte on its own.
// next is the index just past the run, or 0 once the end of addrs is reached.
func NextBatch(addrs []uint32, cursor, holeBudget, blockBudget int) (addr uint32, n int, next int) {
	if len(addrs) == 0 {
		return 0, 0, 0
	}
	if cursor < 0 || cursor >= len(addrs) {
		cursor = 0
	}
	if blockBudget < 1 {
		blockBudget = 1
	}

	addr = addrs[cursor]
	last := addr
	next = cursor + 1
	for ; next < len(addrs); next++ {
		a := addrs[next]
		if int64(a)-int64(last)-1 > int64(holeBudget) {
			break
		}
		if int64(a)-int64(addr)+1 > int64(blockBudget) {
			break
		}
		last = a
	}
	n = int(last-addr) + 1

	if next >= len(addrs) {
		next = 0
	}
	return
}

// PassStats describes one complete pass over the watch list.
type PassStats struct {
	Updates  int
	Duration time.Duration
}

// Scanner walks a snapshot of the watch list one batch at a time.
type Scanner struct {
	addrs  []uint32
	cursor int

	updates   int
	passStart time.Time
	lastPass  PassStats
}

// SetAddresses swaps in a new snapshot, keeping the cursor in range.
func (s *Scanner) SetAddresses(addrs []uint32) {
	s.addrs = addrs
	if s.cursor >= len(addrs) {
		s.cursor = 0
	}
}

func (s *Scanner) Len() int { return len(s.addrs) }

// AtPassStart reports whether the next batch begins a new pass over the list.
func (s *Scanner) AtPassStart() bool { return s.cursor == 0 }

// Next returns the next batch to read. wrapped is true when this batch completed a pass.
func (s *Scanner) Next(holeBudget, blockBudget int, now time.Time) (addr uint32, n int, wrapped bool) {
	if len(s.addrs) == 0 {
		return 0, 0, false
	}
	if s.cursor == 0 && s.passStart.IsZero() {
		s.passStart = now
	}

	addr, n, s.cursor = NextBatch(s.addrs, s.cursor, holeBudget, blockBudget)
	s.updates++

	if s.cursor == 0 {
		wrapped = true
		s.lastPass = PassStats{Updates: s.updates, Duration: now.Sub(s.passStart)}
		s.updates = 0
		s.passStart = now
	}
	return
}

// LastPass returns the statistics of the most recently completed pass.
func (s *Scanner) LastPass() PassStats { return s.lastPass }

// Reset starts over from the first watch.
func (s *Scanner) Reset() {
	s.cursor = 0
	s.updates = 0
	s.passStart = time.Time{}
}
