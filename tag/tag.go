// Package tag defines stream tags: metadata attached to an absolute item
// offset of a stream and carried through buffers alongside the items.
package tag

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/c360/streamrt/message"
)

// Tag marks the item at Offset with Key=Value. Source names the block that
// created it.
type Tag struct {
	Offset uint64
	Key    string
	Value  message.Value
	Source string
}

func (t Tag) String() string {
	return fmt.Sprintf("%d:%s=%v(%s)", t.Offset, t.Key, t.Value, t.Source)
}

// Policy controls how a block's input tags reach its outputs.
type Policy int

const (
	// AllToAll copies every tag read on any input to every output.
	AllToAll Policy = iota
	// OneToOne copies tags from input i to output i only.
	OneToOne
	// None does not propagate. The block handles tags itself.
	None
)

func (p Policy) String() string {
	switch p {
	case AllToAll:
		return "all-to-all"
	case OneToOne:
		return "one-to-one"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// Store keeps tags sorted by offset. Tags with equal offsets keep insertion
// order. Safe for one writer and any number of concurrent readers.
type Store struct {
	mu   sync.RWMutex
	tags []Tag
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add inserts t after every stored tag with offset <= t.Offset.
func (s *Store) Add(t Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.tags)
	if n == 0 || s.tags[n-1].Offset <= t.Offset {
		s.tags = append(s.tags, t)
		return
	}
	i := sort.Search(n, func(i int) bool { return s.tags[i].Offset > t.Offset })
	s.tags = slices.Insert(s.tags, i, t)
}

// InRange returns the tags with low <= Offset < high in offset order.
func (s *Store) InRange(low, high uint64) []Tag {
	if high <= low {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.tags), func(i int) bool { return s.tags[i].Offset >= low })
	j := sort.Search(len(s.tags), func(j int) bool { return s.tags[j].Offset >= high })
	if i >= j {
		return nil
	}
	return slices.Clone(s.tags[i:j])
}

// Prune drops tags with Offset < below and returns how many were removed.
func (s *Store) Prune(below uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.tags), func(i int) bool { return s.tags[i].Offset >= below })
	if i == 0 {
		return 0
	}
	s.tags = slices.Delete(s.tags, 0, i)
	return i
}

// Len returns the number of stored tags.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tags)
}

// Reset removes all tags.
func (s *Store) Reset() {
	s.mu.Lock()
	s.tags = nil
	s.mu.Unlock()
}

// MapOffset translates an input item offset to the output stream of a block
// with relative rate interp/decim. inBase and outBase are the first item
// offsets of the current call; the result is rounded to the nearest item.
func MapOffset(offset, inBase, outBase uint64, interp, decim uint64) uint64 {
	if interp == 0 {
		interp = 1
	}
	if decim == 0 {
		decim = 1
	}
	var rel uint64
	if offset > inBase {
		rel = offset - inBase
	}
	return outBase + (rel*interp+decim/2)/decim
}
