package data

import (
	"context"
	"sync"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
)

// Item is one application record tagged with the participant that proposed
// it. Finalized items are delivered in the same shape.
type Item struct {
	_       struct{} `cbor:",toarray"`
	Origin  key.Index
	Payload []byte
}

// Feed supplies the items of one participant, in order, exactly once. The
// cursor only moves forward; once exhausted the feed stays exhausted.
type Feed struct {
	sync.Mutex
	index    key.Index
	items    [][]byte
	position int
	log      log.Logger
}

// NewFeed binds the ordered items to the participant index.
func NewFeed(l log.Logger, index key.Index, items [][]byte) *Feed {
	l.Debugw("new data feed", "index", index, "items", len(items))
	return &Feed{
		index: index,
		items: items,
		log:   l,
	}
}

// NewStringFeed uses every rune of s as one item.
func NewStringFeed(l log.Logger, index key.Index, s string) *Feed {
	return NewFeed(l, index, Runes(s))
}

// Runes splits s into one item per rune.
func Runes(s string) [][]byte {
	items := make([][]byte, 0, len(s))
	for _, r := range s {
		items = append(items, []byte(string(r)))
	}
	return items
}

// Next returns the next item, or false once all items have been handed out.
// It never blocks; the context only honors the engine's calling convention.
func (f *Feed) Next(ctx context.Context) (Item, bool) {
	f.Lock()
	defer f.Unlock()
	if ctx.Err() != nil || f.position >= len(f.items) {
		return Item{}, false
	}
	payload := f.items[f.position]
	f.position++
	f.log.Debugw("feed item", "position", f.position, "len", len(f.items))
	return Item{Origin: f.index, Payload: append([]byte(nil), payload...)}, true
}

// Len returns the total number of items of the feed.
func (f *Feed) Len() int {
	return len(f.items)
}

// Position returns how many items have been consumed.
func (f *Feed) Position() int {
	f.Lock()
	defer f.Unlock()
	return f.position
}
