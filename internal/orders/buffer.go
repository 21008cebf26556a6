package orders

import "sort"

type stagedLine struct {
	line *LineItem
	// stored: a row for this key exists in the line-item store
	stored bool
	// deleted: the stored row must go at flush time
	deleted bool
}

// ChangeBuffer stages the item and line changes of one order's edit session
// until they are flushed at confirm. One record per item id and per line key;
// a later staging replaces the earlier one.
type ChangeBuffer struct {
	items map[int64]*Item
	lines map[LineKey]*stagedLine
}

func NewChangeBuffer() *ChangeBuffer {
	return &ChangeBuffer{
		items: make(map[int64]*Item),
		lines: make(map[LineKey]*stagedLine),
	}
}

func (b *ChangeBuffer) StageItem(it *Item) { b.items[it.ID()] = it }

func (b *ChangeBuffer) StagedItem(id int64) (*Item, bool) {
	it, ok := b.items[id]
	return it, ok
}

// StageLine stages an upsert. stored tells whether the line already has a
// durable row.
func (b *ChangeBuffer) StageLine(l *LineItem, stored bool) {
	b.lines[l.Key()] = &stagedLine{line: l, stored: stored}
}

// StageDelete schedules the stored row of l for deletion.
func (b *ChangeBuffer) StageDelete(l *LineItem) {
	b.lines[l.Key()] = &stagedLine{line: l, stored: true, deleted: true}
}

// Drop forgets any staged record for key. Returns false if there was none.
func (b *ChangeBuffer) Drop(key LineKey) bool {
	if _, ok := b.lines[key]; !ok {
		return false
	}
	delete(b.lines, key)
	return true
}

// StagedLine returns the staged record for key. deleted is true when the
// line is staged for removal.
func (b *ChangeBuffer) StagedLine(key LineKey) (line *LineItem, stored, deleted, ok bool) {
	s, ok := b.lines[key]
	if !ok {
		return nil, false, false, false
	}
	return s.line, s.stored, s.deleted, true
}

// Items returns the staged items ordered by id.
func (b *ChangeBuffer) Items() []*Item {
	out := make([]*Item, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Upserts returns staged lines to write, ordered by item id.
func (b *ChangeBuffer) Upserts() []*LineItem {
	return b.collect(false)
}

// Deletes returns stored lines staged for removal, ordered by item id.
func (b *ChangeBuffer) Deletes() []*LineItem {
	return b.collect(true)
}

func (b *ChangeBuffer) collect(deleted bool) []*LineItem {
	var out []*LineItem
	for _, s := range b.lines {
		if s.deleted == deleted {
			out = append(out, s.line)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// Revert undoes the in-memory stock movements of every staged item.
func (b *ChangeBuffer) Revert() {
	for _, it := range b.items {
		it.Revert()
	}
}

func (b *ChangeBuffer) ClearItems() { clear(b.items) }

func (b *ChangeBuffer) ClearLines() { clear(b.lines) }

func (b *ChangeBuffer) Clear() {
	b.ClearItems()
	b.ClearLines()
}

func (b *ChangeBuffer) Len() int { return len(b.items) + len(b.lines) }

// rekey moves staged lines to orderID once the order gets its id.
func (b *ChangeBuffer) rekey(orderID int64) {
	moved := make(map[LineKey]*stagedLine, len(b.lines))
	for _, s := range b.lines {
		s.line.OrderID = orderID
		moved[s.line.Key()] = s
	}
	b.lines = moved
}
