package mwah

// DefaultDedupWindow is the number of recent heart IDs remembered.
const DefaultDedupWindow = 20

// Deduplicator remembers the most recent message IDs in insertion order and
// rejects replays. It is not safe for concurrent use; RoomConnection guards it.
type Deduplicator struct {
	ids []string
	max int
}

// NewDeduplicator creates a deduplicator holding at most size IDs.
func NewDeduplicator(size int) *Deduplicator {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	return &Deduplicator{ids: make([]string, 0, size), max: size}
}

// ShouldDeliver reports whether id has not been seen within the window, and
// records it if so. The oldest ID is evicted once the window is full.
func (d *Deduplicator) ShouldDeliver(id string) bool {
	for _, seen := range d.ids {
		if seen == id {
			return false
		}
	}
	if len(d.ids) == d.max {
		copy(d.ids, d.ids[1:])
		d.ids = d.ids[:d.max-1]
	}
	d.ids = append(d.ids, id)
	return true
}

// Len returns the number of remembered IDs.
func (d *Deduplicator) Len() int {
	return len(d.ids)
}
