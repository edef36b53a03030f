package replicator

const (
	_dedupWindowCap     = 10_000
	_dedupEvictionBatch = 1_000
)

// Window remembers the identifiers of recently replicated messages so that
// redeliveries within the process lifetime are suppressed. The bound is
// approximate: when an insert would exceed the cap, the oldest entries are
// dropped in insertion order, so suppression is only guaranteed for the
// recent window. Owned exclusively by the pipeline, no internal locking.
type Window struct {
	ids   map[string]struct{}
	order []string
}

func NewWindow() *Window {
	return &Window{ids: make(map[string]struct{}, _dedupWindowCap)}
}

func (w *Window) Contains(id string) bool {
	_, ok := w.ids[id]
	return ok
}

// Add records an identifier, first evicting the oldest batch when the window
// is full. Re-adding a present identifier keeps its original position.
func (w *Window) Add(id string) {
	if _, ok := w.ids[id]; ok {
		return
	}
	if len(w.ids) >= _dedupWindowCap {
		w.evictOldest(_dedupEvictionBatch)
	}
	w.ids[id] = struct{}{}
	w.order = append(w.order, id)
}

func (w *Window) evictOldest(n int) {
	if n > len(w.order) {
		n = len(w.order)
	}
	for _, id := range w.order[:n] {
		delete(w.ids, id)
	}
	w.order = append(w.order[:0:0], w.order[n:]...)
}

func (w *Window) Len() int {
	return len(w.ids)
}
