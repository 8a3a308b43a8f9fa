package rate

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

/*
Package rate provides Window, a bounded-memory, per-key sliding window event
counter. The sign-in flow uses it to cap failed attempts per email address.
*/

type Window struct {
	mu      sync.Mutex
	window  int // seconds
	cap     int // max keys to retain
	items   map[string]*list.Element
	lru     *list.List   // front = most recently used
	nowFunc func() int64 // for tests; defaults to time.Now().Unix()
}

type windowEntry struct {
	key     string
	lastSec int64    // last updated second
	buckets []uint16 // len == window; counts per second bucket
}

// NewWindow creates a 10k-capacity counter over window seconds.
func NewWindow(window int) *Window {
	return NewWindowWithCapacity(window, 10000)
}

// NewWindowWithCapacity creates a bounded counter.
func NewWindowWithCapacity(window, capacity int) *Window {
	if window <= 0 {
		window = 60
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Window{
		window:  window,
		cap:     capacity,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: func() int64 { return time.Now().Unix() },
	}
}

// Add records an event for key and returns the number of events in the window.
// It is O(window) per call.
func (w *Window) Add(key string) int {
	now := w.nowFunc()
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.items[key]; ok {
		en := el.Value.(*windowEntry)
		w.advance(en, now)
		w.incrementTail(en)
		w.lru.MoveToFront(el)
		return w.sum(en)
	}

	if w.lru.Len() >= w.cap {
		if back := w.lru.Back(); back != nil {
			del := back.Value.(*windowEntry)
			delete(w.items, del.key)
			w.lru.Remove(back)
			log.Warn().Int("capacity", w.cap).Msg("attempt window full, evicting least recent key")
		}
	}
	en := &windowEntry{
		key:     key,
		lastSec: now,
		buckets: make([]uint16, w.window),
	}
	en.buckets[w.window-1] = 1
	w.items[key] = w.lru.PushFront(en)
	return 1
}

// Count returns the number of events for key in the window without recording one.
func (w *Window) Count(key string) int {
	now := w.nowFunc()
	w.mu.Lock()
	defer w.mu.Unlock()
	el, ok := w.items[key]
	if !ok {
		return 0
	}
	en := el.Value.(*windowEntry)
	w.advance(en, now)
	return w.sum(en)
}

// Reset forgets key.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.items[key]; ok {
		delete(w.items, key)
		w.lru.Remove(el)
	}
}

// Len is the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lru.Len()
}

// advance shifts the second-buckets forward to catch up with now.
func (w *Window) advance(en *windowEntry, now int64) {
	if now <= en.lastSec {
		return
	}
	diff := now - en.lastSec
	if diff >= int64(w.window) {
		for i := range en.buckets {
			en.buckets[i] = 0
		}
		en.lastSec = now
		return
	}
	shift := int(diff)
	copy(en.buckets, en.buckets[shift:])
	for i := w.window - shift; i < w.window; i++ {
		en.buckets[i] = 0
	}
	en.lastSec = now
}

func (w *Window) incrementTail(en *windowEntry) {
	// saturate instead of wrapping
	if en.buckets[w.window-1] < 65535 {
		en.buckets[w.window-1]++
	}
}

func (w *Window) sum(en *windowEntry) int {
	n := 0
	for _, b := range en.buckets {
		n += int(b)
	}
	return n
}
