package utils

import (
	"sync"

	"trading-hub/src/models"
)

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer of market points.
// Not safe for concurrent use; MarketHistory adds the locking.
// -----------------------------------------------------------------------------

type RingBuffer struct {
	data     []models.MMarketPoint
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &RingBuffer{
		data:     make([]models.MMarketPoint, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

// Append overwrites the oldest point once the buffer is full.
func (rb *RingBuffer) Append(point models.MMarketPoint) {
	rb.data[rb.index] = point
	rb.index = (rb.index + 1) % rb.capacity
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns up to n newest points, oldest first.
func (rb *RingBuffer) GetLatest(n int) []models.MMarketPoint {
	if rb.size == 0 || n <= 0 {
		return []models.MMarketPoint{}
	}
	if n > rb.size {
		n = rb.size
	}

	result := make([]models.MMarketPoint, n)
	start := (rb.index - n + rb.capacity) % rb.capacity
	for i := 0; i < n; i++ {
		result[i] = rb.data[(start+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// GetAll returns all data in insertion order (oldest to newest)
func (rb *RingBuffer) GetAll() []models.MMarketPoint {
	return rb.GetLatest(rb.size)
}

// Last returns the newest point.
func (rb *RingBuffer) Last() (models.MMarketPoint, bool) {
	if rb.size == 0 {
		return models.MMarketPoint{}, false
	}
	return rb.data[(rb.index-1+rb.capacity)%rb.capacity], true
}

func (rb *RingBuffer) Size() int     { return rb.size }
func (rb *RingBuffer) Capacity() int { return rb.capacity }
func (rb *RingBuffer) IsFull() bool  { return rb.size == rb.capacity }

// -----------------------------------------------------------------------------
// MarketHistory keeps one ring per symbol.
// -----------------------------------------------------------------------------

type MarketHistory struct {
	capacity int
	mu       sync.RWMutex
	buffers  map[string]*RingBuffer
}

func NewMarketHistory(capacity int) *MarketHistory {
	return &MarketHistory{
		capacity: capacity,
		buffers:  make(map[string]*RingBuffer),
	}
}

// -----------------------------------------------------------------------------

// Record appends points to their symbols' rings.
func (h *MarketHistory) Record(points ...models.MMarketPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range points {
		rb, ok := h.buffers[p.Symbol]
		if !ok {
			rb = NewRingBuffer(h.capacity)
			h.buffers[p.Symbol] = rb
		}
		rb.Append(p)
	}
}

// -----------------------------------------------------------------------------

// MarketHistory returns up to limit recent points for symbol, oldest first.
func (h *MarketHistory) MarketHistory(symbol string, limit int) []models.MMarketPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rb, ok := h.buffers[symbol]
	if !ok {
		return []models.MMarketPoint{}
	}
	return rb.GetLatest(limit)
}

// Symbols returns the number of symbols tracked.
func (h *MarketHistory) Symbols() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.buffers)
}
