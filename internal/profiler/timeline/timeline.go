// Package timeline tracks the data, view and selection ranges of the session
// being displayed. All values are nanoseconds on the device clock.
package timeline

import (
	"sync"
	"time"
)

// DefaultViewLength is the trailing window shown while a session streams.
const DefaultViewLength = int64(30 * time.Second)

// Range is a closed interval [Min, Max]. The zero Range is empty.
type Range struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// IsEmpty reports whether the range covers nothing.
func (r Range) IsEmpty() bool {
	return r.Max <= r.Min
}

// Length returns Max-Min, or zero for an empty range.
func (r Range) Length() int64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Max - r.Min
}

// Intersect returns the overlap of r and o, which may be empty.
func (r Range) Intersect(o Range) Range {
	out := Range{Min: max(r.Min, o.Min), Max: min(r.Max, o.Max)}
	if out.IsEmpty() {
		return Range{}
	}
	return out
}

// ClampTo returns r restricted to bounds, or bounds itself when they do not
// overlap or r extends past both ends.
func (r Range) ClampTo(bounds Range) Range {
	out := r.Intersect(bounds)
	if out.IsEmpty() {
		return bounds
	}
	return out
}

// Timeline is safe for concurrent use.
type Timeline struct {
	mu        sync.RWMutex
	data      Range
	view      Range
	selection Range
	streaming bool
	paused    bool
}

// New returns a paused, empty timeline.
func New() *Timeline {
	return &Timeline{paused: true}
}

// ResetLive shows the trailing default window ending at nowNs and resumes
// streaming.
func (t *Timeline) ResetLive(startNs, nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = Range{Min: startNs, Max: nowNs}
	t.view = Range{Min: nowNs - DefaultViewLength, Max: nowNs}
	t.selection = Range{}
	t.paused = false
	t.streaming = true
}

// ResetFinished shows view (clamped to the data range) and stops streaming.
func (t *Timeline) ResetFinished(data, view Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = data
	t.view = view.ClampTo(data)
	t.selection = Range{}
	t.paused = true
	t.streaming = false
}

// Advance extends a live data range to nowNs. While streaming, the view
// slides to keep its length and end at nowNs.
func (t *Timeline) Advance(nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused || nowNs <= t.data.Max {
		return
	}
	t.data.Max = nowNs
	if t.streaming {
		length := t.view.Max - t.view.Min
		t.view = Range{Min: nowNs - length, Max: nowNs}
	}
}

// Pause freezes the data range at endNs, as when the session ends.
func (t *Timeline) Pause(endNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if endNs > t.data.Min {
		t.data.Max = endNs
	}
	t.paused = true
	t.streaming = false
}

// Clear empties every range.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data, t.view, t.selection = Range{}, Range{}, Range{}
	t.paused = true
	t.streaming = false
}

// SetView moves the view window.
func (t *Timeline) SetView(r Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view = r
}

// View returns the current view window.
func (t *Timeline) View() Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.view
}

// Data returns the current data range.
func (t *Timeline) Data() Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data
}

// SetSelection selects a range. A selection stops streaming.
func (t *Timeline) SetSelection(r Range) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selection = r
	t.streaming = false
}

// ClearSelection drops the current selection.
func (t *Timeline) ClearSelection() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.selection = Range{}
}

// Selection returns the selected range.
func (t *Timeline) Selection() Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.selection
}

// SetStreaming toggles auto-scroll. Streaming is refused while paused.
func (t *Timeline) SetStreaming(streaming bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaming = streaming && !t.paused
}

// Streaming reports whether the view follows new data.
func (t *Timeline) Streaming() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaming
}

// Paused reports whether the data range is frozen.
func (t *Timeline) Paused() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paused
}
