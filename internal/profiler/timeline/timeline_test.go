package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRange_ClampTo(t *testing.T) {
	data := Range{Min: 10, Max: 20}

	tests := []struct {
		name string
		in   Range
		want Range
	}{
		{name: "inside", in: Range{Min: 12, Max: 15}, want: Range{Min: 12, Max: 15}},
		{name: "wider", in: Range{Min: -100, Max: 100}, want: data},
		{name: "left overlap", in: Range{Min: 0, Max: 15}, want: Range{Min: 10, Max: 15}},
		{name: "disjoint", in: Range{Min: 30, Max: 40}, want: data},
		{name: "empty", in: Range{}, want: data},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.ClampTo(data))
		})
	}
}

func TestTimeline_ResetLive(t *testing.T) {
	tl := New()
	now := int64(100 * time.Second)

	tl.ResetLive(0, now)

	assert.Equal(t, Range{Min: now - DefaultViewLength, Max: now}, tl.View())
	assert.True(t, tl.Streaming())
	assert.False(t, tl.Paused())
}

func TestTimeline_SelectionStopsStreaming(t *testing.T) {
	tl := New()
	tl.ResetLive(0, int64(time.Second))
	assert.True(t, tl.Streaming())

	tl.SetSelection(Range{Min: 0, Max: 10})
	assert.False(t, tl.Streaming())

	tl.SetStreaming(true)
	assert.True(t, tl.Streaming())

	tl.ClearSelection()
	assert.True(t, tl.Selection().IsEmpty())
}

func TestTimeline_PauseRefusesStreaming(t *testing.T) {
	tl := New()
	tl.ResetLive(0, 50)
	tl.Pause(80)

	assert.True(t, tl.Paused())
	assert.Equal(t, Range{Min: 0, Max: 80}, tl.Data())

	tl.SetStreaming(true)
	assert.False(t, tl.Streaming())
}

func TestTimeline_ResetFinishedClamps(t *testing.T) {
	tl := New()
	data := Range{Min: int64(time.Second), Max: int64(2 * time.Second)}

	tl.ResetFinished(data, Range{Min: int64(-10 * time.Second), Max: int64(10 * time.Second)})

	assert.Equal(t, data, tl.View())
	assert.False(t, tl.Streaming())
	assert.True(t, tl.Paused())
}

func TestTimeline_Advance(t *testing.T) {
	tl := New()
	start := int64(42 * time.Second)
	tl.ResetLive(start, start)

	tl.Advance(start + int64(5*time.Second))
	assert.Equal(t, Range{Min: start, Max: start + int64(5*time.Second)}, tl.Data())
	assert.Equal(t, start+int64(5*time.Second), tl.View().Max)
	assert.Equal(t, DefaultViewLength, tl.View().Length())

	// A selection stops streaming, so the view stays put.
	tl.SetSelection(Range{Min: start, Max: start + 1})
	view := tl.View()
	tl.Advance(start + int64(10*time.Second))
	assert.Equal(t, view, tl.View())
	assert.Equal(t, start+int64(10*time.Second), tl.Data().Max)

	tl.Pause(start + int64(10*time.Second))
	tl.Advance(start + int64(20*time.Second))
	assert.Equal(t, start+int64(10*time.Second), tl.Data().Max)
}
