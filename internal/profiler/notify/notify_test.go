package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus()

	var got []Facet
	bus.Subscribe(All, func(f Facet) { got = append(got, f) })

	// Insertion order of the set does not matter.
	bus.Publish(Of(Mode, Session, Device, Stage, Agent, Process))

	assert.Equal(t, []Facet{Device, Process, Session, Agent, Stage, Mode}, got)
}

func TestBus_FiltersByFacet(t *testing.T) {
	bus := NewBus()

	stageCount := 0
	bus.Subscribe(Of(Stage), func(Facet) { stageCount++ })

	bus.Publish(Of(Device, Process))
	assert.Equal(t, 0, stageCount)

	bus.Publish(Of(Stage))
	assert.Equal(t, 1, stageCount)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(All, func(Facet) { count++ })
	bus.Publish(Of(Device))
	unsubscribe()
	unsubscribe()
	bus.Publish(Of(Device))

	assert.Equal(t, 1, count)
}

func TestBus_EmptyPublish(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(All, func(Facet) { t.Fatal("handler should not run") })
	bus.Publish(0)
}

func TestSet_String(t *testing.T) {
	assert.Equal(t, "device,stage", Of(Stage, Device).String())
	assert.True(t, Set(0).Empty())
}
