package antplus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartRateAdapter_AttachesToExistingDevice(t *testing.T) {
	collection := NewMockCollection()
	strap := NewMockDevice(7, ProfileHeartRate)
	collection.AddDevice(strap)

	adapter := NewHeartRateAdapter(collection, testLogger())
	defer adapter.Disconnect()

	require.True(t, adapter.Attached())
	id, ok := adapter.DeviceID()
	require.True(t, ok)
	assert.Equal(t, uint16(7), id)

	ch := make(chan int, 4)
	adapter.Listen(ch)
	strap.EmitHeartRate(131)
	assert.Equal(t, 131, receiveWithin(t, ch, time.Second))
}

func TestHeartRateAdapter_RetriesOnCollectionChange(t *testing.T) {
	collection := NewMockCollection()
	adapter := NewHeartRateAdapter(collection, testLogger())
	defer adapter.Disconnect()
	assert.False(t, adapter.Attached())

	collection.AddDevice(NewMockDevice(1, ProfileUnknown))
	assert.False(t, adapter.Attached(), "non heart rate devices are skipped")

	strap := NewMockDevice(2, ProfileHeartRate)
	collection.AddDevice(strap)
	require.True(t, adapter.Attached())
	assert.Equal(t, 1, strap.PropertyListenerCount())

	// a second strap does not steal the attachment
	other := NewMockDevice(3, ProfileHeartRate)
	collection.AddDevice(other)
	id, _ := adapter.DeviceID()
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, 0, other.PropertyListenerCount())
}

func TestHeartRateAdapter_FiltersChanges(t *testing.T) {
	collection := NewMockCollection()
	strap := NewMockDevice(4, ProfileHeartRate)
	collection.AddDevice(strap)
	adapter := NewHeartRateAdapter(collection, testLogger())
	defer adapter.Disconnect()

	ch := make(chan int, 4)
	adapter.Listen(ch)

	strap.Emit(PropertyChange{Property: PropertySignal, ComputedHeartRate: 99})
	strap.EmitHeartRate(0)
	strap.EmitHeartRate(-5)
	assertNothingWithin(t, ch, 50*time.Millisecond)

	strap.EmitHeartRate(88)
	assert.Equal(t, 88, receiveWithin(t, ch, time.Second))
}

func TestHeartRateAdapter_Disconnect(t *testing.T) {
	collection := NewMockCollection()
	strap := NewMockDevice(5, ProfileHeartRate)
	collection.AddDevice(strap)
	adapter := NewHeartRateAdapter(collection, testLogger())

	ch := make(chan int, 4)
	adapter.Listen(ch)
	require.Equal(t, 1, collection.ChangeListenerCount())
	require.Equal(t, 1, strap.PropertyListenerCount())

	adapter.Disconnect()
	adapter.Disconnect()

	assert.False(t, adapter.Attached())
	assert.Equal(t, 0, collection.ChangeListenerCount())
	assert.Equal(t, 0, strap.PropertyListenerCount())

	strap.EmitHeartRate(120)
	assertNothingWithin(t, ch, 50*time.Millisecond)

	collection.AddDevice(NewMockDevice(6, ProfileHeartRate))
	assert.False(t, adapter.Attached())
}

func TestHeartRateAdapter_ReattachesAfterDeviceLeaves(t *testing.T) {
	collection := NewMockCollection()
	first := NewMockDevice(5, ProfileHeartRate)
	collection.AddDevice(first)
	adapter := NewHeartRateAdapter(collection, testLogger())
	defer adapter.Disconnect()

	attached := make(chan bool, 4)
	adapter.ListenAttached(attached)
	require.True(t, <-attached)

	collection.RemoveDevice(5)
	assert.False(t, adapter.Attached())
	assert.Equal(t, 0, first.PropertyListenerCount())
	select {
	case v := <-attached:
		assert.False(t, v)
	case <-time.After(time.Second):
		require.FailNow(t, "no detach event")
	}

	second := NewMockDevice(5, ProfileHeartRate)
	collection.AddDevice(second)
	require.True(t, adapter.Attached())

	ch := make(chan int, 4)
	adapter.Listen(ch)
	second.EmitHeartRate(88)
	assert.Equal(t, 88, receiveWithin(t, ch, time.Second))
}
