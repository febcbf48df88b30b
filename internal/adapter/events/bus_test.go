package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBusDelivers(t *testing.T) {
	bus := NewLocalBus()

	var got [][]byte
	unsubscribe, err := bus.Subscribe("transmission.created", func(data []byte) {
		got = append(got, data)
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish("transmission.created", []byte("one")))
	require.NoError(t, bus.Publish("other.subject", []byte("ignored")))
	assert.Equal(t, [][]byte{[]byte("one")}, got)

	unsubscribe()
	require.NoError(t, bus.Publish("transmission.created", []byte("two")))
	assert.Len(t, got, 1)
}

func TestLocalBusFanOut(t *testing.T) {
	bus := NewLocalBus()

	count := 0
	for i := 0; i < 3; i++ {
		_, err := bus.Subscribe("s", func([]byte) { count++ })
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish("s", nil))
	assert.Equal(t, 3, count)
}
