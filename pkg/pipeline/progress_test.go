package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe(7)
	other, cancelOther := h.Subscribe(8)
	defer cancelOther()

	h.Publish(Progress{PlaceID: 7, Stage: "wikipedia", Message: "loading items"})
	h.Publish(Progress{PlaceID: 7, Stage: "tags"})
	h.Publish(Progress{PlaceID: 7, Stage: "dropped"})

	require.Len(t, ch, 2)
	assert.Equal(t, "wikipedia", (<-ch).Stage)
	assert.Equal(t, "tags", (<-ch).Stage)
	assert.Empty(t, other, "updates are scoped to a place")

	assert.Equal(t, 1, h.Subscribers(7))
	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers(7))
	_, open := <-ch
	assert.False(t, open)

	h.Publish(Progress{PlaceID: 7})
}
