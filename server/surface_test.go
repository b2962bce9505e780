package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleSurfacePostFetchDelete(t *testing.T) {
	surface := NewConsoleSurface("bot")

	ref, err := surface.Send("chan1", "hello")
	require.NoError(t, err)

	item, err := surface.Fetch(ref)
	require.NoError(t, err)
	assert.Equal(t, "hello", item.Content)
	assert.Equal(t, "bot", item.Author)

	require.NoError(t, surface.Delete(ref))
	_, err = surface.Fetch(ref)
	assert.Error(t, err)
	assert.Error(t, surface.Delete(ref), "second delete fails harmlessly")
}

func TestConsoleSurfacePendingOrder(t *testing.T) {
	surface := NewConsoleSurface("bot")

	first, _ := surface.Send("chan1", "one")
	second, _ := surface.Send("chan1", "two")
	third, _ := surface.Send("chan1", "three")
	surface.Send("chan2", "elsewhere")

	require.NoError(t, surface.Delete(second))

	pending := surface.Pending("chan1")
	require.Len(t, pending, 2)
	assert.Equal(t, first.ItemID, pending[0].Ref.ItemID)
	assert.Equal(t, third.ItemID, pending[1].Ref.ItemID)

	assert.Equal(t, []string{"chan1", "chan2"}, surface.Channels())
}

func TestConsoleSurfaceReactNeedsLiveItem(t *testing.T) {
	surface := NewConsoleSurface("bot")

	ref, _ := surface.Send("chan1", "item")
	require.NoError(t, surface.React(ref, "✅"))
	require.NoError(t, surface.Delete(ref))
	assert.Error(t, surface.React(ref, "✅"))
}
