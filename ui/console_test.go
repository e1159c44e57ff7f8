package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filenet/network"
)

func TestConsolePrintsInfoLines(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out)

	console.Info("Linked with desk (10.0.0.2)")
	assert.Equal(t, "Linked with desk (10.0.0.2)\n", out.String())
}

func TestConsoleTracksProgressAndFinishes(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out)

	console.Progress(network.DirectionReceive, 3, "photo.png", 1, 4)
	snapshot, ok := console.Snapshot(network.DirectionReceive, 3)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snapshot.Done)
	assert.False(t, snapshot.Completed)
	assert.Len(t, console.bars, 1)

	console.Progress(network.DirectionReceive, 3, "photo.png", 4, 4)
	snapshot, ok = console.Snapshot(network.DirectionReceive, 3)
	require.True(t, ok)
	assert.True(t, snapshot.Completed)
	assert.Empty(t, console.bars)
	assert.Contains(t, out.String(), "photo.png")

	_, ok = console.Snapshot(network.DirectionSend, 3)
	assert.False(t, ok, "directions are tracked separately")
}

func TestConsoleQuietModeSuppressesOutput(t *testing.T) {
	var out bytes.Buffer
	console := NewConsole(&out)

	console.SetVisible(false)
	assert.False(t, console.Visible())
	console.Info("hidden line")
	console.Progress(network.DirectionSend, 1, "a.bin", 1, 2)
	assert.Empty(t, out.String())

	snapshot, ok := console.Snapshot(network.DirectionSend, 1)
	require.True(t, ok, "progress is still tracked while hidden")
	assert.Equal(t, uint64(1), snapshot.Done)

	console.SetVisible(true)
	console.Info("shown line")
	assert.Equal(t, "shown line\n", out.String())
}
