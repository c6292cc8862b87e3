package processing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/types"
)

func depthBytes(t *testing.T, values ...float32) []byte {
	t.Helper()
	dst := make([]byte, len(values)*2)
	require.NoError(t, packet.EncodeDepth(dst, values))
	return dst
}

func TestDepthSummary(t *testing.T) {
	nan := float32(math.NaN())
	src := depthBytes(t, 0, 1, 2, 4, nan, 100)

	st := DepthSummary(src, 100)
	assert.Equal(t, 3, st.Valid)
	assert.Equal(t, float32(1), st.Min)
	assert.Equal(t, float32(4), st.Max)
	assert.InDelta(t, 7.0/3, st.Mean, 1e-9)

	st = DepthSummary(src, 0)
	assert.Equal(t, 4, st.Valid)
	assert.Equal(t, float32(100), st.Max)

	assert.Equal(t, types.DepthStats{}, DepthSummary(depthBytes(t, 0, nan), 0))
}

func TestProcessPacketCoverage(t *testing.T) {
	mug := types.Color{R: 200, G: 10, B: 5}
	bowl := types.Color{R: 1, G: 2, B: 3}
	p := &packet.Packet{
		Header: packet.Header{Width: 2, Height: 2},
		Depth:  depthBytes(t, 1, 2, 3, 100),
		// BGR: mug, mug, background, something unmapped.
		Object: []byte{5, 10, 200, 5, 10, 200, 0, 0, 0, 9, 9, 9},
		MapEntries: []packet.MapEntry{
			{Name: "Mug_1", Color: mug},
			{Name: "Bowl_2", Color: bowl},
		},
	}
	st, ok := ProcessPacket(p, 100)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"Mug_1": 2, "Bowl_2": 0}, st.Coverage)
	assert.Equal(t, 1, st.Unmapped)
	assert.Equal(t, 3, st.Depth.Valid)

	_, ok = ProcessPacket(&packet.Packet{Header: packet.Header{Width: 2, Height: 2}}, 0)
	assert.False(t, ok)
}

func TestAggregator(t *testing.T) {
	a := NewAggregator()
	a.AddFrame(types.FrameStats{Width: 10, Height: 10, Coverage: map[string]int{"a": 10, "b": 0}})
	a.AddFrame(types.FrameStats{Width: 10, Height: 10, Coverage: map[string]int{"a": 30}})

	assert.Equal(t, 2, a.Frames())
	snap := a.SnapshotCopy()
	assert.Equal(t, 2, snap["a"].Frames)
	assert.Equal(t, uint64(40), snap["a"].Pixels)
	assert.InDelta(t, 0.2, snap["a"].MeanShare, 1e-12)
	assert.Equal(t, types.CoverageSnapshot{Frames: 1}, snap["b"])
	assert.Equal(t, 30, a.Last().Coverage["a"])

	a.Reset()
	assert.Zero(t, a.Frames())
	assert.Empty(t, a.SnapshotCopy())
}
