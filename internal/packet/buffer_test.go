package packet

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"rgbd-stream-go/internal/types"
)

func newTestBuffer(t *testing.T, width, height uint32) *Buffer {
	t.Helper()
	l, err := NewLayout(width, height, 90)
	require.NoError(t, err)
	return NewBuffer(l)
}

func TestNewBufferHeader(t *testing.T) {
	b := newTestBuffer(t, 8, 4)
	h, err := DecodeHeader(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, b.Header(), h)
	require.Equal(t, uint32(b.Layout().FixedSize()), h.Size)
	require.Equal(t, uint32(8), h.Width)
	require.Equal(t, uint32(4), h.Height)
	require.Equal(t, float32(90), h.FieldOfViewX)
	require.Equal(t, float32(45), h.FieldOfViewY)
	require.Equal(t, b.Layout().FixedSize()+GrowIncrement, b.Cap())
}

func TestBufferWriteImageSections(t *testing.T) {
	b := newTestBuffer(t, 4, 2)

	require.NoError(t, b.Write(KindColor, bytes.Repeat([]byte{1}, 24)))
	require.NoError(t, b.Write(KindDepth, bytes.Repeat([]byte{2}, 16)))
	require.NoError(t, b.Fill(KindObject, func(dst []byte) {
		require.Len(t, dst, 24)
		for i := range dst {
			dst[i] = 3
		}
	}))

	err := b.Write(KindColor, make([]byte, 25))
	require.Error(t, err)

	for _, kind := range []Kind{KindHeader, KindMap, KindSceneGraph} {
		err := b.Write(kind, []byte{1})
		require.True(t, errors.Is(err, ErrNotImageSection), kind.String())
	}

	require.NoError(t, b.Finalize(types.ColorMap{}, types.SceneGraph{}))
	p, err := Decode(b.Bytes())
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{1}, 24), p.Color)
	require.Equal(t, bytes.Repeat([]byte{2}, 16), p.Depth)
	require.Equal(t, bytes.Repeat([]byte{3}, 24), p.Object)
}

func TestFinalizeHeaderConsistency(t *testing.T) {
	cases := []struct {
		width, height uint32
		cm            types.ColorMap
		sg            types.SceneGraph
	}{
		{1, 1, types.ColorMap{}, types.SceneGraph{}},
		{4, 2, sampleColorMap(), sampleSceneGraph()},
		{64, 48, sampleColorMap(), types.SceneGraph{}},
		{3, 7, types.ColorMap{}, sampleSceneGraph()},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%dx%d", tc.width, tc.height), func(t *testing.T) {
			b := newTestBuffer(t, tc.width, tc.height)
			require.NoError(t, b.Finalize(tc.cm, tc.sg))

			_, mapSize, err := MapSectionSize(tc.cm)
			require.NoError(t, err)
			_, _, sgSize := SceneGraphSize(tc.sg)

			h := b.Header()
			l := b.Layout()
			require.Equal(t, uint32(HeaderSize+2*l.SizeRGB+l.SizeFloat+mapSize+sgSize), h.Size)
			require.Len(t, b.Bytes(), int(h.Size))
			require.Equal(t, b.Section(KindSceneGraph).End(), int(h.Size))
			require.Equal(t, b.Section(KindMap).End(), b.Section(KindSceneGraph).Offset)

			p, err := Decode(b.Bytes())
			require.NoError(t, err)
			require.Len(t, p.MapEntries, len(tc.cm.Index))
			require.Len(t, p.SceneGraph.Objects, len(tc.sg.Objects))
			require.Len(t, p.SceneGraph.Relations, len(tc.sg.Relations))
		})
	}
}

func TestFinalizeRejectsBadColorMapWithoutChange(t *testing.T) {
	b := newTestBuffer(t, 4, 2)
	require.NoError(t, b.Finalize(sampleColorMap(), sampleSceneGraph()))
	before := append([]byte(nil), b.Bytes()...)

	err := b.Finalize(types.ColorMap{Index: map[string]uint32{"x": 9}}, types.SceneGraph{})
	require.True(t, errors.Is(err, ErrColorIndex))
	require.Equal(t, before, b.Bytes())
}

func largeSceneGraph(objects int, pathLen int) types.SceneGraph {
	props := make([]types.ObjectProperty, objects)
	var rels []types.ObjectRelation
	for i := range props {
		props[i] = types.ObjectProperty{
			ID:       uint32(i),
			Mesh:     fmt.Sprintf("/Game/Mesh/%d/%s", i, strings.Repeat("m", pathLen)),
			Material: fmt.Sprintf("/Game/Mat/%d", i),
			Location: [3]float32{float32(i), float32(2 * i), float32(3 * i)},
			Rotation: [3]float32{0, float32(i % 360), 0},
		}
		if i > 0 {
			rels = append(rels, types.ObjectRelation{ID1: uint32(i - 1), Relation: "left_of", ID2: uint32(i)})
		}
	}
	return types.NewSceneGraph(props, rels)
}

func TestFinalizeGrowsInFixedIncrements(t *testing.T) {
	b := newTestBuffer(t, 16, 16)
	initial := b.Cap()

	color := bytes.Repeat([]byte{0xAB}, b.Layout().SizeRGB)
	require.NoError(t, b.Write(KindColor, color))

	lastSize := 0
	for _, objects := range []int{10, 1000, 5000, 20000, 40000} {
		sg := largeSceneGraph(objects, 32)
		require.NoError(t, b.Finalize(sampleColorMap(), sg))

		_, _, sgSize := SceneGraphSize(sg)
		require.Greater(t, sgSize, lastSize)
		lastSize = sgSize

		require.GreaterOrEqual(t, b.Cap(), int(b.Header().Size))
		require.Zero(t, (b.Cap()-initial)%GrowIncrement, "capacity grows by whole increments")
		require.Less(t, b.Cap()-int(b.Header().Size), GrowIncrement+initial)

		mapSec, sgSec := b.Section(KindMap), b.Section(KindSceneGraph)
		require.Equal(t, b.Layout().FixedSize(), mapSec.Offset)
		require.Equal(t, mapSec.End(), sgSec.Offset)
		require.LessOrEqual(t, sgSec.End(), b.Cap())

		p, err := Decode(b.Bytes())
		require.NoError(t, err)
		require.Equal(t, color, p.Color, "image bytes survive growth")
		if diff := cmp.Diff(sg, p.SceneGraph); diff != "" {
			t.Fatalf("scene graph mismatch after growth (-want +got):\n%s", diff)
		}
	}
	require.Greater(t, b.Grows(), 0)
	require.Greater(t, b.Cap(), initial)
}

func TestFinalizeNeverShrinks(t *testing.T) {
	b := newTestBuffer(t, 4, 4)
	require.NoError(t, b.Finalize(types.ColorMap{}, largeSceneGraph(30000, 16)))
	grown := b.Cap()
	require.NoError(t, b.Finalize(types.ColorMap{}, types.SceneGraph{}))
	require.Equal(t, grown, b.Cap())
	require.Equal(t, uint32(b.Layout().FixedSize()), b.Header().Size)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	b := newTestBuffer(t, 2, 2)
	require.NoError(t, b.Finalize(sampleColorMap(), sampleSceneGraph()))
	raw := append([]byte(nil), b.Bytes()...)

	// Claim one more byte than the sections account for.
	h := b.Header()
	h.Size++
	raw = append(raw, 0)
	require.NoError(t, PutHeader(raw, h))
	_, err := Decode(raw)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestDecodeRejectsImpossibleDimensions(t *testing.T) {
	raw := make([]byte, HeaderSize)
	require.NoError(t, PutHeader(raw, Header{Size: HeaderSize, SizeHeader: HeaderSize, Width: 1 << 20, Height: 1 << 20}))
	_, err := Decode(raw)
	require.True(t, errors.Is(err, ErrCorrupt))
}

func TestDepthRoundTrip(t *testing.T) {
	depth := []float32{0, 0.5, 1, 2.25, 1024, -3}
	buf := make([]byte, len(depth)*2)
	require.NoError(t, EncodeDepth(buf, depth))
	require.Equal(t, depth, DecodeDepth(nil, buf))

	require.Error(t, EncodeDepth(buf[:3], depth))
}
