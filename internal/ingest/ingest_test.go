package ingest

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/publish"
	"rgbd-stream-go/internal/types"
)

func encode(t *testing.T, m publish.Message) []byte {
	t.Helper()
	data, err := publish.Encode(m)
	require.NoError(t, err)
	return data
}

func testPacket(t *testing.T) (packet.Layout, []byte) {
	t.Helper()
	layout, err := packet.NewLayout(4, 2, 90)
	require.NoError(t, err)
	buf := packet.NewBuffer(layout)
	cm := types.ColorMap{
		Index:  map[string]uint32{"Cube_1": 0},
		Colors: []types.Color{{R: 37, G: 101, B: 173}},
	}
	sg := types.NewSceneGraph(
		[]types.ObjectProperty{{ID: 1, Mesh: "/Game/Meshes/SM_Cube", Material: "/Game/Materials/M_Cube_00"}},
		nil,
	)
	require.NoError(t, buf.Finalize(cm, sg))
	return layout, append([]byte(nil), buf.Bytes()...)
}

func TestDecoderSession(t *testing.T) {
	layout, pkt := testPacket(t)
	d := NewDecoder(nil)

	_, ok, err := d.Decode(encode(t, publish.StartMessage("s1", layout)))
	require.NoError(t, err)
	assert.False(t, ok)

	frame, ok, err := d.Decode(encode(t, publish.FrameMessage("s1", 1, pkt)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", frame.Session)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, pkt, frame.Raw)
	require.Len(t, frame.Packet.MapEntries, 1)
	assert.Equal(t, "Cube_1", frame.Packet.MapEntries[0].Name)
	assert.Nil(t, frame.Preview)

	_, ok, err = d.Decode(encode(t, publish.FrameMessage("s1", 4, pkt)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), d.Gaps())
	assert.Equal(t, uint64(2), d.Frames())

	_, _, err = d.Decode(encode(t, publish.FrameMessage("s1", 4, pkt)))
	require.ErrorIs(t, err, ErrSequence)

	_, ok, err = d.Decode(encode(t, publish.EndMessage("s1", 4)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecoderJoinsMidSession(t *testing.T) {
	_, pkt := testPacket(t)
	d := NewDecoder(nil)

	frame, ok, err := d.Decode(encode(t, publish.FrameMessage("late", 17, pkt)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(17), frame.Seq)
	assert.Zero(t, d.Gaps())
}

func TestDecoderRejectsSeqZeroWithoutAdopting(t *testing.T) {
	_, pkt := testPacket(t)
	d := NewDecoder(nil)

	_, ok, err := d.Decode(encode(t, publish.FrameMessage("late", 0, pkt)))
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrSequence)

	// The session must still be joinable by its next real frame.
	frame, ok, err := d.Decode(encode(t, publish.FrameMessage("late", 1, pkt)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Zero(t, d.Gaps())
}

func TestDecoderRejectsBadDigest(t *testing.T) {
	_, pkt := testPacket(t)
	msg := publish.FrameMessage("s1", 1, pkt)
	msg.Digest++

	_, ok, err := NewDecoder(nil).Decode(encode(t, msg))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDigest)
}

func TestDecoderRejectsCorruptPacket(t *testing.T) {
	_, pkt := testPacket(t)
	pkt = pkt[:len(pkt)-1]

	_, ok, err := NewDecoder(nil).Decode(encode(t, publish.FrameMessage("s1", 1, pkt)))
	assert.False(t, ok)
	assert.ErrorIs(t, err, packet.ErrCorrupt)
}

func TestDecoderRejectsUnknownType(t *testing.T) {
	_, _, err := NewDecoder(nil).Decode(encode(t, publish.Message{Type: "image"}))
	require.Error(t, err)

	garbage, err := cbor.Marshal([]int{1, 2, 3})
	require.NoError(t, err)
	_, _, err = NewDecoder(nil).Decode(garbage)
	require.Error(t, err)
}

func TestDecoderReadsPreview(t *testing.T) {
	_, pkt := testPacket(t)
	preview, err := publish.DepthPreview(pkt, 4)
	require.NoError(t, err)
	msg := publish.FrameMessage("s1", 1, pkt)
	msg.Preview = preview

	frame, ok, err := NewDecoder(nil).Decode(encode(t, msg))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, frame.Preview, 2)
	assert.Len(t, frame.Preview[0], 4)
}
