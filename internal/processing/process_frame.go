package processing

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/types"
)

// ProcessPacket computes depth statistics and per-object pixel coverage for
// one decoded packet. Depth samples at or beyond maxDepth count as background;
// maxDepth <= 0 disables that cutoff.
func ProcessPacket(p *packet.Packet, maxDepth float32) (types.FrameStats, bool) {
	pixels := int(p.Header.Width) * int(p.Header.Height)
	if pixels == 0 || len(p.Depth) < pixels*2 || len(p.Object) < pixels*3 {
		return types.FrameStats{}, false
	}
	return types.FrameStats{
		Width:    p.Header.Width,
		Height:   p.Header.Height,
		Depth:    DepthSummary(p.Depth[:pixels*2], maxDepth),
		Coverage: coverage(p.Object[:pixels*3], p.MapEntries),
		Unmapped: unmapped(p.Object[:pixels*3], p.MapEntries),
	}, true
}

func DepthSummary(src []byte, maxDepth float32) types.DepthStats {
	var st types.DepthStats
	var sum float64
	for i := 0; i+1 < len(src); i += 2 {
		v := float16.Frombits(binary.LittleEndian.Uint16(src[i:])).Float32()
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) || v <= 0 {
			continue
		}
		if maxDepth > 0 && v >= maxDepth {
			continue
		}
		if st.Valid == 0 || v < st.Min {
			st.Min = v
		}
		if v > st.Max {
			st.Max = v
		}
		sum += float64(v)
		st.Valid++
	}
	if st.Valid > 0 {
		st.Mean = sum / float64(st.Valid)
	}
	return st
}

// bgrKey packs a pixel of the object-id image, stored blue first.
func bgrKey(b, g, r uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func colorKey(c types.Color) uint32 {
	return bgrKey(c.B, c.G, c.R)
}

func coverage(ids []byte, entries []packet.MapEntry) map[string]int {
	byColor := make(map[uint32]string, len(entries))
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		byColor[colorKey(e.Color)] = e.Name
		out[e.Name] = 0
	}
	for i := 0; i+2 < len(ids); i += 3 {
		if name, ok := byColor[bgrKey(ids[i], ids[i+1], ids[i+2])]; ok {
			out[name]++
		}
	}
	return out
}

// unmapped counts non-black pixels whose color is missing from the map.
func unmapped(ids []byte, entries []packet.MapEntry) int {
	known := make(map[uint32]struct{}, len(entries)+1)
	known[0] = struct{}{}
	for _, e := range entries {
		known[colorKey(e.Color)] = struct{}{}
	}
	n := 0
	for i := 0; i+2 < len(ids); i += 3 {
		if _, ok := known[bgrKey(ids[i], ids[i+1], ids[i+2])]; !ok {
			n++
		}
	}
	return n
}
