package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"rgbd-stream-go/internal/packet"
)

// WriteAnnotation writes a text summary of one decoded packet: pose, color
// map and scene graph. It is meant for spot-checking what a run produced.
func WriteAnnotation(outputDir string, runTimestamp string, seq uint64, p *packet.Packet) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_frame_%06d.txt", runTimestamp, seq))
	f, err := os.Create(filename)
	if err != nil {
		return "", err
	}

	h := p.Header
	_, _ = fmt.Fprintf(f, "frame %d %dx%d fov %.3f/%.3f capture %d sent %d\n",
		seq, h.Width, h.Height, h.FieldOfViewX, h.FieldOfViewY, h.TimestampCapture, h.TimestampSent)
	_, _ = fmt.Fprintf(f, "pose t=(%.4f, %.4f, %.4f) q=(%.4f, %.4f, %.4f, %.4f)\n",
		h.Translation.X, h.Translation.Y, h.Translation.Z,
		h.Rotation.X, h.Rotation.Y, h.Rotation.Z, h.Rotation.W)

	_, _ = fmt.Fprintln(f, "\nname, r, g, b")
	for _, e := range p.MapEntries {
		_, _ = fmt.Fprintf(f, "%s, %d, %d, %d\n", e.Name, e.Color.R, e.Color.G, e.Color.B)
	}

	_, _ = fmt.Fprintln(f, "\nid, mesh, material, x, y, z, roll, pitch, yaw")
	for _, obj := range p.SceneGraph.Objects {
		for _, prop := range obj.Properties {
			_, _ = fmt.Fprintf(f, "%d, %s, %s, %.4f, %.4f, %.4f, %.2f, %.2f, %.2f\n",
				prop.ID, prop.Mesh, prop.Material,
				prop.Location[0], prop.Location[1], prop.Location[2],
				prop.Rotation[0], prop.Rotation[1], prop.Rotation[2])
		}
	}

	rels := append(p.SceneGraph.Relations[:0:0], p.SceneGraph.Relations...)
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].ID1 != rels[j].ID1 {
			return rels[i].ID1 < rels[j].ID1
		}
		return rels[i].ID2 < rels[j].ID2
	})
	_, _ = fmt.Fprintln(f, "\nid1, relation, id2")
	for _, rel := range rels {
		_, _ = fmt.Fprintf(f, "%d, %s, %d\n", rel.ID1, rel.Relation, rel.ID2)
	}
	return filename, f.Close()
}
