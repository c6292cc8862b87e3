package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"rgbd-stream-go/internal/handoff"
	"rgbd-stream-go/internal/packet"
	"rgbd-stream-go/internal/types"
)

const (
	MaxObjects = 255
	// BackgroundDepth is written wherever no object covers a pixel.
	BackgroundDepth = 100

	depthMargin = 0.5
)

var shapes = []string{"Cube", "Sphere", "Cylinder", "Cone", "Mug", "Bowl", "Bottle"}

type object struct {
	id       uint32
	name     string
	mesh     string
	material string
	color    types.Color

	orbit  float64
	phase  float64
	speed  float64
	height float64
	size   float64

	pos [3]float64
	yaw float64
}

// Scene is a synthetic set of objects circling the camera. It stands in for a
// renderer: each Produce call draws the three images, derives the scene graph
// and publishes one frame.
type Scene struct {
	objects []*object
	layout  packet.Layout
	cm      types.ColorMap

	camYaw float64

	color  []byte
	depth  []float32
	depthB []byte
	ids    []byte
}

func NewScene(layout packet.Layout, count int, seed int64) (*Scene, error) {
	if count < 0 || count > MaxObjects {
		return nil, fmt.Errorf("object count %d outside [0, %d]", count, MaxObjects)
	}
	rng := rand.New(rand.NewSource(seed))
	pixels := int(layout.Width) * int(layout.Height)
	s := &Scene{
		layout: layout,
		cm: types.ColorMap{
			Index:  make(map[string]uint32, count),
			Colors: make([]types.Color, 0, count),
		},
		color:  make([]byte, layout.SizeRGB),
		depth:  make([]float32, pixels),
		depthB: make([]byte, layout.SizeFloat),
		ids:    make([]byte, layout.SizeRGB),
	}
	for i := 0; i < count; i++ {
		id := uint32(i + 1)
		shape := shapes[rng.Intn(len(shapes))]
		obj := &object{
			id:       id,
			name:     fmt.Sprintf("%s_%d", shape, id),
			mesh:     "/Game/Meshes/SM_" + shape,
			material: fmt.Sprintf("/Game/Materials/M_%s_%02d", shape, rng.Intn(8)),
			color:    idColor(id),
			orbit:    3 + rng.Float64()*7,
			phase:    rng.Float64() * 2 * math.Pi,
			speed:    (rng.Float64() - 0.5) * 0.6,
			height:   (rng.Float64() - 0.5) * 2,
			size:     0.3 + rng.Float64()*0.7,
		}
		s.cm.Index[obj.name] = uint32(len(s.cm.Colors))
		s.cm.Colors = append(s.cm.Colors, obj.color)
		s.objects = append(s.objects, obj)
	}
	s.Step(0)
	return s, nil
}

// idColor gives every id in [1, 255] its own color. The multipliers are odd,
// so each channel is a bijection on a byte and no id maps to black, which is
// the background.
func idColor(id uint32) types.Color {
	return types.Color{
		R: uint8(id * 37),
		G: uint8(id * 101),
		B: uint8(id * 173),
	}
}

func (s *Scene) ColorMap() types.ColorMap { return s.cm }

// Step moves every object to its position at t seconds.
func (s *Scene) Step(t float64) {
	s.camYaw = 0.05 * t
	for _, obj := range s.objects {
		angle := obj.phase + obj.speed*t
		obj.pos = [3]float64{
			obj.orbit * math.Cos(angle),
			obj.orbit * math.Sin(angle),
			obj.height,
		}
		obj.yaw = math.Mod(angle*180/math.Pi+90, 360)
	}
}

func (s *Scene) Pose() (types.Vector, types.Quaternion) {
	half := s.camYaw / 2
	return types.Vector{}, types.Quaternion{Z: float32(math.Sin(half)), W: float32(math.Cos(half))}
}

// SceneGraph describes the current positions and the pairwise relations as
// seen from the camera.
func (s *Scene) SceneGraph() types.SceneGraph {
	props := make([]types.ObjectProperty, 0, len(s.objects))
	for _, obj := range s.objects {
		props = append(props, types.ObjectProperty{
			ID:       obj.id,
			Mesh:     obj.mesh,
			Material: obj.material,
			Location: [3]float32{float32(obj.pos[0]), float32(obj.pos[1]), float32(obj.pos[2])},
			Rotation: [3]float32{0, 0, float32(obj.yaw)},
		})
	}
	return types.NewSceneGraph(props, s.relations())
}

func (s *Scene) relations() []types.ObjectRelation {
	var out []types.ObjectRelation
	for i, a := range s.objects {
		for _, b := range s.objects[i+1:] {
			side := "right_of"
			if s.azimuth(a) > s.azimuth(b) {
				side = "left_of"
			}
			out = append(out, types.ObjectRelation{ID1: a.id, Relation: side, ID2: b.id})

			switch da, db := distance(a), distance(b); {
			case da < db-depthMargin:
				out = append(out, types.ObjectRelation{ID1: a.id, Relation: "in_front_of", ID2: b.id})
			case da > db+depthMargin:
				out = append(out, types.ObjectRelation{ID1: a.id, Relation: "behind", ID2: b.id})
			}
		}
	}
	return out
}

// azimuth is the object's bearing relative to the camera axis, in radians,
// positive to the left.
func (s *Scene) azimuth(obj *object) float64 {
	a := math.Atan2(obj.pos[1], obj.pos[0]) - s.camYaw
	return math.Remainder(a, 2*math.Pi)
}

func distance(obj *object) float64 {
	return math.Sqrt(obj.pos[0]*obj.pos[0] + obj.pos[1]*obj.pos[1] + obj.pos[2]*obj.pos[2])
}

// Render draws every object as a disc in the color, depth and object-id
// images. Nearer objects win.
func (s *Scene) Render() {
	w, h := int(s.layout.Width), int(s.layout.Height)
	fovX := float64(s.layout.FOVX) * math.Pi / 180
	fovY := float64(s.layout.FOVY) * math.Pi / 180

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			s.depth[i] = BackgroundDepth
			// Background: dim vertical gradient, BGR order.
			s.color[i*3] = uint8(40 + 80*y/h)
			s.color[i*3+1] = 30
			s.color[i*3+2] = 20
			s.ids[i*3], s.ids[i*3+1], s.ids[i*3+2] = 0, 0, 0
		}
	}

	for _, obj := range s.objects {
		az := s.azimuth(obj)
		dist := distance(obj)
		if dist == 0 || math.Abs(az) > fovX/2+obj.size/dist {
			continue
		}
		el := math.Atan2(obj.pos[2], math.Hypot(obj.pos[0], obj.pos[1]))
		cx := (0.5 - az/fovX) * float64(w)
		cy := (0.5 - el/fovY) * float64(h)
		radius := obj.size / dist / fovX * float64(w)
		if radius < 0.5 {
			radius = 0.5
		}
		shade := 1 - math.Min(dist/BackgroundDepth*4, 0.8)

		x0, x1 := clampInt(int(cx-radius), 0, w-1), clampInt(int(cx+radius)+1, 0, w-1)
		y0, y1 := clampInt(int(cy-radius), 0, h-1), clampInt(int(cy+radius)+1, 0, h-1)
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
				if dx*dx+dy*dy > radius*radius {
					continue
				}
				i := y*w + x
				if float32(dist) >= s.depth[i] {
					continue
				}
				s.depth[i] = float32(dist)
				s.color[i*3] = uint8(float64(obj.color.B) * shade)
				s.color[i*3+1] = uint8(float64(obj.color.G) * shade)
				s.color[i*3+2] = uint8(float64(obj.color.R) * shade)
				s.ids[i*3] = obj.color.B
				s.ids[i*3+1] = obj.color.G
				s.ids[i*3+2] = obj.color.R
			}
		}
	}
}

// Produce renders the current state and publishes it as one frame.
func (s *Scene) Produce(w *handoff.Writer) error {
	s.Render()
	if err := packet.EncodeDepth(s.depthB, s.depth); err != nil {
		return err
	}
	if err := w.Write(packet.KindColor, s.color); err != nil {
		return err
	}
	if err := w.Write(packet.KindDepth, s.depthB); err != nil {
		return err
	}
	if err := w.Write(packet.KindObject, s.ids); err != nil {
		return err
	}
	w.SetPose(s.Pose())
	w.SetCaptureTime(packet.Ticks())
	if err := w.Finalize(s.cm, s.SceneGraph()); err != nil {
		return err
	}
	return w.Publish()
}

// Run produces frames at rate per second until ctx ends or the buffer is
// shut down.
func Run(ctx context.Context, w *handoff.Writer, scene *Scene, rate float64, logger *zap.Logger) error {
	if rate <= 0 {
		return fmt.Errorf("tick rate %v must be positive", rate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	frames := 0
	logger.Info("simulator started", zap.Duration("interval", interval), zap.Int("objects", len(scene.objects)))
	for {
		select {
		case <-ctx.Done():
			logger.Info("simulator stopped", zap.Int("frames", frames))
			return nil
		case <-ticker.C:
			scene.Step(time.Since(start).Seconds())
			if err := scene.Produce(w); err != nil {
				if errors.Is(err, handoff.ErrClosed) {
					logger.Info("simulator stopped, buffer closed", zap.Int("frames", frames))
					return nil
				}
				return fmt.Errorf("produce frame %d: %w", frames, err)
			}
			frames++
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
