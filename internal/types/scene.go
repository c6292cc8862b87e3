package types

// ObjectProperty is the pose and asset description of one tracked object.
// Rotation is stored roll, pitch, yaw.
type ObjectProperty struct {
	ID       uint32     `json:"id"`
	Mesh     string     `json:"mesh"`
	Material string     `json:"material"`
	Location [3]float32 `json:"location"`
	Rotation [3]float32 `json:"rotation"`
}

type ObjectDescription struct {
	Properties []ObjectProperty `json:"properties"`
}

// ObjectRelation is a directed, labeled edge ID1 -Relation-> ID2.
type ObjectRelation struct {
	ID1      uint32 `json:"id1"`
	Relation string `json:"relation"`
	ID2      uint32 `json:"id2"`
}

// SceneGraph is the per-frame annotation: every tracked object and the
// relations between them. It is rebuilt by the producer every frame and only
// read by the packet encoder.
type SceneGraph struct {
	Objects   []ObjectDescription `json:"objects"`
	Relations []ObjectRelation    `json:"relations"`
}

// NewSceneGraph builds a graph holding one description per property, which is
// how producers describe objects today.
func NewSceneGraph(props []ObjectProperty, relations []ObjectRelation) SceneGraph {
	objects := make([]ObjectDescription, 0, len(props))
	for _, p := range props {
		objects = append(objects, ObjectDescription{Properties: []ObjectProperty{p}})
	}
	return SceneGraph{
		Objects:   objects,
		Relations: append([]ObjectRelation(nil), relations...),
	}
}
