package types

type Vector struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type Quaternion struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
	W float32 `json:"w"`
}

// IdentityQuaternion is the camera rotation with no turn applied.
var IdentityQuaternion = Quaternion{W: 1}

type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ColorMap binds object names to entries of a color table. The object-id
// image paints every pixel of an object with its color, so a consumer can
// turn the image back into names.
type ColorMap struct {
	Index  map[string]uint32
	Colors []Color
}
