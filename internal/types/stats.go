package types

// DepthStats summarises the finite, positive samples of a depth image.
type DepthStats struct {
	Valid int     `json:"valid"`
	Min   float32 `json:"min"`
	Max   float32 `json:"max"`
	Mean  float64 `json:"mean"`
}

type FrameStats struct {
	Width    uint32         `json:"width"`
	Height   uint32         `json:"height"`
	Depth    DepthStats     `json:"depth"`
	Coverage map[string]int `json:"coverage"`
	Unmapped int            `json:"unmapped"`
}

// CoverageSnapshot is the running pixel coverage of one object name.
type CoverageSnapshot struct {
	Frames    int     `json:"frames"`
	Pixels    uint64  `json:"pixels"`
	MeanShare float64 `json:"mean_share"`
}
