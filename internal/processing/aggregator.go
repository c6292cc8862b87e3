package processing

import (
	"sync"
	"time"

	"rgbd-stream-go/internal/types"
)

type coverageData struct {
	frames int
	pixels uint64
	share  float64
}

// Aggregator accumulates per-object coverage across frames. It is safe for
// concurrent use so HTTP handlers can snapshot it while frames arrive.
type Aggregator struct {
	mu     sync.Mutex
	frames int
	last   types.FrameStats
	data   map[string]*coverageData
}

func NewAggregator() *Aggregator {
	return &Aggregator{data: make(map[string]*coverageData)}
}

func (a *Aggregator) AddFrame(stats types.FrameStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := float64(stats.Width) * float64(stats.Height)
	for name, pixels := range stats.Coverage {
		cd, ok := a.data[name]
		if !ok {
			cd = &coverageData{}
			a.data[name] = cd
		}
		cd.frames++
		cd.pixels += uint64(pixels)
		if total > 0 {
			cd.share += float64(pixels) / total
		}
	}
	a.frames++
	a.last = stats
}

func (a *Aggregator) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

func (a *Aggregator) Last() types.FrameStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frames = 0
	a.last = types.FrameStats{}
	a.data = make(map[string]*coverageData)
}

func (a *Aggregator) SnapshotCopy() map[string]types.CoverageSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	snapshot := make(map[string]types.CoverageSnapshot, len(a.data))
	for name, cd := range a.data {
		snap := types.CoverageSnapshot{Frames: cd.frames, Pixels: cd.pixels}
		if cd.frames > 0 {
			snap.MeanShare = cd.share / float64(cd.frames)
		}
		snapshot[name] = snap
	}
	return snapshot
}

func Timestamp() string {
	return time.Now().Format("20060102_150405")
}
