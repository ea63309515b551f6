// Package recovery projects when a regenerating paint charge reaches capacity.
package recovery

import (
	"math"
	"time"
)

// RatePerUnit is the time one unit of charge takes to regenerate.
const RatePerUnit = 30 * time.Second

type Projection struct {
	Missing float64
	ETA     time.Duration
	FullAt  time.Time
}

func (p Projection) Full() bool { return p.Missing == 0 }

// Seconds returns the ETA in seconds.
func (p Projection) Seconds() float64 { return p.ETA.Seconds() }

func Project(current, max float64, now time.Time) Projection {
	current, max = sanitize(current), sanitize(max)
	missing := math.Max(0, max-current)
	eta := time.Duration(missing * float64(RatePerUnit))
	return Projection{Missing: missing, ETA: eta, FullAt: now.Add(eta)}
}

// NextLevelPixels estimates the pixels still needed to reach the next level.
func NextLevelPixels(level int, pixelsPainted int64) int64 {
	target := math.Pow(float64(level)*math.Pow(30, 0.65), 1/0.65)
	// pow round-trips leave noise like 30.000000000000004
	target = math.Round(target*1e6) / 1e6
	need := int64(math.Ceil(target - float64(pixelsPainted)))
	if need < 0 {
		return 0
	}
	return need
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
