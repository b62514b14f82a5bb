package sample

// Band is the coarse classification of a sample.
type Band int

const (
	BandLow Band = iota
	BandMid
	BandHigh
)

// Thresholds separating the bands. Both are inclusive upper bounds.
const (
	LowMax = 20
	MidMax = 100
)

// Classify maps a sample value to its band:
// v <= 20 is Low, 20 < v <= 100 is Mid, v > 100 is High.
func Classify(v int) Band {
	switch {
	case v <= LowMax:
		return BandLow
	case v <= MidMax:
		return BandMid
	default:
		return BandHigh
	}
}

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMid:
		return "mid"
	case BandHigh:
		return "high"
	default:
		return "unknown"
	}
}
