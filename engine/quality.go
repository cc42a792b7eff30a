package engine

import (
	"fmt"
	"strings"
)

// Quality is the integer scale applied to native page dimensions
type Quality int

const (
	QualityLow    Quality = 1
	QualityNormal Quality = 2
	QualityHigh   Quality = 3
)

// Multiplier returns the scale factor, treating unknown values as normal
func (q Quality) Multiplier() int {
	switch q {
	case QualityLow, QualityNormal, QualityHigh:
		return int(q)
	default:
		return int(QualityNormal)
	}
}

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityNormal:
		return "normal"
	case QualityHigh:
		return "high"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// ParseQuality accepts low/fast, normal and high/enhanced in any case
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "fast":
		return QualityLow, nil
	case "", "normal":
		return QualityNormal, nil
	case "high", "enhanced":
		return QualityHigh, nil
	default:
		return QualityNormal, fmt.Errorf("unknown quality %q (expected low, normal or high)", s)
	}
}
