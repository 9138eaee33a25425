package extract

import "math"

type BTECGrade string

const (
	BTECDistinction BTECGrade = "Distinction"
	BTECMerit       BTECGrade = "Merit"
	BTECPass        BTECGrade = "Pass"
	BTECRefer       BTECGrade = "Refer"
)

// NormalizeGrade maps raw onto 0..100 using the item's scale. A degenerate
// scale yields 0.
func NormalizeGrade(raw, gradeMin, gradeMax float64) float64 {
	if gradeMax == gradeMin {
		return 0
	}
	normalized := (raw - gradeMin) / (gradeMax - gradeMin) * 100
	switch {
	case math.IsNaN(normalized), normalized < 0:
		return 0
	case normalized > 100:
		return 100
	default:
		return normalized
	}
}

// BTECCategory maps the legacy 0..4 scale. Thresholds are inclusive.
func BTECCategory(raw *float64) BTECGrade {
	if raw == nil {
		return BTECRefer
	}
	switch value := *raw; {
	case value >= 4:
		return BTECDistinction
	case value >= 3:
		return BTECMerit
	case value >= 2:
		return BTECPass
	default:
		return BTECRefer
	}
}
