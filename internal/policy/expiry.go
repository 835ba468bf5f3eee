package policy

import "time"

// ValidityMonths is how long an approval stands for each residual risk.
func ValidityMonths(risk RiskLevel) int {
	switch risk {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 6
	default:
		return 12
	}
}

// ComputeExpiry returns the date an approval granted at approvedAt lapses.
func ComputeExpiry(risk RiskLevel, approvedAt time.Time) time.Time {
	return AddMonths(approvedAt, ValidityMonths(risk))
}

// AddMonths adds calendar months, clamping the day to the end of the target
// month: Aug 31 + 6 months is Feb 28 (or 29), not Mar 3.
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(target.Year(), target.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
