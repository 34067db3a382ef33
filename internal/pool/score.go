package pool

import (
	"time"

	"tgblast/internal/domain"
)

// Score converts an account's raw counters into a 0-100 health metric used to
// prefer healthier accounts during selection. It is recomputed lazily on each
// ranking pass and never persisted as ground truth.
//
// Components:
//   - success rate: up to 40 points; accounts with no history get the full 40
//     so fresh accounts are not penalized before they have data
//   - error health: 25 points minus 5 per consecutive error, floor 0
//   - flood health: 20 points minus 4 per recorded flood event, floor 0
//   - age bonus: step function rewarding older accounts, up to 15
func Score(a *domain.Account, now time.Time) float64 {
	score := successTerm(a)
	score += errorTerm(a.ConsecutiveErrors)
	score += floodTerm(a.FloodEvents)
	score += ageBonus(a.AgeDays(now))

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func successTerm(a *domain.Account) float64 {
	total := a.Successes + a.Failures
	if total == 0 {
		return 40
	}
	return float64(a.Successes) / float64(total) * 40
}

func errorTerm(consecutive int) float64 {
	p := 25 - 5*consecutive
	if p < 0 {
		return 0
	}
	return float64(p)
}

func floodTerm(events int) float64 {
	p := 20 - 4*events
	if p < 0 {
		return 0
	}
	return float64(p)
}

func ageBonus(days int) float64 {
	switch {
	case days < 7:
		return 2
	case days < 30:
		return 5
	case days < 90:
		return 8
	case days < 365:
		return 12
	default:
		return 15
	}
}
