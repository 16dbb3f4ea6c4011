package tts

import "fmt"

// RateSteps are the speaking rates offered by the practice screens, slowest first.
var RateSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0}

// StepRate moves to the next step above (up) or below the current rate and
// returns it. At either end the rate is returned unchanged.
func StepRate(current float64, up bool) float64 {
	if up {
		for _, r := range RateSteps {
			if r > current {
				return r
			}
		}
		return current
	}

	for i := len(RateSteps) - 1; i >= 0; i-- {
		if RateSteps[i] < current {
			return RateSteps[i]
		}
	}
	return current
}

// RateLabel returns a human-readable rate description.
func RateLabel(rate float64) string {
	switch rate {
	case 0.5:
		return "0.5x (Half Speed)"
	case 0.75:
		return "0.75x (Slow)"
	case 1.0:
		return "1.0x (Normal)"
	case 1.25:
		return "1.25x (Fast)"
	case 1.5:
		return "1.5x (Faster)"
	case 1.75:
		return "1.75x (Very Fast)"
	case 2.0:
		return "2.0x (Double Speed)"
	default:
		return fmt.Sprintf("%.2fx", rate)
	}
}
