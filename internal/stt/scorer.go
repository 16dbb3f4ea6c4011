package stt

import (
	"github.com/dacbuione/chinese-learning-sub000/internal/tone"
	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

// DefaultPassThreshold is the accuracy an attempt needs to pass.
const DefaultPassThreshold = 0.8

// Scorer compares spoken attempts with expected text.
type Scorer struct {
	// Threshold is the minimum accuracy for Passed. Zero means
	// DefaultPassThreshold.
	Threshold float64
}

// Score aligns the comparison forms of expected and spoken position by
// position. Accuracy is the number of matching positions over the longer
// of the two, so omissions and insertions cost the same. Two empty inputs
// score zero.
func (s Scorer) Score(expected, spoken string) ttypes.PronunciationResult {
	exp := tone.ComparisonForm(expected)
	got := tone.ComparisonForm(spoken)

	n := max(len(exp), len(got))
	result := ttypes.PronunciationResult{
		ExpectedText: expected,
		SpokenText:   spoken,
		Breakdown:    make([]ttypes.SyllableScore, 0, n),
	}
	if n == 0 {
		return result
	}

	matches := 0
	for i := 0; i < n; i++ {
		entry := ttypes.SyllableScore{Index: i}
		if i < len(exp) {
			entry.Expected = string(exp[i])
		}
		if i < len(got) {
			entry.Spoken = string(got[i])
		}
		entry.Match = i < len(exp) && i < len(got) && exp[i] == got[i]
		if entry.Match {
			matches++
		}
		result.Breakdown = append(result.Breakdown, entry)
	}

	result.Accuracy = float64(matches) / float64(n)
	result.Passed = result.Accuracy >= s.threshold()
	return result
}

func (s Scorer) threshold() float64 {
	if s.Threshold <= 0 {
		return DefaultPassThreshold
	}
	return s.Threshold
}
