package stt

import (
	"math"
	"testing"
)

func TestScorer_Score(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		spoken   string
		want     float64
	}{
		{"exact", "你好", "你好", 1.0},
		{"omission", "你好", "你", 0.5},
		{"insertion", "你", "你好", 0.5},
		{"transposed", "你好", "好你", 0.0},
		{"punctuation and space ignored", "你好！", " 你 好 ", 1.0},
		{"case folded", "Xin Chào", "xin chào", 1.0},
		{"both empty", "", "", 0.0},
		{"only punctuation", "。！", "", 0.0},
		{"one wrong of four", "谢谢你们", "谢谢他们", 0.75},
	}

	var s Scorer
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.expected, tt.spoken)
			if math.Abs(got.Accuracy-tt.want) > 1e-9 {
				t.Errorf("Score(%q, %q) accuracy = %v, want %v", tt.expected, tt.spoken, got.Accuracy, tt.want)
			}
			if got.Accuracy < 0 || got.Accuracy > 1 {
				t.Errorf("accuracy %v out of [0,1]", got.Accuracy)
			}
		})
	}
}

func TestScorer_Breakdown(t *testing.T) {
	got := Scorer{}.Score("你好", "你")

	if got.ExpectedText != "你好" || got.SpokenText != "你" {
		t.Errorf("texts = %q/%q", got.ExpectedText, got.SpokenText)
	}
	if len(got.Breakdown) != 2 {
		t.Fatalf("breakdown has %d entries, want 2", len(got.Breakdown))
	}

	first, second := got.Breakdown[0], got.Breakdown[1]
	if first.Index != 0 || first.Expected != "你" || first.Spoken != "你" || !first.Match {
		t.Errorf("first entry = %+v", first)
	}
	if second.Index != 1 || second.Expected != "好" || second.Spoken != "" || second.Match {
		t.Errorf("second entry = %+v", second)
	}
}

func TestScorer_Passed(t *testing.T) {
	if !(Scorer{}).Score("你好", "你好").Passed {
		t.Error("exact match should pass the default threshold")
	}
	if (Scorer{}).Score("谢谢你们", "谢谢他们").Passed {
		t.Error("0.75 should fail the default 0.8 threshold")
	}
	if !(Scorer{Threshold: 0.7}).Score("谢谢你们", "谢谢他们").Passed {
		t.Error("0.75 should pass a 0.7 threshold")
	}
}
