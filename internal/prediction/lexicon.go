package prediction

import (
	"strings"
	"unicode"
)

// LexiconScorer is a small word-list polarity scorer. Each matched word
// contributes its weight; a preceding negator flips and halves it, intensifiers
// scale the next match. The result is the mean over matched words.
type LexiconScorer struct {
	words        map[string]float64
	negators     map[string]struct{}
	intensifiers map[string]float64
}

// NewLexiconScorer returns a scorer with the built-in English lexicon.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{
		words: map[string]float64{
			"good": 0.7, "great": 0.8, "excellent": 1, "amazing": 0.6, "best": 1,
			"breakthrough": 0.8, "success": 0.6, "successful": 0.75, "confirmed": 0.4,
			"win": 0.8, "wins": 0.8, "positive": 0.5, "promising": 0.6, "strong": 0.45,
			"discovery": 0.5, "discovers": 0.5, "detects": 0.3, "evidence": 0.2,
			"rise": 0.3, "rises": 0.3, "surge": 0.5, "record": 0.3, "hope": 0.4,
			"bad": -0.7, "worst": -1, "terrible": -1, "poor": -0.4, "fail": -0.5,
			"fails": -0.5, "failure": -0.6, "negative": -0.3, "weak": -0.4,
			"loss": -0.5, "loses": -0.5, "drop": -0.3, "drops": -0.3, "crash": -0.8,
			"doubt": -0.4, "doubts": -0.4, "unlikely": -0.5, "delay": -0.4,
			"delayed": -0.4, "problem": -0.4, "risk": -0.3, "false": -0.4,
		},
		negators: map[string]struct{}{
			"not": {}, "no": {}, "never": {}, "without": {}, "isn't": {}, "wasn't": {}, "doesn't": {}, "won't": {},
		},
		intensifiers: map[string]float64{
			"very": 1.3, "extremely": 1.5, "really": 1.2, "highly": 1.3, "slightly": 0.5,
		},
	}
}

// Polarity implements Scorer.
func (l *LexiconScorer) Polarity(text string) float64 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	var (
		sum     float64
		matched int
		negate  bool
		scale   = 1.0
	)
	for _, token := range tokens {
		if _, ok := l.negators[token]; ok {
			negate = true
			continue
		}
		if factor, ok := l.intensifiers[token]; ok {
			scale *= factor
			continue
		}
		weight, ok := l.words[token]
		if !ok {
			continue
		}
		weight *= scale
		if negate {
			weight = -0.5 * weight
		}
		sum += weight
		matched++
		negate = false
		scale = 1
	}
	if matched == 0 {
		return 0
	}
	return clampPolarity(sum / float64(matched))
}
