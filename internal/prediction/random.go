package prediction

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
)

// RandomSource is the injectable randomness used by the randomized variant.
// *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// NewSeededSource returns a PCG source. A zero seed draws from the clock.
func NewSeededSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Random picks the outcome uniformly and the confidence uniformly within
// [min, max]. It serves domains with no real signal.
type Random struct {
	rng      RandomSource
	min, max int
}

// NewRandom validates the confidence range and builds the variant.
func NewRandom(rng RandomSource, minConfidence, maxConfidence int) (*Random, error) {
	if rng == nil {
		return nil, fmt.Errorf("未配置随机数源")
	}
	if minConfidence < 0 || maxConfidence > MaxConfidence || minConfidence > maxConfidence {
		return nil, fmt.Errorf("置信度区间 [%d, %d] 无效", minConfidence, maxConfidence)
	}
	return &Random{rng: rng, min: minConfidence, max: maxConfidence}, nil
}

// Name implements Predictor.
func (r *Random) Name() string { return "random" }

// Predict implements Predictor.
func (r *Random) Predict(_ context.Context, query string) (Prediction, error) {
	outcome := r.rng.IntN(2) == 1
	confidence := r.min + r.rng.IntN(r.max-r.min+1)
	return New(outcome, confidence, ProofOf(r.Name(), query, strconv.FormatBool(outcome), strconv.Itoa(confidence)))
}
