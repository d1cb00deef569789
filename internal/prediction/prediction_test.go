package prediction

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Argos-Oracle/internal/errors"
)

func TestNewValidatesFields(t *testing.T) {
	_, err := New(true, 101, []byte("p"))
	assert.True(t, xerrors.IsCode(err, xerrors.CodePredictionUnavailable))

	_, err = New(true, -1, []byte("p"))
	assert.True(t, xerrors.IsCode(err, xerrors.CodePredictionUnavailable))

	_, err = New(true, 50, nil)
	assert.True(t, xerrors.IsCode(err, xerrors.CodePredictionUnavailable))

	p, err := New(false, 0, []byte("p"))
	require.NoError(t, err)
	assert.True(t, p.Valid())
	assert.False(t, Prediction{}.Valid())
}

func TestPredictionIsImmutable(t *testing.T) {
	proof := []byte("proof")
	p, err := New(true, 80, proof)
	require.NoError(t, err)

	proof[0] = 'X'
	got := p.Proof()
	got[1] = 'X'
	assert.Equal(t, []byte("proof"), p.Proof())
}

func TestProofOfIsDeterministic(t *testing.T) {
	a := ProofOf("threshold", "q", "SOL", "255")
	b := ProofOf("threshold", "q", "SOL", "255")
	c := ProofOf("threshold", "q", "SOL", "256")
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

type staticHeadlines []string

func (s staticHeadlines) Headlines(context.Context, string) ([]string, error) { return s, nil }

// Every variant must only ever emit confidence in [0,100] with a non-empty proof.
func TestAllVariantsRespectInvariants(t *testing.T) {
	threshold, err := NewThreshold(StaticPriceSource(255), "SOL", 250, 96)
	require.NoError(t, err)
	random, err := NewRandom(rand.New(rand.NewPCG(1, 2)), 0, 100)
	require.NoError(t, err)
	sentiment, err := NewSentiment(staticHeadlines{
		"Excellent excellent best breakthrough",
		"Best discovery ever, very excellent",
	}, nil, "")
	require.NoError(t, err)
	reasoning := NewReasoningWithClient(&fakeChat{content: `{"outcome": false, "confidence": 100}`}, "", 0)

	predictors := []Predictor{threshold, random, sentiment, reasoning}
	for _, p := range predictors {
		for i := 0; i < 200; i++ {
			got, err := p.Predict(context.Background(), "Will it happen?")
			require.NoError(t, err, p.Name())
			assert.LessOrEqual(t, int(got.Confidence()), MaxConfidence, p.Name())
			assert.NotEmpty(t, got.Proof(), p.Name())
		}
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Unavailable(cause, "fetch failed")
	assert.True(t, xerrors.IsCode(err, xerrors.CodePredictionUnavailable))
	assert.ErrorIs(t, err, cause)
}
