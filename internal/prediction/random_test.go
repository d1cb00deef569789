package prediction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct{ values []int }

func (s *scriptedSource) IntN(n int) int {
	v := s.values[0]
	s.values = s.values[1:]
	return v % n
}

func TestRandomUsesInjectedSource(t *testing.T) {
	p, err := NewRandom(&scriptedSource{values: []int{1, 0, 0, 25}}, 70, 95)
	require.NoError(t, err)

	first, err := p.Predict(context.Background(), "Will Team A win?")
	require.NoError(t, err)
	assert.True(t, first.Outcome())
	assert.Equal(t, uint8(70), first.Confidence())

	second, err := p.Predict(context.Background(), "Will Team A win?")
	require.NoError(t, err)
	assert.False(t, second.Outcome())
	assert.Equal(t, uint8(95), second.Confidence())
}

func TestRandomIsReproducibleWithSeed(t *testing.T) {
	a, err := NewRandom(NewSeededSource(42), 70, 95)
	require.NoError(t, err)
	b, err := NewRandom(NewSeededSource(42), 70, 95)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		pa, err := a.Predict(context.Background(), "q")
		require.NoError(t, err)
		pb, err := b.Predict(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, pa.Outcome(), pb.Outcome())
		assert.Equal(t, pa.Confidence(), pb.Confidence())
		assert.Equal(t, pa.Proof(), pb.Proof())
	}
}

func TestRandomStaysInRange(t *testing.T) {
	p, err := NewRandom(NewSeededSource(7), 70, 95)
	require.NoError(t, err)
	seen := map[bool]bool{}
	for i := 0; i < 1000; i++ {
		got, err := p.Predict(context.Background(), "q")
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.Confidence(), uint8(70))
		require.LessOrEqual(t, got.Confidence(), uint8(95))
		seen[got.Outcome()] = true
	}
	assert.Len(t, seen, 2)
}

func TestNewRandomRejectsBadRange(t *testing.T) {
	for _, r := range [][2]int{{-1, 10}, {10, 101}, {90, 80}} {
		_, err := NewRandom(NewSeededSource(1), r[0], r[1])
		assert.Error(t, err, r)
	}
}
