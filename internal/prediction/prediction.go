// Package prediction defines the Prediction value produced by every agent and
// the Predictor variants that derive it from an external data source.
package prediction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "Argos-Oracle/internal/errors"
)

// MaxConfidence is the upper bound of the confidence scale.
const MaxConfidence = 100

// Prediction is an immutable binary forecast with a confidence in [0,100]
// and a non-empty proof payload. Build one with New.
type Prediction struct {
	outcome    bool
	confidence uint8
	proof      []byte
}

// New validates the fields and returns a Prediction. Any violation is
// reported as PREDICTION_UNAVAILABLE so a malformed value can never reach the
// submitter.
func New(outcome bool, confidence int, proof []byte) (Prediction, error) {
	if confidence < 0 || confidence > MaxConfidence {
		return Prediction{}, xerrors.New(xerrors.CodePredictionUnavailable,
			fmt.Sprintf("置信度 %d 超出 0-100", confidence))
	}
	if len(proof) == 0 {
		return Prediction{}, xerrors.New(xerrors.CodePredictionUnavailable, "proof 不能为空")
	}
	return Prediction{
		outcome:    outcome,
		confidence: uint8(confidence),
		proof:      append([]byte(nil), proof...),
	}, nil
}

// Outcome returns the predicted truth value of the proposition.
func (p Prediction) Outcome() bool { return p.outcome }

// Confidence returns the self-reported certainty.
func (p Prediction) Confidence() uint8 { return p.confidence }

// Proof returns a copy of the proof payload.
func (p Prediction) Proof() []byte { return append([]byte(nil), p.proof...) }

// Valid reports whether p was produced by New.
func (p Prediction) Valid() bool {
	return len(p.proof) > 0 && p.confidence <= MaxConfidence
}

// LogValue implements slog.LogValuer.
func (p Prediction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("outcome", p.outcome),
		slog.Int("confidence", int(p.confidence)),
		slog.String("proof", hexutil.Encode(p.proof)),
	)
}

// Predictor produces a Prediction for a proposition. Every failure to build a
// well-formed Prediction is returned as a PREDICTION_UNAVAILABLE error.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, query string) (Prediction, error)
}

// Unavailable wraps cause as a PREDICTION_UNAVAILABLE error.
func Unavailable(cause error, message string) error {
	if cause == nil {
		return xerrors.New(xerrors.CodePredictionUnavailable, message)
	}
	return xerrors.Wrap(xerrors.CodePredictionUnavailable, cause, message)
}

// ProofOf derives the proof payload as the Keccak-256 digest of the variant,
// the query and the evidence the predictor observed.
func ProofOf(variant, query string, evidence ...string) []byte {
	parts := append([]string{variant, strings.TrimSpace(query)}, evidence...)
	return crypto.Keccak256([]byte(strings.Join(parts, "\x1f")))
}
