// Package simulation runs the full pre-signing pipeline: normalize the
// addresses, decode the call data, predict effects and score them.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cryptoc/txguard/internal/calldata"
	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/metrics"
	"github.com/cryptoc/txguard/internal/risk"
	"github.com/cryptoc/txguard/internal/signatures"
	"github.com/cryptoc/txguard/internal/traces"
	"github.com/cryptoc/txguard/internal/validation"
)

var (
	ErrMissingField = errors.New("simulation: missing field")
	ErrInvalidValue = errors.New("simulation: invalid value")
)

// FieldError ties an input failure to the offending field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Result is everything one simulation produced.
type Result struct {
	Request    effects.Request
	Call       *calldata.DecodedCall
	Assessment *risk.Assessment
	Preflight  *effects.Preflight
	Duration   time.Duration
}

// Effects is shorthand for the scored effect set.
func (r *Result) Effects() []effects.Effect {
	return r.Assessment.Effects
}

// RequiresAcknowledgement reports whether executing this transaction needs
// explicit consent: any non-safe verdict, or any effect the engine could not
// interpret.
func (r *Result) RequiresAcknowledgement() bool {
	return !r.Assessment.Safe() || effects.HasUnknown(r.Assessment.Effects)
}

// Simulator wires the pipeline stages together.
type Simulator struct {
	predictor *effects.Predictor
	scorer    *risk.Engine
	logger    *slog.Logger
}

// New creates a simulator. A nil predictor means local-only prediction.
func New(predictor *effects.Predictor, scorer *risk.Engine, logger *slog.Logger) *Simulator {
	if predictor == nil {
		predictor = effects.NewPredictor()
	}
	if scorer == nil {
		scorer = risk.NewEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{predictor: predictor, scorer: scorer, logger: logger}
}

// Parse validates a raw request. Address and hex failures are reported before
// any decoding happens.
func Parse(raw RawRequest) (effects.Request, error) {
	var req effects.Request

	if raw.From == "" {
		return req, &FieldError{Field: "from", Err: ErrMissingField}
	}
	if raw.To == "" {
		return req, &FieldError{Field: "to", Err: ErrMissingField}
	}

	from, err := validation.NormalizeAddress(raw.From)
	if err != nil {
		return req, &FieldError{Field: "from", Err: err}
	}
	to, err := validation.NormalizeAddress(raw.To)
	if err != nil {
		return req, &FieldError{Field: "to", Err: err}
	}

	data, err := calldata.ParseHex(raw.Data)
	if err != nil {
		return req, &FieldError{Field: "data", Err: err}
	}

	value := new(big.Int)
	if raw.Value.Int != nil {
		value.Set(raw.Value.Int)
	}

	gas := uint64(DefaultGasLimit)
	if raw.GasLimit.Int != nil {
		if !raw.GasLimit.Int.IsUint64() {
			return req, &FieldError{Field: "gasLimit", Err: ErrInvalidValue}
		}
		gas = raw.GasLimit.Int.Uint64()
	}

	return effects.Request{From: from, To: to, Value: value, Data: data, GasLimit: gas}, nil
}

// Simulate parses and evaluates a raw request.
func (s *Simulator) Simulate(ctx context.Context, raw RawRequest) (*Result, error) {
	req, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.Evaluate(ctx, req)
}

// Evaluate runs decode, prediction and scoring on a parsed request.
func (s *Simulator) Evaluate(ctx context.Context, req effects.Request) (*Result, error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "simulation.evaluate", traces.Address(req.From.Hex()))
	defer span.End()

	call, err := calldata.Decode(req.Data)
	if err != nil {
		metrics.DecodeOutcomesTotal.WithLabelValues("malformed").Inc()
		traces.Fail(span, err)
		return nil, &FieldError{Field: "data", Err: err}
	}
	metrics.DecodeOutcomesTotal.WithLabelValues(call.Function).Inc()
	span.SetAttributes(traces.Function(call.Function))

	pred := s.predictor.Predict(ctx, req, call)
	assessment := s.scorer.Score(pred.Effects, call.Function == signatures.Unknown)

	metrics.SimulationsTotal.WithLabelValues(string(assessment.Level)).Inc()
	metrics.RiskScore.Observe(float64(assessment.Score))
	span.SetAttributes(traces.Score(assessment.Score), traces.Level(string(assessment.Level)))

	return &Result{
		Request:    req,
		Call:       call,
		Assessment: assessment,
		Preflight:  pred.Preflight,
		Duration:   time.Since(start),
	}, nil
}
