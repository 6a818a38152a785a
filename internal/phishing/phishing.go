// Package phishing classifies URLs through a priority-ordered list of
// classifiers. The first classifier that answers wins; failures fall
// through to the next one.
package phishing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Labels a classifier may return.
const (
	LabelBenign    = "benign"
	LabelMalicious = "malicious"
)

// ErrNoClassifier is returned when no classifier is configured or every
// classifier in the chain failed.
var ErrNoClassifier = errors.New("phishing: no classifier available")

// ErrBadVerdict is returned for responses outside the verdict contract.
var ErrBadVerdict = errors.New("phishing: invalid verdict")

// Verdict is one classifier's answer for a URL.
type Verdict struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // 0..1
	RiskScore  float64 `json:"risk_score"` // 0..100, probability of malicious
	Model      string  `json:"model_used"`
}

// Safe reports whether the URL was classified benign.
func (v *Verdict) Safe() bool {
	return v.Label == LabelBenign
}

func (v *Verdict) validate() error {
	if v.Label != LabelBenign && v.Label != LabelMalicious {
		return fmt.Errorf("%w: label %q", ErrBadVerdict, v.Label)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrBadVerdict, v.Confidence)
	}
	if v.RiskScore < 0 || v.RiskScore > 100 {
		return fmt.Errorf("%w: risk score %v", ErrBadVerdict, v.RiskScore)
	}
	return nil
}

// Classifier labels a URL without visiting it.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, url string) (*Verdict, error)
}

// Chain tries classifiers in priority order.
type Chain struct {
	classifiers []Classifier
	logger      *slog.Logger
}

// NewChain creates a chain; the first classifier has the highest priority.
func NewChain(logger *slog.Logger, classifiers ...Classifier) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{classifiers: classifiers, logger: logger}
}

// Len returns the number of configured classifiers.
func (c *Chain) Len() int {
	return len(c.classifiers)
}

// Names lists the classifiers in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.classifiers))
	for i, cl := range c.classifiers {
		names[i] = cl.Name()
	}
	return names
}

// Classify returns the first successful verdict. The verdict's Model is set
// to the answering classifier's name.
func (c *Chain) Classify(ctx context.Context, url string) (*Verdict, error) {
	if len(c.classifiers) == 0 {
		return nil, ErrNoClassifier
	}

	var errs []error
	for _, cl := range c.classifiers {
		v, err := cl.Classify(ctx, url)
		if err == nil && v == nil {
			err = ErrBadVerdict
		} else if err == nil {
			err = v.validate()
		}
		if err != nil {
			c.logger.Warn("classifier failed, trying next", "model", cl.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cl.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		v.Model = cl.Name()
		return v, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrNoClassifier, errors.Join(errs...))
}
