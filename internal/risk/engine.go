package risk

import (
	"time"

	"github.com/cryptoc/txguard/internal/effects"
)

// Engine applies a Policy. It holds no state between calls.
type Engine struct {
	policy Policy
	now    func() time.Time
}

// NewEngine creates a scorer with DefaultPolicy.
func NewEngine() *Engine {
	return &Engine{policy: DefaultPolicy(), now: time.Now}
}

// WithPolicy overrides the rule table. Used by tests.
func (e *Engine) WithPolicy(p Policy) *Engine {
	e.policy = p
	return e
}

// Policy returns the active rule table.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Score evaluates an effect set. unknownCall is true when the decoder did not
// recognise the selector; it contributes once regardless of effect count.
func (e *Engine) Score(effs []effects.Effect, unknownCall bool) *Assessment {
	factors := make(map[string]int)

	for _, eff := range effs {
		switch v := eff.(type) {
		case *effects.Approve:
			if v.Unlimited {
				factors[FactorUnlimitedApproval] += e.policy.UnlimitedApproval
			}
		case *effects.ApproveAll:
			if v.Approved {
				factors[FactorApproveAll] += e.policy.ApproveAll
			}
		}
	}
	if unknownCall {
		factors[FactorUnknownFunction] = e.policy.UnknownFunction
	}

	score := 0
	for _, v := range factors {
		score += v
	}
	if score > MaxScore {
		score = MaxScore
	}

	// warnings follow table order, once each
	warnings := []string{}
	if _, ok := factors[FactorUnlimitedApproval]; ok {
		warnings = append(warnings, WarnUnlimitedApproval)
	}
	if _, ok := factors[FactorApproveAll]; ok {
		warnings = append(warnings, WarnApproveAll)
	}
	if _, ok := factors[FactorUnknownFunction]; ok {
		warnings = append(warnings, WarnUnknownFunction)
	}

	if effs == nil {
		effs = []effects.Effect{}
	}

	return &Assessment{
		Score:       score,
		Level:       e.policy.LevelFor(score),
		Warnings:    warnings,
		Factors:     factors,
		Effects:     effs,
		EvaluatedAt: e.now(),
	}
}
