// Package risk scores predicted effects against a fixed table of attack
// patterns.
//
// Scoring is additive and order-independent: each matching rule contributes
// its weight, the sum is capped at 100, and the level is read off two
// thresholds. The table covers unlimited ERC20 approvals, collection-wide
// ERC721 operator grants, and calls to selectors the decoder does not know.
package risk

import (
	"time"

	"github.com/cryptoc/txguard/internal/effects"
)

// Level is the coarse verdict shown to the user.
type Level string

const (
	LevelSafe    Level = "safe"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// MaxScore caps the additive score.
const MaxScore = 100

// Factor names, in the order their warnings are reported.
const (
	FactorUnlimitedApproval = "unlimited_approval"
	FactorApproveAll        = "approve_all"
	FactorUnknownFunction   = "unknown_function"
)

// Warning texts.
const (
	WarnUnlimitedApproval = "unlimited token approval detected"
	WarnApproveAll        = "collection-wide operator approval detected"
	WarnUnknownFunction   = "unrecognized function signature"
)

// Policy holds the rule weights and level thresholds.
type Policy struct {
	UnlimitedApproval int
	ApproveAll        int
	UnknownFunction   int
	WarnThreshold     int // scores at or above are warning
	DangerThreshold   int // scores at or above are danger
}

// DefaultPolicy returns the production weights.
func DefaultPolicy() Policy {
	return Policy{
		UnlimitedApproval: 70,
		ApproveAll:        65,
		UnknownFunction:   15,
		WarnThreshold:     30,
		DangerThreshold:   60,
	}
}

// LevelFor maps a score onto a level.
func (p Policy) LevelFor(score int) Level {
	switch {
	case score >= p.DangerThreshold:
		return LevelDanger
	case score >= p.WarnThreshold:
		return LevelWarning
	default:
		return LevelSafe
	}
}

// Assessment is the scorer's verdict on one effect set.
type Assessment struct {
	Score       int              `json:"score"`
	Level       Level            `json:"risk_level"`
	Warnings    []string         `json:"warnings"`
	Factors     map[string]int   `json:"factors"`
	Effects     []effects.Effect `json:"effects"`
	EvaluatedAt time.Time        `json:"evaluatedAt"`
}

// Safe reports whether the verdict needs no acknowledgement.
func (a *Assessment) Safe() bool {
	return a.Level == LevelSafe
}
