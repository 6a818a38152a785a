package risk

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/signatures"
)

var (
	owner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdcAddr = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func approve(amount *big.Int) *effects.Approve {
	return &effects.Approve{
		Token:     signatures.TokenByAddress(usdcAddr),
		Owner:     owner,
		Spender:   spender,
		Amount:    amount,
		Unlimited: effects.IsUnlimited(amount),
	}
}

func TestScore_UnlimitedApproval(t *testing.T) {
	a := NewEngine().Score([]effects.Effect{approve(math.MaxBig256)}, false)

	assert.Equal(t, 70, a.Score)
	assert.Equal(t, LevelDanger, a.Level)
	assert.Equal(t, []string{WarnUnlimitedApproval}, a.Warnings)
	assert.Equal(t, map[string]int{FactorUnlimitedApproval: 70}, a.Factors)
}

func TestScore_ApproveAll(t *testing.T) {
	granted := &effects.ApproveAll{Owner: owner, Operator: spender, Approved: true}
	a := NewEngine().Score([]effects.Effect{granted}, false)
	assert.Equal(t, 65, a.Score)
	assert.Equal(t, LevelDanger, a.Level)
	assert.Equal(t, []string{WarnApproveAll}, a.Warnings)

	revoked := &effects.ApproveAll{Owner: owner, Operator: spender, Approved: false}
	a = NewEngine().Score([]effects.Effect{revoked}, false)
	assert.Equal(t, 0, a.Score)
	assert.True(t, a.Safe())
}

func TestScore_PlainTokenTransferIsSafe(t *testing.T) {
	tr := &effects.Transfer{Token: signatures.TokenByAddress(usdcAddr), From: owner, To: spender, Amount: big.NewInt(1)}
	a := NewEngine().Score([]effects.Effect{tr}, false)

	assert.Equal(t, 0, a.Score)
	assert.Equal(t, LevelSafe, a.Level)
	assert.Empty(t, a.Warnings)
	assert.Empty(t, a.Factors)
}

func TestScore_UnknownPlusLargeApproval(t *testing.T) {
	// 95% of max uint256
	amt := new(big.Int).Div(new(big.Int).Mul(math.MaxBig256, big.NewInt(95)), big.NewInt(100))
	unknown := &effects.Unknown{Contract: usdcAddr}

	a := NewEngine().Score([]effects.Effect{unknown, approve(amt)}, true)
	assert.Equal(t, 85, a.Score)
	assert.Equal(t, LevelDanger, a.Level)
	assert.Equal(t, []string{WarnUnlimitedApproval, WarnUnknownFunction}, a.Warnings)
}

func TestScore_CappedAndDeduplicated(t *testing.T) {
	effs := []effects.Effect{
		approve(math.MaxBig256),
		approve(math.MaxBig256),
		&effects.ApproveAll{Approved: true},
	}
	a := NewEngine().Score(effs, true)

	assert.Equal(t, MaxScore, a.Score)
	assert.Equal(t, []string{WarnUnlimitedApproval, WarnApproveAll, WarnUnknownFunction}, a.Warnings)
	assert.Equal(t, 140, a.Factors[FactorUnlimitedApproval])
}

func TestScore_OrderIndependent(t *testing.T) {
	x := approve(math.MaxBig256)
	y := &effects.ApproveAll{Approved: true}

	a := NewEngine().Score([]effects.Effect{x, y}, false)
	b := NewEngine().Score([]effects.Effect{y, x}, false)
	assert.Equal(t, a.Score, b.Score)
	assert.Equal(t, a.Warnings, b.Warnings)
}

func TestScore_BelowUnlimitedThreshold(t *testing.T) {
	below := new(big.Int).Sub(effects.UnlimitedThreshold(), big.NewInt(1))
	a := NewEngine().Score([]effects.Effect{approve(below)}, false)
	assert.Equal(t, 0, a.Score)

	a = NewEngine().Score([]effects.Effect{approve(effects.UnlimitedThreshold())}, false)
	assert.Equal(t, 70, a.Score)
}

func TestLevelFor_Boundaries(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelSafe},
		{29, LevelSafe},
		{30, LevelWarning},
		{59, LevelWarning},
		{60, LevelDanger},
		{100, LevelDanger},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, p.LevelFor(tc.score), "score %d", tc.score)
	}
}

func TestScore_UnknownAloneIsSafe(t *testing.T) {
	a := NewEngine().Score([]effects.Effect{&effects.Unknown{}}, true)
	require.Equal(t, 15, a.Score)
	assert.Equal(t, LevelSafe, a.Level)
	assert.Equal(t, []string{WarnUnknownFunction}, a.Warnings)
}

func TestWithPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.UnknownFunction = 40
	e := NewEngine().WithPolicy(p)
	assert.Equal(t, 40, e.Policy().UnknownFunction)
	assert.Equal(t, DefaultPolicy(), NewEngine().Policy())
	a := e.Score(nil, true)
	assert.Equal(t, 40, a.Score)
	assert.Equal(t, LevelWarning, a.Level)
	assert.NotNil(t, a.Effects)
}
