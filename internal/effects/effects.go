// Package effects predicts what a decoded call would do to balances and
// allowances, without executing any EVM code.
package effects

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"

	"github.com/cryptoc/txguard/internal/signatures"
)

// Effect kinds, as rendered in the "type" field.
const (
	KindTransfer   = "transfer"
	KindApprove    = "approve"
	KindApproveAll = "approveAll"
	KindUnknown    = "unknown"
)

// Effect is one of *Transfer, *Approve, *ApproveAll or *Unknown.
type Effect interface {
	Kind() string
	effect()
}

// Request is an unsigned transaction as submitted for inspection.
type Request struct {
	From     common.Address
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Transfer moves Amount of Token from From to To. For ERC721 transfers
// Amount is 1 and TokenID is set. Balance is the sender's on-chain balance
// when an oracle filled it in.
type Transfer struct {
	Token   signatures.Token
	From    common.Address
	To      common.Address
	Amount  *big.Int
	TokenID *big.Int
	Balance *big.Int
}

// Approve grants Spender an allowance over Owner's Token.
type Approve struct {
	Token     signatures.Token
	Owner     common.Address
	Spender   common.Address
	Amount    *big.Int
	Unlimited bool
}

// ApproveAll grants or revokes Operator control over every item Owner holds
// in Collection.
type ApproveAll struct {
	Collection signatures.Token
	Owner      common.Address
	Operator   common.Address
	Approved   bool
}

// Unknown is a call to a selector outside the registry.
type Unknown struct {
	Contract common.Address
	Selector signatures.Selector
}

func (*Transfer) Kind() string   { return KindTransfer }
func (*Approve) Kind() string    { return KindApprove }
func (*ApproveAll) Kind() string { return KindApproveAll }
func (*Unknown) Kind() string    { return KindUnknown }

func (*Transfer) effect()   {}
func (*Approve) effect()    {}
func (*ApproveAll) effect() {}
func (*Unknown) effect()    {}

// unlimitedBound is 9*(2^256-1); an amount a is unlimited when 10a >= bound,
// i.e. a is at least 90% of the maximum uint256.
var unlimitedBound = new(big.Int).Mul(big.NewInt(9), math.MaxBig256)

// IsUnlimited reports whether an approval amount counts as unlimited.
func IsUnlimited(amount *big.Int) bool {
	if amount == nil {
		return false
	}
	tenA := new(big.Int).Mul(amount, big.NewInt(10))
	return tenA.Cmp(unlimitedBound) >= 0
}

// UnlimitedThreshold is the smallest amount IsUnlimited accepts.
func UnlimitedThreshold() *big.Int {
	q, r := new(big.Int).QuoRem(unlimitedBound, big.NewInt(10), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Units scales a raw integer amount by the token's decimals.
func Units(t signatures.Token, raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -t.Decimals)
}

type tokenJSON struct {
	Symbol   string `json:"symbol,omitempty"`
	Address  string `json:"address,omitempty"`
	Decimals int32  `json:"decimals"`
	Standard string `json:"standard"`
}

func renderToken(t signatures.Token) tokenJSON {
	out := tokenJSON{Symbol: t.Symbol, Decimals: t.Decimals, Standard: string(t.Standard)}
	if !t.IsNative() {
		out.Address = t.Address.Hex()
	}
	return out
}

func bigString(b *big.Int) string {
	if b == nil {
		return ""
	}
	return b.String()
}

func (e *Transfer) MarshalJSON() ([]byte, error) {
	out := struct {
		Type      string    `json:"type"`
		Token     tokenJSON `json:"token"`
		From      string    `json:"from"`
		To        string    `json:"to"`
		Amount    string    `json:"amount"`
		Formatted string    `json:"formatted"`
		TokenID   string    `json:"tokenId,omitempty"`
		Balance   string    `json:"balance,omitempty"`
	}{
		Type:    KindTransfer,
		Token:   renderToken(e.Token),
		From:    e.From.Hex(),
		To:      e.To.Hex(),
		Amount:  bigString(e.Amount),
		TokenID: bigString(e.TokenID),
		Balance: bigString(e.Balance),
	}
	out.Formatted = Units(e.Token, e.Amount).String()
	return json.Marshal(out)
}

func (e *Approve) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"type"`
		Token     tokenJSON `json:"token"`
		Owner     string    `json:"owner"`
		Spender   string    `json:"spender"`
		Amount    string    `json:"amount"`
		Unlimited bool      `json:"unlimited"`
	}{KindApprove, renderToken(e.Token), e.Owner.Hex(), e.Spender.Hex(), bigString(e.Amount), e.Unlimited})
}

func (e *ApproveAll) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       string    `json:"type"`
		Collection tokenJSON `json:"collection"`
		Owner      string    `json:"owner"`
		Operator   string    `json:"operator"`
		Approved   bool      `json:"approved"`
	}{KindApproveAll, renderToken(e.Collection), e.Owner.Hex(), e.Operator.Hex(), e.Approved})
}

func (e *Unknown) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Contract string `json:"contract"`
		Selector string `json:"selector"`
	}{KindUnknown, e.Contract.Hex(), e.Selector.String()})
}

// HasUnknown reports whether any effect is an *Unknown.
func HasUnknown(effs []Effect) bool {
	for _, e := range effs {
		if _, ok := e.(*Unknown); ok {
			return true
		}
	}
	return false
}
