package effects

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoc/txguard/internal/calldata"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/signatures"
)

var (
	owner   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender = common.HexToAddress("0x2222222222222222222222222222222222222222")
	usdc    = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	nftAddr = common.HexToAddress("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D")
)

func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

func decode(t *testing.T, fn string, words ...[]byte) *calldata.DecodedCall {
	t.Helper()
	shape, ok := signatures.ByName(fn)
	require.True(t, ok)
	data := append([]byte{}, shape.Selector[:]...)
	for _, w := range words {
		data = append(data, w...)
	}
	call, err := calldata.Decode(data)
	require.NoError(t, err)
	return call
}

func TestIsUnlimited_Boundary(t *testing.T) {
	threshold := UnlimitedThreshold()

	// ceil(0.9 * (2^256-1))
	want, ok := new(big.Int).SetString("104212880313584575881213886507819117067942986199076507635511825607121816675942", 10)
	require.True(t, ok)
	assert.Equal(t, 0, threshold.Cmp(want))

	assert.True(t, IsUnlimited(threshold))
	assert.True(t, IsUnlimited(new(big.Int).Add(threshold, big.NewInt(1))))
	assert.False(t, IsUnlimited(new(big.Int).Sub(threshold, big.NewInt(1))))
	assert.True(t, IsUnlimited(math.MaxBig256))
	assert.False(t, IsUnlimited(big.NewInt(1_000_000)))
	assert.False(t, IsUnlimited(nil))
}

func TestLocal_PlainTransfer(t *testing.T) {
	call, err := calldata.Decode(nil)
	require.NoError(t, err)

	effs := Local(Request{From: owner, To: spender}, call)
	require.Len(t, effs, 1)
	tr := effs[0].(*Transfer)
	assert.True(t, tr.Token.IsNative())
	assert.Equal(t, int64(0), tr.Amount.Int64())
	assert.Equal(t, spender, tr.To)
}

func TestLocal_Transfer(t *testing.T) {
	call := decode(t, signatures.Transfer, word(spender.Bytes()), word(big.NewInt(5_000_000).Bytes()))

	effs := Local(Request{From: owner, To: usdc, Value: big.NewInt(0)}, call)
	require.Len(t, effs, 1)
	tr := effs[0].(*Transfer)
	assert.Equal(t, "USDC", tr.Token.Key())
	assert.Equal(t, owner, tr.From)
	assert.Equal(t, spender, tr.To)
	assert.Equal(t, "5", Units(tr.Token, tr.Amount).String())
}

func TestLocal_ValueAlongsideCall(t *testing.T) {
	call := decode(t, signatures.Approve, word(spender.Bytes()), math.MaxBig256.Bytes())

	effs := Local(Request{From: owner, To: usdc, Value: big.NewInt(10)}, call)
	require.Len(t, effs, 2)
	native := effs[0].(*Transfer)
	assert.True(t, native.Token.IsNative())
	assert.Equal(t, usdc, native.To)

	ap := effs[1].(*Approve)
	assert.True(t, ap.Unlimited)
	assert.Equal(t, owner, ap.Owner)
	assert.Equal(t, spender, ap.Spender)
}

func TestLocal_TransferFromUsesNamedParties(t *testing.T) {
	victim := common.HexToAddress("0x3333333333333333333333333333333333333333")
	call := decode(t, signatures.TransferFrom, word(victim.Bytes()), word(spender.Bytes()), word([]byte{9}))

	effs := Local(Request{From: owner, To: usdc}, call)
	require.Len(t, effs, 1)
	tr := effs[0].(*Transfer)
	assert.Equal(t, victim, tr.From)
	assert.Equal(t, spender, tr.To)
}

func TestLocal_NFT(t *testing.T) {
	call := decode(t, signatures.SafeTransferFrom, word(owner.Bytes()), word(spender.Bytes()), word([]byte{7}))
	effs := Local(Request{From: owner, To: nftAddr}, call)
	require.Len(t, effs, 1)
	tr := effs[0].(*Transfer)
	assert.Equal(t, signatures.ERC721, tr.Token.Standard)
	assert.Equal(t, int64(1), tr.Amount.Int64())
	assert.Equal(t, int64(7), tr.TokenID.Int64())

	call = decode(t, signatures.SetApprovalForAll, word(spender.Bytes()), word([]byte{0}))
	effs = Local(Request{From: owner, To: nftAddr}, call)
	require.Len(t, effs, 1)
	aa := effs[0].(*ApproveAll)
	assert.False(t, aa.Approved)
	assert.Equal(t, nftAddr, aa.Collection.Address)
}

func TestLocal_Unknown(t *testing.T) {
	call, err := calldata.Decode([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)

	effs := Local(Request{From: owner, To: usdc}, call)
	require.Len(t, effs, 1)
	assert.True(t, HasUnknown(effs))

	raw, err := json.Marshal(effs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unknown","contract":"`+usdc.Hex()+`","selector":"0xdeadbeef"}`, string(raw))
}

func TestTransfer_MarshalJSON(t *testing.T) {
	tr := &Transfer{
		Token:  signatures.NativeToken(),
		From:   owner,
		To:     spender,
		Amount: big.NewInt(1_500_000_000_000_000_000),
	}
	raw, err := json.Marshal(tr)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "transfer", got["type"])
	assert.Equal(t, "1500000000000000000", got["amount"])
	assert.Equal(t, "1.5", got["formatted"])
	assert.NotContains(t, got, "tokenId")
}

type fakeOracle struct {
	balance  *big.Int
	err      error
	delay    time.Duration
	calls    int
	reverted bool
}

func (f *fakeOracle) BalanceOf(ctx context.Context, _ signatures.Token, _ common.Address) (*big.Int, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func (f *fakeOracle) Preflight(context.Context, Request) (*Preflight, error) {
	return &Preflight{Checked: true, Reverts: f.reverted, Reason: "execution reverted"}, nil
}

func TestPredict_Enriched(t *testing.T) {
	o := &fakeOracle{balance: big.NewInt(42), reverted: true}
	p := NewPredictor(WithOracle(o, time.Second))

	call := decode(t, signatures.Transfer, word(spender.Bytes()), word([]byte{1}))
	pred := p.Predict(context.Background(), Request{From: owner, To: usdc, Value: big.NewInt(3)}, call)

	require.True(t, pred.Enriched)
	require.Len(t, pred.Effects, 2)
	for _, e := range pred.Effects {
		assert.Equal(t, int64(42), e.(*Transfer).Balance.Int64())
	}
	assert.Equal(t, 2, o.calls)
	require.NotNil(t, pred.Preflight)
	assert.True(t, pred.Preflight.Reverts)
}

func TestPredict_OracleFailureFallsBack(t *testing.T) {
	call := decode(t, signatures.Transfer, word(spender.Bytes()), word([]byte{1}))
	req := Request{From: owner, To: usdc}
	local := Local(req, call)

	tests := []struct {
		name   string
		oracle *fakeOracle
	}{
		{"error", &fakeOracle{err: errors.New("connection refused")}},
		{"timeout", &fakeOracle{balance: big.NewInt(1), delay: time.Second}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPredictor(WithOracle(tc.oracle, 20*time.Millisecond), WithLogger(logging.Discard()))
			pred := p.Predict(context.Background(), req, call)

			assert.False(t, pred.Enriched)
			assert.Nil(t, pred.Preflight)
			assert.Equal(t, local, pred.Effects)
			assert.Equal(t, 1, tc.oracle.calls)
		})
	}
}

func TestPredict_NoOracle(t *testing.T) {
	call := decode(t, signatures.Approve, word(spender.Bytes()), word([]byte{1}))
	pred := NewPredictor().Predict(context.Background(), Request{From: owner, To: usdc}, call)
	assert.False(t, pred.Enriched)
	assert.Len(t, pred.Effects, 1)
}
