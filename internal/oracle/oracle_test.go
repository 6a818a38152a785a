package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptoc/txguard/internal/circuitbreaker"
	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/signatures"
)

var holder = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeClient struct {
	native      *big.Int
	erc20       *big.Int
	callErr     error
	balanceErr  error
	blockErr    error
	blockHits   int
	balanceHits int
	callHits    int
	lastCall    ethereum.CallMsg
}

func (f *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.balanceHits++
	return f.native, f.balanceErr
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) {
	f.blockHits++
	return 19_000_000, f.blockErr
}

func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.callHits++
	f.lastCall = msg
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.erc20 != nil {
		return common.LeftPadBytes(f.erc20.Bytes(), 32), nil
	}
	return nil, nil
}

type revertErr struct{ data string }

func (e revertErr) Error() string          { return "execution reverted" }
func (e revertErr) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	typ, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: typ}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

func TestBalanceOf_Native(t *testing.T) {
	c := &fakeClient{native: big.NewInt(5_420_000_000_000_000_000)}
	o, err := New(c)
	require.NoError(t, err)

	bal, err := o.BalanceOf(context.Background(), signatures.NativeToken(), holder)
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Cmp(c.native))

	// second read is served from cache
	_, err = o.BalanceOf(context.Background(), signatures.NativeToken(), holder)
	require.NoError(t, err)
	assert.Equal(t, 1, c.balanceHits)
}

func TestBalanceOf_ERC20(t *testing.T) {
	c := &fakeClient{erc20: big.NewInt(2_480_000_000)}
	o, err := New(c, WithCache(0, 0))
	require.NoError(t, err)

	usdc, _ := signatures.TokenBySymbol("USDC")
	bal, err := o.BalanceOf(context.Background(), usdc, holder)
	require.NoError(t, err)
	assert.Equal(t, int64(2_480_000_000), bal.Int64())

	require.NotNil(t, c.lastCall.To)
	assert.Equal(t, usdc.Address, *c.lastCall.To)
	assert.Equal(t, []byte{0x70, 0xa0, 0x82, 0x31}, c.lastCall.Data[:4]) // balanceOf(address)
}

func TestBalanceOf_Failure(t *testing.T) {
	c := &fakeClient{balanceErr: errors.New("dial tcp: connection refused")}
	o, err := New(c, WithBreaker(circuitbreaker.New(2, time.Minute)))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = o.BalanceOf(context.Background(), signatures.NativeToken(), holder)
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	// breaker opened after two failures
	assert.Equal(t, 2, c.balanceHits)
}

func TestPreflight(t *testing.T) {
	req := effects.Request{From: holder, To: common.HexToAddress("0x2222222222222222222222222222222222222222"), Value: big.NewInt(1), GasLimit: 21000}

	t.Run("succeeds", func(t *testing.T) {
		o, _ := New(&fakeClient{})
		pf, err := o.Preflight(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, pf.Checked)
		assert.False(t, pf.Reverts)
	})

	t.Run("reverts with reason", func(t *testing.T) {
		o, _ := New(&fakeClient{callErr: revertErr{data: revertData(t, "ERC20: insufficient allowance")}})
		pf, err := o.Preflight(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, pf.Reverts)
		assert.Equal(t, "ERC20: insufficient allowance", pf.Reason)
	})

	t.Run("reverts without data", func(t *testing.T) {
		o, _ := New(&fakeClient{callErr: errors.New("execution reverted")})
		pf, err := o.Preflight(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, pf.Reverts)
		assert.Equal(t, "execution reverted", pf.Reason)
	})

	t.Run("transport failure", func(t *testing.T) {
		o, _ := New(&fakeClient{callErr: context.DeadlineExceeded})
		_, err := o.Preflight(context.Background(), req)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://nowhere")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPing_BypassesCache(t *testing.T) {
	fc := &fakeClient{native: big.NewInt(7)}
	o, err := New(fc)
	require.NoError(t, err)

	_, err = o.BalanceOf(context.Background(), signatures.NativeToken(), holder)
	require.NoError(t, err)

	require.NoError(t, o.Ping(context.Background()))
	fc.blockErr = errors.New("connection refused")
	err = o.Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 2, fc.blockHits)

	// the cached balance still answers while the provider is down
	_, err = o.BalanceOf(context.Background(), signatures.NativeToken(), holder)
	assert.NoError(t, err)
	assert.Equal(t, 1, fc.balanceHits)
}
