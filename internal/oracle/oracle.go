// Package oracle reads live chain state over JSON-RPC to enrich predicted
// effects: sender balances and an eth_call revert preflight.
//
// The oracle is strictly optional. Every public method either answers within
// the caller's context or returns an error wrapping ErrUnavailable; callers
// fall back to local prediction.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/cryptoc/txguard/internal/circuitbreaker"
	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/metrics"
	"github.com/cryptoc/txguard/internal/signatures"
)

// ErrUnavailable wraps every failure to reach or parse the provider.
var ErrUnavailable = errors.New("oracle: unavailable")

// Client is the subset of *ethclient.Client the oracle uses.
type Client interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const (
	breakerKey       = "rpc"
	DefaultCacheTTL  = 12 * time.Second // about one block
	defaultCacheSize = 8 << 20
)

// Oracle implements effects.Oracle against an Ethereum JSON-RPC endpoint.
type Oracle struct {
	client   Client
	erc20    abi.ABI
	breaker  *circuitbreaker.Breaker
	cache    *freecache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	closer   func()
}

var _ effects.Oracle = (*Oracle)(nil)

// Option configures an Oracle.
type Option func(*Oracle)

// WithCache sizes the balance cache in megabytes and sets its TTL. A size of
// zero disables caching.
func WithCache(sizeMB int, ttl time.Duration) Option {
	return func(o *Oracle) {
		if sizeMB <= 0 {
			o.cache = nil
			return
		}
		o.cache = freecache.NewCache(sizeMB << 20)
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(o *Oracle) {
		o.breaker = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = l
	}
}

// New wraps an existing client.
func New(client Client, opts ...Option) (*Oracle, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse erc20 abi: %w", err)
	}
	o := &Oracle{
		client:   client,
		erc20:    parsed,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		cache:    freecache.NewCache(defaultCacheSize),
		cacheTTL: DefaultCacheTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Dial connects to rpcURL. The connection is lazy for HTTP endpoints, so a
// dead provider surfaces on first use rather than here.
func Dial(ctx context.Context, rpcURL string, opts ...Option) (*Oracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrUnavailable, err)
	}
	o, err := New(client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	o.closer = client.Close
	return o, nil
}

// Close releases the RPC connection when the oracle owns it.
func (o *Oracle) Close() {
	if o.closer != nil {
		o.closer()
	}
}

// Ping asks the provider for its head block. It never reads the cache.
func (o *Oracle) Ping(ctx context.Context) error {
	err := o.breaker.Execute(breakerKey, func() error {
		_, err := o.client.BlockNumber(ctx)
		return err
	})
	metrics.OracleRequestsTotal.WithLabelValues("ping", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("%w: block number: %v", ErrUnavailable, err)
	}
	return nil
}

// BalanceOf returns holder's raw balance of token: wei for the native
// currency, base units for ERC20s.
func (o *Oracle) BalanceOf(ctx context.Context, token signatures.Token, holder common.Address) (*big.Int, error) {
	cacheKey := []byte("bal:" + token.Key() + ":" + holder.Hex())
	if o.cache != nil {
		if raw, err := o.cache.Get(cacheKey); err == nil {
			metrics.OracleRequestsTotal.WithLabelValues("balance", "cache_hit").Inc()
			return new(big.Int).SetBytes(raw), nil
		}
	}

	var bal *big.Int
	err := o.breaker.Execute(breakerKey, func() error {
		var err error
		if token.IsNative() {
			bal, err = o.client.BalanceAt(ctx, holder, nil)
			return err
		}
		bal, err = o.erc20Balance(ctx, token.Address, holder)
		return err
	})
	metrics.OracleRequestsTotal.WithLabelValues("balance", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %v", ErrUnavailable, token.Key(), err)
	}

	if o.cache != nil && bal.Sign() >= 0 {
		_ = o.cache.Set(cacheKey, bal.Bytes(), int(o.cacheTTL.Seconds()))
	}
	return bal, nil
}

func (o *Oracle) erc20Balance(ctx context.Context, contract, holder common.Address) (*big.Int, error) {
	input, err := o.erc20.Pack("balanceOf", holder)
	if err != nil {
		return nil, err
	}
	out, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := o.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(vals))
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", vals[0])
	}
	return bal, nil
}

// Preflight dry-runs the request with eth_call. A revert is a successful
// preflight with Reverts set; only transport failures are errors.
func (o *Oracle) Preflight(ctx context.Context, req effects.Request) (*effects.Preflight, error) {
	to := req.To
	msg := ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Gas:   req.GasLimit,
		Value: req.Value,
		Data:  req.Data,
	}

	var pf *effects.Preflight
	err := o.breaker.Execute(breakerKey, func() error {
		_, err := o.client.CallContract(ctx, msg, nil)
		if err == nil {
			pf = &effects.Preflight{Checked: true}
			return nil
		}
		if reason, ok := revertReason(err); ok {
			pf = &effects.Preflight{Checked: true, Reverts: true, Reason: reason}
			return nil
		}
		return err
	})
	metrics.OracleRequestsTotal.WithLabelValues("preflight", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%w: preflight: %v", ErrUnavailable, err)
	}
	if pf.Reverts {
		o.logger.Debug("preflight reverted", "from", req.From.Hex(), "to", req.To.Hex(), "reason", pf.Reason)
	}
	return pf, nil
}

// revertReason recognises an execution revert and extracts the Error(string)
// reason when the node returned revert data.
func revertReason(err error) (string, bool) {
	msg := err.Error()
	if !strings.Contains(msg, "execution reverted") {
		return "", false
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason, true
				}
			}
		}
	}
	return msg, true
}
