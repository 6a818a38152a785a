package effects

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptoc/txguard/internal/calldata"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/signatures"
)

// DefaultOracleTimeout bounds the single enrichment attempt.
const DefaultOracleTimeout = 2 * time.Second

// Oracle reads live chain state. Implementations must respect ctx.
type Oracle interface {
	BalanceOf(ctx context.Context, token signatures.Token, holder common.Address) (*big.Int, error)
	Preflight(ctx context.Context, req Request) (*Preflight, error)
}

// Preflight is the outcome of an eth_call dry run.
type Preflight struct {
	Checked bool   `json:"checked"`
	Reverts bool   `json:"reverts"`
	Reason  string `json:"reason,omitempty"`
}

// Prediction is the predicted effect set plus optional oracle output.
type Prediction struct {
	Effects   []Effect
	Preflight *Preflight
	Enriched  bool
}

// Predictor maps decoded calls onto effects.
type Predictor struct {
	oracle  Oracle
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithOracle enables enrichment. A non-positive timeout uses the default.
func WithOracle(o Oracle, timeout time.Duration) Option {
	return func(p *Predictor) {
		p.oracle = o
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithLogger sets the fallback logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Predictor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPredictor creates a predictor. Without WithOracle it is purely local.
func NewPredictor(opts ...Option) *Predictor {
	p := &Predictor{timeout: DefaultOracleTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict returns the local effect set, enriched by the oracle when one is
// configured and answers within the timeout. Oracle failure never fails the
// prediction.
func (p *Predictor) Predict(ctx context.Context, req Request, call *calldata.DecodedCall) *Prediction {
	pred := &Prediction{Effects: Local(req, call)}
	if p.oracle == nil {
		return pred
	}
	p.enrich(ctx, req, pred)
	return pred
}

// Local derives effects from the request and decoded call alone.
func Local(req Request, call *calldata.DecodedCall) []Effect {
	var out []Effect

	// Plain transfers always move value, even zero.
	if call.Function == signatures.PlainTransfer {
		return []Effect{&Transfer{
			Token:  signatures.NativeToken(),
			From:   req.From,
			To:     req.To,
			Amount: amountOrZero(req.Value),
		}}
	}

	if req.Value != nil && req.Value.Sign() > 0 {
		out = append(out, &Transfer{
			Token:  signatures.NativeToken(),
			From:   req.From,
			To:     req.To,
			Amount: new(big.Int).Set(req.Value),
		})
	}

	switch call.Function {
	case signatures.Transfer:
		to, _ := call.Address("to")
		amt, _ := call.Uint("amount")
		out = append(out, &Transfer{
			Token:  signatures.TokenByAddress(req.To),
			From:   req.From,
			To:     to,
			Amount: amt,
		})

	case signatures.Approve:
		spender, _ := call.Address("spender")
		amt, _ := call.Uint("amount")
		out = append(out, &Approve{
			Token:     signatures.TokenByAddress(req.To),
			Owner:     req.From,
			Spender:   spender,
			Amount:    amt,
			Unlimited: IsUnlimited(amt),
		})

	case signatures.TransferFrom:
		from, _ := call.Address("from")
		to, _ := call.Address("to")
		amt, _ := call.Uint("amount")
		out = append(out, &Transfer{
			Token:  signatures.TokenByAddress(req.To),
			From:   from,
			To:     to,
			Amount: amt,
		})

	case signatures.SafeTransferFrom:
		from, _ := call.Address("from")
		to, _ := call.Address("to")
		id, _ := call.Uint("tokenId")
		out = append(out, &Transfer{
			Token:   signatures.CollectionAt(req.To),
			From:    from,
			To:      to,
			Amount:  big.NewInt(1),
			TokenID: id,
		})

	case signatures.SetApprovalForAll:
		op, _ := call.Address("operator")
		approved, _ := call.Bool("approved")
		out = append(out, &ApproveAll{
			Collection: signatures.CollectionAt(req.To),
			Owner:      req.From,
			Operator:   op,
			Approved:   approved,
		})

	default:
		out = append(out, &Unknown{Contract: req.To, Selector: call.Selector})
	}

	return out
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// enrich makes one bounded pass over the oracle. Results are applied only if
// every lookup succeeded.
func (p *Predictor) enrich(ctx context.Context, req Request, pred *Prediction) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log := p.logger
	if id := logging.RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}

	balances := make(map[string]*big.Int)
	for _, e := range pred.Effects {
		t, ok := e.(*Transfer)
		if !ok || t.From != req.From || t.Token.Standard == signatures.ERC721 {
			continue
		}
		key := t.Token.Key()
		if _, seen := balances[key]; seen {
			continue
		}
		bal, err := p.oracle.BalanceOf(ctx, t.Token, req.From)
		if err != nil {
			log.Warn("oracle balance lookup failed, using local effects", "token", key, "error", err)
			return
		}
		balances[key] = bal
	}

	pf, err := p.oracle.Preflight(ctx, req)
	if err != nil {
		log.Warn("oracle preflight failed, using local effects", "error", err)
		return
	}

	for _, e := range pred.Effects {
		if t, ok := e.(*Transfer); ok {
			if bal, ok := balances[t.Token.Key()]; ok && t.From == req.From {
				t.Balance = bal
			}
		}
	}
	pred.Preflight = pf
	pred.Enriched = true
}
