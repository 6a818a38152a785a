package simulation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
)

// DefaultGasLimit is assumed when a request omits gasLimit.
const DefaultGasLimit = 21000

// Quantity is a non-negative integer that arrives as a JSON number, a decimal
// string or a 0x-prefixed hex string.
type Quantity struct {
	Int *big.Int
	Set bool
}

// UnmarshalJSON accepts 1000, "1000" and "0x3e8".
func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	q.Int = v
	q.Set = true
	return nil
}

// MarshalJSON renders the value as a decimal string.
func (q Quantity) MarshalJSON() ([]byte, error) {
	if q.Int == nil {
		return []byte(`"0"`), nil
	}
	return json.Marshal(q.Int.String())
}

// RawRequest is a transaction request as it arrives over the wire.
type RawRequest struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Value    Quantity `json:"value"`
	Data     string   `json:"data"`
	GasLimit Quantity `json:"gasLimit"`
}
