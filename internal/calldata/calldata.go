// Package calldata turns raw transaction input into a DecodedCall for one of
// the registered functions.
package calldata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/cryptoc/txguard/internal/signatures"
)

var (
	// ErrMalformedCalldata means a registered selector carried a payload that
	// does not decode to its parameter list.
	ErrMalformedCalldata = errors.New("calldata: malformed payload")

	// ErrInvalidHex means the data field was not hex.
	ErrInvalidHex = errors.New("calldata: invalid hex")
)

// MalformedCalldataError carries the function and decoder failure.
type MalformedCalldataError struct {
	Function string
	Reason   string
}

func (e *MalformedCalldataError) Error() string {
	return fmt.Sprintf("calldata: malformed %s payload: %s", e.Function, e.Reason)
}

func (e *MalformedCalldataError) Unwrap() error {
	return ErrMalformedCalldata
}

// Argument is one decoded input in ABI order. Value holds a common.Address,
// *big.Int or bool.
type Argument struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// MarshalJSON renders integers as decimal strings and addresses checksummed.
func (a Argument) MarshalJSON() ([]byte, error) {
	var v any
	switch x := a.Value.(type) {
	case common.Address:
		v = x.Hex()
	case *big.Int:
		v = x.String()
	default:
		v = x
	}
	return json.Marshal(struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Value any    `json:"value"`
	}{a.Name, a.Type, v})
}

// DecodedCall is the decoder's output. Function is one of the registry names,
// signatures.PlainTransfer or signatures.Unknown.
type DecodedCall struct {
	Selector  signatures.Selector `json:"-"`
	Function  string              `json:"functionName"`
	Arguments []Argument          `json:"arguments"`
}

// HasSelector reports whether the call carried at least four bytes of input.
func (d *DecodedCall) HasSelector() bool {
	return d.Function != signatures.PlainTransfer
}

// IsUnknown reports whether the selector was not in the registry.
func (d *DecodedCall) IsUnknown() bool {
	return d.Function == signatures.Unknown
}

// Address returns the named address argument.
func (d *DecodedCall) Address(name string) (common.Address, bool) {
	v, ok := d.arg(name).(common.Address)
	return v, ok
}

// Uint returns the named integer argument.
func (d *DecodedCall) Uint(name string) (*big.Int, bool) {
	v, ok := d.arg(name).(*big.Int)
	return v, ok && v != nil
}

// Bool returns the named boolean argument.
func (d *DecodedCall) Bool(name string) (bool, bool) {
	v, ok := d.arg(name).(bool)
	return v, ok
}

func (d *DecodedCall) arg(name string) any {
	for _, a := range d.Arguments {
		if a.Name == name {
			return a.Value
		}
	}
	return nil
}

// argument lists are built once per registered function
var argCache = map[signatures.Selector]abi.Arguments{}

func init() {
	for _, shape := range signatures.All() {
		args := make(abi.Arguments, len(shape.Params))
		for i, p := range shape.Params {
			typ, err := abi.NewType(p.Type, "", nil)
			if err != nil {
				panic(fmt.Sprintf("calldata: bad ABI type %q in %s: %v", p.Type, shape.Signature, err))
			}
			args[i] = abi.Argument{Name: p.Name, Type: typ}
		}
		argCache[shape.Selector] = args
	}
}

// Decode classifies and decodes a transaction's input.
//
// Input shorter than four bytes is a plain value transfer. A selector outside
// the registry decodes to Unknown without error. A registered selector whose
// payload does not decode fails with a *MalformedCalldataError; it is never
// downgraded to Unknown. Bytes past the canonical encoding are ignored.
func Decode(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return &DecodedCall{Function: signatures.PlainTransfer, Arguments: []Argument{}}, nil
	}

	var sel signatures.Selector
	copy(sel[:], data[:4])

	shape, ok := signatures.Lookup(sel)
	if !ok {
		return &DecodedCall{Selector: sel, Function: signatures.Unknown, Arguments: []Argument{}}, nil
	}

	args := argCache[sel]
	payload := data[4:]

	values, err := args.Unpack(payload)
	if err != nil {
		return nil, &MalformedCalldataError{Function: shape.Name, Reason: err.Error()}
	}
	if len(values) != len(shape.Params) {
		return nil, &MalformedCalldataError{Function: shape.Name, Reason: "argument count mismatch"}
	}

	// Unpack tolerates non-zero padding around addresses; a canonical
	// re-encode must reproduce the payload head exactly.
	canonical, err := args.Pack(values...)
	if err != nil {
		return nil, &MalformedCalldataError{Function: shape.Name, Reason: err.Error()}
	}
	if len(payload) < len(canonical) || !bytes.Equal(canonical, payload[:len(canonical)]) {
		return nil, &MalformedCalldataError{Function: shape.Name, Reason: "non-canonical argument encoding"}
	}

	out := &DecodedCall{
		Selector:  sel,
		Function:  shape.Name,
		Arguments: make([]Argument, len(values)),
	}
	for i, v := range values {
		out.Arguments[i] = Argument{Name: shape.Params[i].Name, Type: shape.Params[i].Type, Value: v}
	}
	return out, nil
}

// ParseHex decodes the data field of a request. The 0x prefix is optional
// and an empty string is empty input.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	} else {
		s = "0x" + s[2:]
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}
