// Package signatures is the fixed registry of contract functions the engine
// understands, plus the table of tokens it can name.
package signatures

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Selector is the first four bytes of keccak256 over a canonical signature.
type Selector [4]byte

// String renders the selector as 0x-prefixed hex.
func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Function names. PlainTransfer and Unknown are decoder outcomes, not
// registry entries.
const (
	Transfer          = "transfer"
	Approve           = "approve"
	TransferFrom      = "transferFrom"
	SafeTransferFrom  = "safeTransferFrom"
	SetApprovalForAll = "setApprovalForAll"
	PlainTransfer     = "plainTransfer"
	Unknown           = "unknown"
)

// Param is one positional ABI input.
type Param struct {
	Name string
	Type string // ABI type string, e.g. "address", "uint256", "bool"
}

// FunctionShape describes how to decode a selector's payload.
type FunctionShape struct {
	Name      string
	Signature string
	Selector  Selector
	Params    []Param
}

var registry = map[Selector]FunctionShape{}

func register(name string, params ...Param) {
	types := make([]string, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	sig := name + "(" + strings.Join(types, ",") + ")"
	shape := FunctionShape{
		Name:      name,
		Signature: sig,
		Selector:  SelectorOf(sig),
		Params:    params,
	}
	registry[shape.Selector] = shape
}

func init() {
	register(Transfer, Param{"to", "address"}, Param{"amount", "uint256"})
	register(Approve, Param{"spender", "address"}, Param{"amount", "uint256"})
	register(TransferFrom, Param{"from", "address"}, Param{"to", "address"}, Param{"amount", "uint256"})
	register(SafeTransferFrom, Param{"from", "address"}, Param{"to", "address"}, Param{"tokenId", "uint256"})
	register(SetApprovalForAll, Param{"operator", "address"}, Param{"approved", "bool"})
}

// SelectorOf hashes a canonical signature such as "transfer(address,uint256)".
func SelectorOf(signature string) Selector {
	var s Selector
	copy(s[:], crypto.Keccak256([]byte(signature))[:4])
	return s
}

// Lookup returns the shape registered for a selector.
func Lookup(sel Selector) (FunctionShape, bool) {
	shape, ok := registry[sel]
	return shape, ok
}

// ByName returns the registered shape with the given function name.
func ByName(name string) (FunctionShape, bool) {
	for _, shape := range registry {
		if shape.Name == name {
			return shape, true
		}
	}
	return FunctionShape{}, false
}

// All returns every registered shape. Order is unspecified.
func All() []FunctionShape {
	out := make([]FunctionShape, 0, len(registry))
	for _, shape := range registry {
		out = append(out, shape)
	}
	return out
}
