package signatures

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Standard classifies how a token moves.
type Standard string

const (
	Native Standard = "native"
	ERC20  Standard = "erc20"
	ERC721 Standard = "erc721"
)

// Token identifies an asset an effect moves or approves.
type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
	Standard Standard       `json:"standard"`
}

// Key is the ledger key for the token: the symbol for named tokens, the
// checksummed contract address otherwise.
func (t Token) Key() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// IsNative reports whether the token is the chain's native currency.
func (t Token) IsNative() bool {
	return t.Standard == Native
}

var nativeToken = Token{Symbol: "ETH", Decimals: 18, Standard: Native}

// Mainnet token contracts the engine can name.
var knownTokens = []Token{
	{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6, Standard: ERC20},
	{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6, Standard: ERC20},
	{Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18, Standard: ERC20},
	{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18, Standard: ERC20},
}

// NativeToken returns the ETH descriptor.
func NativeToken() Token {
	return nativeToken
}

// TokenByAddress resolves a contract. Unrecognized contracts are treated as
// 18-decimal ERC20s keyed by address.
func TokenByAddress(addr common.Address) Token {
	for _, t := range knownTokens {
		if t.Address == addr {
			return t
		}
	}
	return Token{Address: addr, Decimals: 18, Standard: ERC20}
}

// CollectionAt describes an ERC721 collection contract.
func CollectionAt(addr common.Address) Token {
	return Token{Address: addr, Decimals: 0, Standard: ERC721}
}

// TokenBySymbol looks up a named token, case-insensitively. ETH is included.
func TokenBySymbol(symbol string) (Token, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == nativeToken.Symbol {
		return nativeToken, true
	}
	for _, t := range knownTokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// KnownTokens lists the named ERC20 contracts.
func KnownTokens() []Token {
	out := make([]Token, len(knownTokens))
	copy(out, knownTokens)
	return out
}
