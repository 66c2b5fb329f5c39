package classify

import "github.com/vietddude/dropwatch/internal/core/domain"

// TokenInfo describes a well-known Base token contract.
type TokenInfo struct {
	Symbol   string
	Decimals int32
}

// knownTokens maps Base token contracts to their metadata so log-only
// transfers can be labeled without an extra lookup.
var knownTokens = map[string]TokenInfo{
	"0x4200000000000000000000000000000000000006": {Symbol: "WETH", Decimals: 18},
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {Symbol: "USDC", Decimals: 6},
	"0xfde4c96c8593536e31f229ea8f37b2ada2699bb2": {Symbol: "USDT", Decimals: 6},
	"0x50c5725949a6f0c72e6c4a641f24049a917db0cb": {Symbol: "DAI", Decimals: 18},
	"0x2ae3f1ec7f1f5012cfeab0185bfc7aa3cf0dec22": {Symbol: "cbETH", Decimals: 18},
	"0x4ed4e862860bed51a9570b96d89af5e1b0efefed": {Symbol: "DEGEN", Decimals: 18},
	"0x0578d8a44db98b23bf096a382e016e29a5ce0ffe": {Symbol: "HIGHER", Decimals: 18},
}

// LookupToken returns metadata for a known token contract.
func LookupToken(contract string) (TokenInfo, bool) {
	info, ok := knownTokens[domain.NormalizeAddress(contract)]
	return info, ok
}
