package domain

type ChainID string
type ChainName string

const (
	ChainIDBase   ChainID = "8453"
	ChainNameBase ChainName = "BASE_MAINNET"

	// DefaultBaseRPC is the public Base endpoint used when no provider is configured.
	DefaultBaseRPC = "https://mainnet.base.org"
)

// ChainIDToName maps ChainID to its human-readable name.
var ChainIDToName = map[ChainID]ChainName{
	ChainIDBase: ChainNameBase,
}
