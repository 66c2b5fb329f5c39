package classify

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// Method selectors by kind.
var selectorKinds = map[string]domain.TransactionKind{
	// ERC-20 transfer, transferFrom
	"0xa9059cbb": domain.KindTransfer,
	"0x23b872dd": domain.KindTransfer,

	// Uniswap V2/V3 routers and Universal Router execute
	"0x38ed1739": domain.KindSwap, // swapExactTokensForTokens
	"0x7ff36ab5": domain.KindSwap, // swapExactETHForTokens
	"0x18cbafe5": domain.KindSwap, // swapExactTokensForETH
	"0x8803dbee": domain.KindSwap, // swapTokensForExactTokens
	"0x5c11d795": domain.KindSwap, // swapExactTokensForTokensSupportingFeeOnTransferTokens
	"0x414bf389": domain.KindSwap, // exactInputSingle (V3)
	"0x04e45aaf": domain.KindSwap, // exactInputSingle (SwapRouter02)
	"0x3593564c": domain.KindSwap, // execute

	"0x40c10f19": domain.KindMint, // mint(address,uint256)
	"0x6a627842": domain.KindMint, // mint(address)
	"0x7d1db4a5": domain.KindMint,
	"0xa0712d68": domain.KindMint, // mint(uint256)
	"0x1249c58b": domain.KindMint, // mint()
}

// TransferSingleTopic is the ERC-1155 TransferSingle event.
var TransferSingleTopic = topicOf("TransferSingle(address,address,address,uint256,uint256)")

var mintTopics = map[string]struct{}{
	topicOf("Mint(address,uint256)"):        {},
	topicOf("TokenMinted(address,uint256)"): {},
	topicOf("NFTMinted(address,uint256)"):   {},
	topicOf("Minted(address,uint256)"):      {},
}

func topicOf(signature string) string {
	return strings.ToLower(crypto.Keccak256Hash([]byte(signature)).Hex())
}

// Selector returns the lowercase 4-byte method selector of input, or ""
// when input carries no call data.
func Selector(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	if len(input) < 10 || !strings.HasPrefix(input, "0x") {
		return ""
	}
	return input[:10]
}
