package domain

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the all-zero EVM address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// NormalizeAddress returns the canonical (lowercase) key for an address.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValidAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsZeroAddress reports whether address is empty or the zero address.
func IsZeroAddress(address string) bool {
	a := NormalizeAddress(address)
	return a == "" || a == ZeroAddress
}

// ChecksumAddress returns the EIP-55 form of a valid address.
func ChecksumAddress(address string) string {
	if !IsValidAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}

// ShortAddress renders 0x1234...abcd.
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// TransferTopic is keccak256("Transfer(address,address,uint256)"), shared by
// ERC-20 and ERC-721.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// AddressTopic left-pads an address to a 32-byte indexed log topic.
func AddressTopic(address string) string {
	return strings.ToLower(common.BytesToHash(common.HexToAddress(address).Bytes()).Hex())
}

// TopicAddress extracts the address from a 32-byte indexed topic.
func TopicAddress(topic string) string {
	if len(topic) < 42 {
		return ""
	}
	return strings.ToLower("0x" + topic[len(topic)-40:])
}
