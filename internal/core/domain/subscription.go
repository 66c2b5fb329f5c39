package domain

import (
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// FilterConfig controls which transactions a subscription is notified about.
type FilterConfig struct {
	MinValue         string `json:"minValue"         yaml:"min_value"`
	TrackNFTs        bool   `json:"trackNFTs"        yaml:"track_nfts"`
	TrackTokens      bool   `json:"trackTokens"      yaml:"track_tokens"`
	TrackDeFi        bool   `json:"trackDeFi"        yaml:"track_defi"`
	NotifyOnMint     bool   `json:"notifyOnMint"     yaml:"notify_on_mint"`
	NotifyOnTransfer bool   `json:"notifyOnTransfer" yaml:"notify_on_transfer"`
}

// DefaultFilterConfig is applied when a wallet is added without a filter.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinValue:         "0",
		TrackNFTs:        true,
		TrackTokens:      true,
		TrackDeFi:        true,
		NotifyOnMint:     true,
		NotifyOnTransfer: true,
	}
}

// ErrInvalidMinValue is returned by Validate for a malformed or negative
// minimum value.
var ErrInvalidMinValue = errors.New("minValue must be a non-negative decimal")

// Validate checks MinValue. An empty MinValue means no threshold.
func (f FilterConfig) Validate() error {
	if f.MinValue == "" {
		return nil
	}
	d, err := decimal.NewFromString(f.MinValue)
	if err != nil || d.IsNegative() {
		return ErrInvalidMinValue
	}
	return nil
}

// MinValueDecimal parses MinValue. An unparsable value is treated as zero.
func (f FilterConfig) MinValueDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(f.MinValue)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Channel is where push notifications for a Farcaster user are delivered.
type Channel struct {
	FID       int64     `json:"fid"       db:"fid"`
	URL       string    `json:"url"       db:"url"`
	Token     string    `json:"token"     db:"token"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// IsZero reports whether the channel has no delivery target.
func (c Channel) IsZero() bool {
	return c.URL == "" || c.Token == ""
}

// Subscription binds a watched address to a user and their channel.
type Subscription struct {
	Address   string       `json:"address"`
	UserID    string       `json:"userId"`
	FID       int64        `json:"fid"`
	Channel   Channel      `json:"channel"`
	Filter    FilterConfig `json:"filter"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ChannelKey identifies the recipient for deduplication.
func (s Subscription) ChannelKey() string {
	if s.FID > 0 {
		return "fid:" + strconv.FormatInt(s.FID, 10)
	}
	return "user:" + s.UserID
}

// AddressCursor is the last block fully processed for a watched address.
type AddressCursor struct {
	Address   string    `json:"address"    db:"address"`
	Block     uint64    `json:"block"      db:"block_number"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
