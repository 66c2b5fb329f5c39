package notify

import (
	"fmt"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// DefaultAppURL is the mini-app opened from a notification.
const DefaultAppURL = "https://etherdrops-watcher.vercel.app"

// Channel payload limits.
const (
	MaxTitleLength     = 32
	MaxBodyLength      = 128
	MaxIDLength        = 128
	MaxTargetURLLength = 1024
)

var kindTitles = map[domain.TransactionKind]string{
	domain.KindMint:                "🎨 New Mint Detected!",
	domain.KindTransfer:            "💸 Transfer Detected!",
	domain.KindSwap:                "🔄 Token Swap Alert!",
	domain.KindContractInteraction: "⚡ Contract Activity!",
	domain.KindBurn:                "🔥 Burn Detected!",
}

var kindVerbs = map[domain.TransactionKind]string{
	domain.KindMint:     "minted",
	domain.KindTransfer: "transferred",
	domain.KindSwap:     "swapped",
	domain.KindBurn:     "burned",
}

// Title returns the title for a transaction kind.
func Title(kind domain.TransactionKind) string {
	if t, ok := kindTitles[kind]; ok {
		return t
	}
	return kindTitles[domain.KindContractInteraction]
}

// Body renders the body line for a classified transaction.
func Body(ct domain.ClassifiedTransaction) string {
	who := domain.ShortAddress(ct.Wallet)
	if ct.Kind == domain.KindContractInteraction {
		target := ct.To
		if target == "" {
			target = ct.TokenAddress
		}
		return fmt.Sprintf("%s interacted with contract: %s", who, domain.ShortAddress(target))
	}

	verb, ok := kindVerbs[ct.Kind]
	if !ok {
		verb = "moved"
	}
	body := fmt.Sprintf("%s %s %s %s", who, verb, FormatAmount(ct), ct.TokenSymbol)
	if ct.Kind != domain.KindBurn && ct.PriceKnown && ct.USDValue.IsPositive() {
		body += fmt.Sprintf(" ($%s)", ct.USDValue.StringFixed(2))
	}
	return body
}

// FormatAmount renders the transaction amount with at most six decimals.
func FormatAmount(ct domain.ClassifiedTransaction) string {
	if ct.IsNFT {
		return ct.Amount.Truncate(0).String()
	}
	return ct.Amount.Round(6).String()
}

// TargetURL links back to the app with the transaction selected.
func TargetURL(appURL string, ct domain.ClassifiedTransaction) string {
	if appURL == "" {
		appURL = DefaultAppURL
	}
	q := url.Values{}
	q.Set("wallet", ct.Wallet)
	q.Set("activity", ct.Kind.String())
	q.Set("tx", ct.Hash)
	q.Set("block", strconv.FormatUint(ct.BlockNumber, 10))
	return appURL + "?" + q.Encode()
}

// TransactionEvent builds the event for one subscriber of ct. The id is
// stable for the same (kind, tx, recipient).
func TransactionEvent(appURL string, ct domain.ClassifiedTransaction, sub domain.Subscription) domain.NotificationEvent {
	key := sub.ChannelKey()
	return domain.NotificationEvent{
		NotificationID: truncate(domain.TransactionNotificationID(ct.Kind, ct.Hash, key), MaxIDLength),
		Title:          truncate(Title(ct.Kind), MaxTitleLength),
		Body:           truncate(Body(ct), MaxBodyLength),
		TargetURL:      truncate(TargetURL(appURL, ct), MaxTargetURLLength),
		Channel:        sub.Channel,
		ChannelKey:     key,
		Kind:           ct.Kind,
		TxHash:         ct.Hash,
	}
}

// SystemEvent builds a notification that is not tied to a transaction.
func SystemEvent(channel domain.Channel, channelKey, title, body, targetURL string) domain.NotificationEvent {
	return domain.NotificationEvent{
		NotificationID: uuid.NewString(),
		Title:          truncate(title, MaxTitleLength),
		Body:           truncate(body, MaxBodyLength),
		TargetURL:      truncate(targetURL, MaxTargetURLLength),
		Channel:        channel,
		ChannelKey:     channelKey,
	}
}

// WalletAdded is sent after a wallet subscription is created.
func WalletAdded(appURL string, channel domain.Channel, channelKey, address string) domain.NotificationEvent {
	return SystemEvent(channel, channelKey, "🔍 New Wallet Added!",
		"Now tracking "+domain.ShortAddress(address), orDefault(appURL))
}

// WalletRemoved is sent after a wallet subscription is removed.
func WalletRemoved(appURL string, channel domain.Channel, channelKey, address string) domain.NotificationEvent {
	return SystemEvent(channel, channelKey, "❌ Wallet Removed",
		"Stopped tracking "+domain.ShortAddress(address), orDefault(appURL))
}

// Welcome is sent when the mini-app is added.
func Welcome(appURL string, channel domain.Channel, channelKey string) domain.NotificationEvent {
	return SystemEvent(channel, channelKey, "🎉 EtherDROPS Watcher Added!",
		"Start tracking Base wallets for real-time activity alerts", orDefault(appURL))
}

// DailySummary reports tracked wallets and detected transactions.
func DailySummary(appURL string, channel domain.Channel, channelKey string, wallets, transactions int) domain.NotificationEvent {
	return SystemEvent(channel, channelKey, "📊 Daily Wallet Summary",
		fmt.Sprintf("%d wallets tracked, %d transactions detected", wallets, transactions), orDefault(appURL))
}

func orDefault(appURL string) string {
	if appURL == "" {
		return DefaultAppURL
	}
	return appURL
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
