package domain

import "fmt"

// NotificationEvent is a single notification addressed to one channel.
type NotificationEvent struct {
	NotificationID string          `json:"notificationId"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	TargetURL      string          `json:"targetUrl"`
	Channel        Channel         `json:"-"`
	ChannelKey     string          `json:"-"`
	Kind           TransactionKind `json:"-"`
	TxHash         string          `json:"-"`
}

// Payload is the wire body delivered to a channel URL.
type Payload struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetURL      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

// Payload builds the wire body for the event's channel.
func (e NotificationEvent) Payload() Payload {
	return Payload{
		NotificationID: e.NotificationID,
		Title:          e.Title,
		Body:           e.Body,
		TargetURL:      e.TargetURL,
		Tokens:         []string{e.Channel.Token},
	}
}

// TransactionNotificationID is stable for the same (kind, tx, recipient).
func TransactionNotificationID(kind TransactionKind, hash, channelKey string) string {
	return fmt.Sprintf("%s-%s-%s", kind, hash, channelKey)
}

// DispatchResult reports the outcome of delivering one event.
type DispatchResult struct {
	NotificationID string `json:"notificationId"`
	ChannelKey     string `json:"channelKey"`
	Delivered      bool   `json:"delivered"`
	InvalidToken   bool   `json:"invalidToken"`
	RateLimited    bool   `json:"rateLimited"`
	StatusCode     int    `json:"statusCode"`
	Attempts       int    `json:"attempts"`
	Err            error  `json:"-"`
}
