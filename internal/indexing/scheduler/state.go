package scheduler

import (
	"context"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// State is the polling phase of one watched address.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateClassifying
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StateDispatching:
		return "dispatching"
	}
	return "unknown"
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Observer receives every classified transaction and dispatch outcome.
type Observer interface {
	ObserveTransaction(ct domain.ClassifiedTransaction, significant bool)
	ObserveDispatch(event domain.NotificationEvent, result domain.DispatchResult)
}

type noopObserver struct{}

func (noopObserver) ObserveTransaction(domain.ClassifiedTransaction, bool)            {}
func (noopObserver) ObserveDispatch(domain.NotificationEvent, domain.DispatchResult) {}

// Registry is the read side of the subscription registry.
type Registry interface {
	Watched() []string
	ListFor(ctx context.Context, address string) ([]domain.Subscription, error)
}

// HeadReader reports the current chain head.
type HeadReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Dispatcher delivers one notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.NotificationEvent) domain.DispatchResult
}

// ChannelLookup resolves the current channel registration of a user.
type ChannelLookup interface {
	Get(ctx context.Context, fid int64) (domain.Channel, error)
}

// AddressStatus is a snapshot of one address in the scheduler.
type AddressStatus struct {
	Address   string `json:"address"`
	State     State  `json:"state"`
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Pending   int    `json:"pending_redeliveries,omitempty"`
}
