package domain

import "errors"

var (
	// ErrUpstreamUnavailable covers network and timeout failures talking to a
	// chain data source or a notification channel. Recoverable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidAddress is returned for malformed addresses before any network call.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrChannelNotRegistered means the user has no notification channel.
	ErrChannelNotRegistered = errors.New("notification channel not registered")

	// ErrRateLimited means an upstream quota was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = errors.New("not found")
)
