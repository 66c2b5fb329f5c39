// Package recovery provides backoff policies for failing upstream work.
package recovery

import (
	"context"
	"errors"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

// FailureCategory groups errors by how they should be retried.
type FailureCategory int

const (
	// CategoryTransient failures are retried after a backoff.
	CategoryTransient FailureCategory = iota
	// CategoryRateLimited failures back off the whole data source.
	CategoryRateLimited
	// CategoryPermanent failures are not retried.
	CategoryPermanent
)

func (c FailureCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryPermanent:
		return "permanent"
	}
	return "unknown"
}

// Classifier maps an error to a FailureCategory.
type Classifier func(err error) FailureCategory

// DefaultClassifier understands the domain error taxonomy.
func DefaultClassifier(err error) FailureCategory {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return CategoryRateLimited
	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, context.Canceled):
		return CategoryPermanent
	}
	return CategoryTransient
}
