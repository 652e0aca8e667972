package dispatch

import (
	"errors"
	"fmt"
)

// SpanQuota counts spans in one turn against a limit. A limit of 0 or less
// means unlimited. Not safe for concurrent use; the turn loop owns it.
type SpanQuota struct {
	limit   int
	current int
}

// NewSpanQuota creates a quota with the given limit.
func NewSpanQuota(limit int) *SpanQuota {
	return &SpanQuota{limit: limit}
}

// Check counts one span and reports whether it is over the limit.
func (q *SpanQuota) Check(turn string) error {
	q.current++
	if q.limit > 0 && q.current > q.limit {
		return &QuotaExceededError{Turn: turn, Spans: q.current, Limit: q.limit}
	}
	return nil
}

// Current returns the number of spans counted.
func (q *SpanQuota) Current() int {
	return q.current
}

// QuotaExceededError is returned for every span past the limit.
type QuotaExceededError struct {
	Turn  string
	Spans int
	Limit int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("span %d exceeds the limit of %d spans per turn", e.Spans, e.Limit)
}

// IsQuotaExceeded reports whether err is a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
