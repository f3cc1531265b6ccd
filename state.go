package igauth

import (
	"context"
	"time"
)

// DefaultStateTTL bounds how long an issued state is accepted.
const DefaultStateTTL = 10 * time.Minute

// StateStore holds the single-use CSRF state between login and callback.
//
// Issue records state and returns the carrier value the client holds (the
// oauth_state cookie). Consume validates presented against the slot named by
// carrier and invalidates the slot whether or not validation succeeds.
type StateStore interface {
	Issue(ctx context.Context, state string, ttl time.Duration) (carrier string, err error)
	Consume(ctx context.Context, carrier, presented string) error
}
