package subscription

import (
	"errors"
	"fmt"

	"github.com/fatflowers/billingd/pkg/types"
)

// ErrPlanNotFound rejects an unknown plan id before any write.
var ErrPlanNotFound = errors.New("plan not found")

// InvalidTransitionError reports a state-machine event that is not legal
// from the subscription's current status.
type InvalidTransitionError struct {
	From  types.SubscriptionStatus
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid subscription transition: %s on %s", e.Event, e.From)
}

// ProrationError rejects a plan change before any write when the cycle or
// date inputs cannot produce a deterministic computation.
type ProrationError struct {
	Reason string
}

func (e *ProrationError) Error() string {
	return fmt.Sprintf("proration rejected: %s", e.Reason)
}
