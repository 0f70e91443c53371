package subscription

import (
	"github.com/fatflowers/billingd/pkg/types"
)

// Event is a state-machine input on a subscription.
type Event string

const (
	EventAuthSuccess     Event = "auth_success"
	EventBillingSuccess  Event = "billing_success"
	EventBillingFailure  Event = "billing_failure"
	EventGraceExpired    Event = "grace_expired"
	EventCancelImmediate Event = "cancel_immediate"
	EventFinalizeCancel  Event = "finalize_cancel"
	EventReactivate      Event = "reactivate"
)

// transitions is the closed transition table. Anything not listed is an
// InvalidTransitionError; there is no default case.
var transitions = map[types.SubscriptionStatus]map[Event]types.SubscriptionStatus{
	types.SubscriptionStatusPendingAuth: {
		EventAuthSuccess: types.SubscriptionStatusActive,
	},
	types.SubscriptionStatusActive: {
		EventBillingSuccess:  types.SubscriptionStatusActive,
		EventBillingFailure:  types.SubscriptionStatusPastDue,
		EventCancelImmediate: types.SubscriptionStatusCancelled,
		EventFinalizeCancel:  types.SubscriptionStatusCancelled,
	},
	types.SubscriptionStatusPastDue: {
		EventBillingSuccess:  types.SubscriptionStatusActive,
		EventBillingFailure:  types.SubscriptionStatusPastDue,
		EventGraceExpired:    types.SubscriptionStatusExpired,
		EventCancelImmediate: types.SubscriptionStatusCancelled,
		EventFinalizeCancel:  types.SubscriptionStatusCancelled,
	},
	types.SubscriptionStatusCancelled: {
		EventReactivate: types.SubscriptionStatusActive,
	},
}

// NextStatus resolves the status reached by applying event from cur.
func NextStatus(cur types.SubscriptionStatus, event Event) (types.SubscriptionStatus, error) {
	if next, ok := transitions[cur][event]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{From: cur, Event: event}
}

// CanTransition reports whether event is legal from cur.
func CanTransition(cur types.SubscriptionStatus, event Event) bool {
	_, ok := transitions[cur][event]
	return ok
}
