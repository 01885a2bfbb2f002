package payment

import (
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
)

// Transition is one row of the payment lifecycle table.
type Transition struct {
	From  string
	Event string
	To    string

	MarkPaid bool
	Refund   bool
	Disburse bool
	// SubscriptionOnly limits the row to charges linked to a subscription.
	SubscriptionOnly bool
}

type transitionKey struct {
	from  string
	event string
}

var transitionTable = []Transition{
	{From: payment.StatusPending, Event: EventPaymentConfirmed, To: payment.StatusConfirmed, MarkPaid: true, Disburse: true},
	{From: payment.StatusPending, Event: EventPaymentReceived, To: payment.StatusReceived, MarkPaid: true, Disburse: true},
	{From: payment.StatusConfirmed, Event: EventPaymentReceived, To: payment.StatusReceived, MarkPaid: true, Disburse: true},

	{From: payment.StatusPending, Event: EventPaymentOverdue, To: payment.StatusOverdue},

	{From: payment.StatusPending, Event: EventPaymentDeleted, To: payment.StatusDeleted},
	{From: payment.StatusReceived, Event: EventPaymentDeleted, To: payment.StatusDeleted},
	{From: payment.StatusConfirmed, Event: EventPaymentDeleted, To: payment.StatusDeleted},
	{From: payment.StatusOverdue, Event: EventPaymentDeleted, To: payment.StatusDeleted},
	{From: payment.StatusRestored, Event: EventPaymentDeleted, To: payment.StatusDeleted},
	{From: payment.StatusRefunded, Event: EventPaymentDeleted, To: payment.StatusDeleted},

	{From: payment.StatusDeleted, Event: EventPaymentRestored, To: payment.StatusPending},

	{From: payment.StatusReceived, Event: EventPaymentRefunded, To: payment.StatusRefunded, Refund: true},
	{From: payment.StatusConfirmed, Event: EventPaymentRefunded, To: payment.StatusRefunded, Refund: true},

	{From: payment.StatusPending, Event: EventSubscriptionDeleted, To: payment.StatusDeleted, SubscriptionOnly: true},
}

var transitions = buildTransitions(transitionTable)

func buildTransitions(rows []Transition) map[transitionKey]Transition {
	m := make(map[transitionKey]Transition, len(rows))
	for _, row := range rows {
		key := transitionKey{from: row.From, event: row.Event}
		if _, dup := m[key]; dup {
			panic("duplicate transition " + row.From + "/" + row.Event)
		}
		m[key] = row
	}
	return m
}

// LookupTransition returns the row for (from, eventType). Pairs absent from the
// table leave the payment unchanged.
func LookupTransition(from, eventType string) (Transition, bool) {
	t, ok := transitions[transitionKey{from: from, event: eventType}]
	return t, ok
}

// Transitions lists the table rows in declaration order.
func Transitions() []Transition {
	out := make([]Transition, len(transitionTable))
	copy(out, transitionTable)
	return out
}

func (t Transition) sideEffects(p *payment.Payment, now time.Time) SideEffects {
	var fx SideEffects
	if t.MarkPaid {
		paidAt := now
		if p.PaidAt != nil {
			paidAt = *p.PaidAt
		}
		fx.PaidAt = &paidAt
	}
	if t.Refund {
		fx.ClearPaidAt = true
		fx.FailPendingCommissions = true
	}
	return fx
}
