package payment

import (
	"encoding/json"
	"fmt"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/shopspring/decimal"
)

// Gateway webhook event types.
const (
	EventPaymentCreated        = "PAYMENT_CREATED"
	EventPaymentConfirmed      = "PAYMENT_CONFIRMED"
	EventPaymentReceived       = "PAYMENT_RECEIVED"
	EventPaymentReceivedInCash = "PAYMENT_RECEIVED_IN_CASH"
	EventPaymentCredited       = "PAYMENT_CREDITED"
	EventPaymentOverdue        = "PAYMENT_OVERDUE"
	EventPaymentDeleted        = "PAYMENT_DELETED"
	EventPaymentRestored       = "PAYMENT_RESTORED"
	EventPaymentRefunded       = "PAYMENT_REFUNDED"
	EventSubscriptionDeleted   = "SUBSCRIPTION_DELETED"
	EventTransferDone          = "TRANSFER_DONE"
	EventTransferFailed        = "TRANSFER_FAILED"
)

// aliases collapse gateway event variants onto the event the transition table knows.
var aliases = map[string]string{
	EventPaymentReceivedInCash: EventPaymentReceived,
	EventPaymentCredited:       EventPaymentReceived,
}

var paymentEvents = map[string]bool{
	EventPaymentCreated:        true,
	EventPaymentConfirmed:      true,
	EventPaymentReceived:       true,
	EventPaymentReceivedInCash: true,
	EventPaymentCredited:       true,
	EventPaymentOverdue:        true,
	EventPaymentDeleted:        true,
	EventPaymentRestored:       true,
	EventPaymentRefunded:       true,
}

type ChargeRef struct {
	ID           string          `json:"id"`
	Status       string          `json:"status,omitempty"`
	Value        decimal.Decimal `json:"value"`
	Subscription string          `json:"subscription,omitempty"`
}

type SubscriptionRef struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

type TransferRef struct {
	ID     string          `json:"id"`
	Status string          `json:"status,omitempty"`
	Value  decimal.Decimal `json:"value"`
}

// Event is an inbound gateway notification.
type Event struct {
	Type         string           `json:"event"`
	Payment      *ChargeRef       `json:"payment,omitempty"`
	Subscription *SubscriptionRef `json:"subscription,omitempty"`
	Transfer     *TransferRef     `json:"transfer,omitempty"`

	Raw []byte `json:"-"`
}

// ParseEvent decodes a webhook body. Every error it returns carries ErrCodeBadEvent.
func ParseEvent(raw []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, internal.NewBadEventError("malformed event payload").WithCause(err)
	}
	evt.Raw = raw

	if evt.Type == "" {
		return nil, internal.NewBadEventError("event type is missing")
	}

	switch {
	case paymentEvents[evt.Type]:
		if evt.Payment == nil || evt.Payment.ID == "" {
			return nil, internal.NewBadEventError(fmt.Sprintf("%s without payment reference", evt.Type))
		}
	case evt.Type == EventSubscriptionDeleted:
		if evt.Subscription == nil || evt.Subscription.ID == "" {
			return nil, internal.NewBadEventError(fmt.Sprintf("%s without subscription reference", evt.Type))
		}
	case evt.Type == EventTransferDone || evt.Type == EventTransferFailed:
		if evt.Transfer == nil || evt.Transfer.ID == "" {
			return nil, internal.NewBadEventError(fmt.Sprintf("%s without transfer reference", evt.Type))
		}
	default:
		if evt.Reference() == "" {
			return nil, internal.NewBadEventError(fmt.Sprintf("unrecognized event %s without any reference", evt.Type))
		}
	}

	return &evt, nil
}

// CanonicalType is the event type after alias resolution.
func (e *Event) CanonicalType() string {
	if alias, ok := aliases[e.Type]; ok {
		return alias
	}
	return e.Type
}

// Reference is the charge id, falling back to the subscription or transfer id.
func (e *Event) Reference() string {
	switch {
	case e.Payment != nil && e.Payment.ID != "":
		return e.Payment.ID
	case e.Subscription != nil && e.Subscription.ID != "":
		return e.Subscription.ID
	case e.Transfer != nil && e.Transfer.ID != "":
		return e.Transfer.ID
	}
	return ""
}

// PaymentRef extracts the charge id from a body that may not parse as an Event.
func PaymentRef(raw []byte) string {
	var envelope struct {
		Payment *struct {
			ID string `json:"id"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Payment == nil {
		return ""
	}
	return envelope.Payment.ID
}

// SynthesizeEvent builds the event the gateway would have sent for a charge
// now reported in gatewayStatus. ok is false when no event corresponds.
func SynthesizeEvent(externalID, gatewayStatus string) (*Event, bool) {
	eventType, ok := gatewayStatusEvents[gatewayStatus]
	if !ok {
		return nil, false
	}
	evt := &Event{
		Type:    eventType,
		Payment: &ChargeRef{ID: externalID, Status: gatewayStatus},
	}
	evt.Raw, _ = json.Marshal(evt)
	return evt, true
}

var gatewayStatusEvents = map[string]string{
	"CONFIRMED":        EventPaymentConfirmed,
	"RECEIVED":         EventPaymentReceived,
	"RECEIVED_IN_CASH": EventPaymentReceivedInCash,
	"OVERDUE":          EventPaymentOverdue,
	"REFUNDED":         EventPaymentRefunded,
}
