package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentStatusChanged = "payment.status_changed"
	EventTypeCommissionDisbursed  = "commission.disbursed"
)

type PaymentStatusChangedEvent struct {
	BaseEvent
	PaymentID   string          `json:"payment_id"`
	ExternalID  string          `json:"external_id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Trigger     string          `json:"trigger"`
	ServiceType string          `json:"service_type"`
	ServiceData json.RawMessage `json:"service_data,omitempty"`
}

func NewPaymentStatusChangedEvent(paymentID, externalID, from, to, trigger, serviceType string, serviceData json.RawMessage) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentStatusChanged,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"payment_id":   paymentID,
				"external_id":  externalID,
				"from":         from,
				"to":           to,
				"trigger":      trigger,
				"service_type": serviceType,
				"service_data": serviceData,
			},
		},
		PaymentID:   paymentID,
		ExternalID:  externalID,
		From:        from,
		To:          to,
		Trigger:     trigger,
		ServiceType: serviceType,
		ServiceData: serviceData,
	}
}

type CommissionDisbursedEvent struct {
	BaseEvent
	CommissionID    string `json:"commission_id"`
	PaymentID       string `json:"payment_id"`
	AffiliateID     string `json:"affiliate_id"`
	CommissionValue string `json:"commission_value"`
	TransferID      string `json:"transfer_id"`
}

func NewCommissionDisbursedEvent(commissionID, paymentID, affiliateID, commissionValue, transferID string) *CommissionDisbursedEvent {
	return &CommissionDisbursedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeCommissionDisbursed,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"commission_id":    commissionID,
				"payment_id":       paymentID,
				"affiliate_id":     affiliateID,
				"commission_value": commissionValue,
				"transfer_id":      transferID,
			},
		},
		CommissionID:    commissionID,
		PaymentID:       paymentID,
		AffiliateID:     affiliateID,
		CommissionValue: commissionValue,
		TransferID:      transferID,
	}
}
