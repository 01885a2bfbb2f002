package paymentgateway

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Transfer statuses reported by the gateway.
const (
	TransferStatusPending   = "PENDING"
	TransferStatusBankProc  = "BANK_PROCESSING"
	TransferStatusDone      = "DONE"
	TransferStatusCancelled = "CANCELLED"
	TransferStatusFailed    = "FAILED"
)

// ChargeSnapshot is the gateway's view of a charge.
type ChargeSnapshot struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Subscription      string          `json:"subscription,omitempty"`
	Value             decimal.Decimal `json:"value"`
	NetValue          decimal.Decimal `json:"netValue"`
	BillingType       string          `json:"billingType"`
	Status            string          `json:"status"`
	DueDate           string          `json:"dueDate"`
	PaymentDate       string          `json:"paymentDate,omitempty"`
	ExternalReference string          `json:"externalReference,omitempty"`
}

type CreateChargeRequest struct {
	Customer          string          `json:"customer"`
	BillingType       string          `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	DueDate           string          `json:"dueDate"`
	Description       string          `json:"description,omitempty"`
	ExternalReference string          `json:"externalReference,omitempty"`
}

func (r *CreateChargeRequest) Validate() error {
	if r.Customer == "" {
		return errors.New("customer is required")
	}
	if r.BillingType == "" {
		return errors.New("billingType is required")
	}
	if !r.Value.IsPositive() {
		return errors.New("value must be greater than 0")
	}
	if r.DueDate == "" {
		return errors.New("dueDate is required")
	}
	return nil
}

type TransferRequest struct {
	Value       decimal.Decimal `json:"value"`
	WalletID    string          `json:"walletId"`
	Description string          `json:"description,omitempty"`
}

func (r *TransferRequest) Validate() error {
	if r.WalletID == "" {
		return errors.New("walletId is required")
	}
	if !r.Value.IsPositive() {
		return errors.New("value must be greater than 0")
	}
	return nil
}

type TransferResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Value  decimal.Decimal `json:"value"`
}

// Rejected reports whether the gateway refused the transfer outright.
func (r *TransferResponse) Rejected() bool {
	return r.Status == TransferStatusFailed || r.Status == TransferStatusCancelled
}

type ErrorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}
