package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the payment gateway REST API. Every call is a single
// attempt bounded by the configured timeout; retry policy belongs to callers.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) GetCharge(ctx context.Context, externalID string) (*gatewaytypes.ChargeSnapshot, error) {
	c.logger.Debug("gateway: fetching charge", "external_id", externalID)

	var snapshot gatewaytypes.ChargeSnapshot
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(externalID), nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) CreateCharge(ctx context.Context, req *gatewaytypes.CreateChargeRequest) (*gatewaytypes.ChargeSnapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeValidationFailed)
	}

	var snapshot gatewaytypes.ChargeSnapshot
	if err := c.do(ctx, http.MethodPost, "/payments", req, &snapshot); err != nil {
		return nil, err
	}

	c.logger.Info("gateway: charge created",
		"external_id", snapshot.ID,
		"customer_id", snapshot.Customer,
		"value", snapshot.Value.StringFixed(2))

	return &snapshot, nil
}

func (c *Client) CreateTransfer(ctx context.Context, req *gatewaytypes.TransferRequest) (*gatewaytypes.TransferResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, internal.NewValidationError(err.Error(), internal.ErrCodeInvalidAmount)
	}

	var transfer gatewaytypes.TransferResponse
	if err := c.do(ctx, http.MethodPost, "/transfers", req, &transfer); err != nil {
		return nil, err
	}

	if transfer.Rejected() {
		return &transfer, internal.NewExternalError(
			fmt.Sprintf("transfer %s rejected with status %s", transfer.ID, transfer.Status),
			internal.ErrCodeTransferRejected, nil)
	}

	c.logger.Info("gateway: transfer created",
		"transfer_id", transfer.ID,
		"wallet_id", req.WalletID,
		"value", req.Value.StringFixed(2),
		"status", transfer.Status)

	return &transfer, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("access_token", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("gateway: request failed", "method", method, "path", path, "error", err)
		return internal.NewExternalError("payment gateway unreachable", internal.ErrCodeGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return internal.NewNotFoundError(fmt.Sprintf("gateway resource %s not found", path), internal.ErrCodePaymentNotFound)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr gatewaytypes.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)

		message := fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		if len(apiErr.Errors) > 0 {
			message = fmt.Sprintf("%s: %s", message, apiErr.Errors[0].Description)
		}

		code := internal.ErrCodeGatewayUnavailable
		if resp.StatusCode < 500 {
			code = internal.ErrCodeTransferRejected
		}
		c.logger.Warn("gateway: non-success response", "method", method, "path", path, "status_code", resp.StatusCode)
		return internal.NewExternalError(message, code, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
