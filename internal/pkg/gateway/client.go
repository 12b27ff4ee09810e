package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopgridhq/shopgrid/internal/pkg/env"
)

const defaultBaseURL = "https://tokenized.pay.example.com/v1.2.0-beta/tokenized"

const successStatusCode = "0000"

// Client talks to the tokenized-checkout payment gateway. All calls carry a
// bearer credential obtained via GrantToken/RefreshToken; use CredentialCache
// instead of calling those directly.
type Client struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Username  string
	Password  string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a gateway client from environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL:   strings.TrimRight(env.GetEnv("GATEWAY_BASE_URL", defaultBaseURL), "/"),
		AppKey:    strings.TrimSpace(env.GetEnv("GATEWAY_APP_KEY", "")),
		AppSecret: strings.TrimSpace(env.GetEnv("GATEWAY_APP_SECRET", "")),
		Username:  strings.TrimSpace(env.GetEnv("GATEWAY_USERNAME", "")),
		Password:  strings.TrimSpace(env.GetEnv("GATEWAY_PASSWORD", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// TokenResponse is the gateway's credential grant/refresh payload.
type TokenResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	IDToken       string `json:"id_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int    `json:"expires_in"`
	RefreshToken  string `json:"refresh_token"`
}

// CreatePaymentRequest opens a checkout session at the gateway.
type CreatePaymentRequest struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Intent      string `json:"intent"`
	CallbackURL string `json:"callbackURL"`
	InvoiceRef  string `json:"merchantInvoiceNumber"`
	PayerRef    string `json:"payerReference"`
}

// CreatePaymentResponse carries the gateway session id and the URL the payer
// must be redirected to.
type CreatePaymentResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	PaymentID     string `json:"paymentID"`
	RedirectURL   string `json:"checkoutURL"`
	InvoiceRef    string `json:"merchantInvoiceNumber"`
	CreateTime    string `json:"paymentCreateTime"`
}

// ExecutePaymentResponse confirms a completed payment.
type ExecutePaymentResponse struct {
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
	PaymentID         string `json:"paymentID"`
	TrxID             string `json:"trxID"`
	TransactionStatus string `json:"transactionStatus"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	PayerRef          string `json:"payerReference"`
	InvoiceRef        string `json:"merchantInvoiceNumber"`
	ExecuteTime       string `json:"paymentExecuteTime"`
}

// PaymentStatusResponse mirrors the gateway's own view of a session. The
// callback handler uses it to rebuild state when the local session row is
// missing.
type PaymentStatusResponse struct {
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
	PaymentID         string `json:"paymentID"`
	TrxID             string `json:"trxID"`
	TransactionStatus string `json:"transactionStatus"`
	Amount            string `json:"amount"`
	PayerRef          string `json:"payerReference"`
	InvoiceRef        string `json:"merchantInvoiceNumber"`
}

// GrantToken requests a fresh bearer credential from the gateway.
func (c *Client) GrantToken(ctx context.Context) (*TokenResponse, error) {
	if c.AppKey == "" || c.AppSecret == "" {
		return nil, fmt.Errorf("%w: GATEWAY_APP_KEY/GATEWAY_APP_SECRET are not configured", ErrGatewayAuth)
	}
	return c.requestToken(ctx, "/checkout/token/grant", map[string]string{
		"app_key":    c.AppKey,
		"app_secret": c.AppSecret,
	})
}

// RefreshToken exchanges a refresh token for a new credential.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrGatewayAuth)
	}
	return c.requestToken(ctx, "/checkout/token/refresh", map[string]string{
		"app_key":       c.AppKey,
		"app_secret":    c.AppSecret,
		"refresh_token": refreshToken,
	})
}

func (c *Client) requestToken(ctx context.Context, path string, payload map[string]string) (*TokenResponse, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("username", c.Username)
	req.Header.Set("password", c.Password)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrGatewayAuth, resp.StatusCode, string(respBody))
	}

	var out TokenResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayAuth, err)
	}
	if strings.TrimSpace(out.IDToken) == "" {
		return nil, fmt.Errorf("%w: token grant returned empty id_token (status=%s message=%s)", ErrGatewayAuth, out.StatusCode, out.StatusMessage)
	}
	return &out, nil
}

// CreatePayment opens a payment session and returns the gateway session id
// plus the payer redirect URL.
func (c *Client) CreatePayment(ctx context.Context, token string, in CreatePaymentRequest) (*CreatePaymentResponse, error) {
	var out CreatePaymentResponse
	if err := c.post(ctx, "/checkout/create", token, in, &out); err != nil {
		return nil, err
	}
	if out.StatusCode != successStatusCode {
		return nil, fmt.Errorf("%w: create rejected: status=%s message=%s", ErrGatewayRequest, out.StatusCode, out.StatusMessage)
	}
	if strings.TrimSpace(out.PaymentID) == "" || strings.TrimSpace(out.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: create response missing paymentID or checkoutURL", ErrGatewayRequest)
	}
	return &out, nil
}

// ExecutePayment confirms a payment session after the payer completed the
// checkout. A non-success transaction status is a gateway-reported failure.
func (c *Client) ExecutePayment(ctx context.Context, token, paymentID string) (*ExecutePaymentResponse, error) {
	var out ExecutePaymentResponse
	payload := map[string]string{"paymentID": paymentID}
	if err := c.post(ctx, "/checkout/execute", token, payload, &out); err != nil {
		return nil, err
	}
	if out.StatusCode != successStatusCode || !strings.EqualFold(out.TransactionStatus, "Completed") {
		return nil, fmt.Errorf("%w: execute rejected: status=%s trxStatus=%s message=%s",
			ErrGatewayRequest, out.StatusCode, out.TransactionStatus, out.StatusMessage)
	}
	if strings.TrimSpace(out.TrxID) == "" {
		return nil, fmt.Errorf("%w: execute response missing trxID", ErrGatewayRequest)
	}
	return &out, nil
}

// QueryPayment fetches the gateway's status for a session id.
func (c *Client) QueryPayment(ctx context.Context, token, paymentID string) (*PaymentStatusResponse, error) {
	var out PaymentStatusResponse
	payload := map[string]string{"paymentID": paymentID}
	if err := c.post(ctx, "/checkout/payment/status", token, payload, &out); err != nil {
		return nil, err
	}
	if out.StatusCode != successStatusCode {
		return nil, fmt.Errorf("%w: status query rejected: status=%s message=%s", ErrGatewayRequest, out.StatusCode, out.StatusMessage)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path, token string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("X-App-Key", c.AppKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: timeout on %s: %v", ErrGatewayRequest, path, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrGatewayRequest, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s: status=%d body=%s", ErrGatewayAuth, path, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: status=%d body=%s", ErrGatewayRequest, path, resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: invalid response: %v", ErrGatewayRequest, path, err)
	}
	return nil
}
