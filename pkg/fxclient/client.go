/**
 * @description
 * This package provides a client for the internal currency-conversion
 * service. Conversion reporting endpoints may require amounts in a currency
 * different from the one the buyer paid in; this client translates minor-unit
 * amounts between currencies at the service's current rate.
 */
package fxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the FX service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new FX service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type convertRequest struct {
	Amount       int64  `json:"amount"`
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
}

type convertResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Convert translates an amount in minor units from one currency to another.
// Same-currency conversions short-circuit without a network call.
func (c *Client) Convert(ctx context.Context, amount int64, fromCurrency, toCurrency string) (int64, error) {
	from := strings.ToUpper(strings.TrimSpace(fromCurrency))
	to := strings.ToUpper(strings.TrimSpace(toCurrency))
	if from == "" || to == "" {
		return 0, fmt.Errorf("currency codes must not be empty")
	}
	if from == to {
		return amount, nil
	}
	if c.baseURL == "" {
		return 0, fmt.Errorf("fx service base url is empty")
	}

	body, err := json.Marshal(convertRequest{Amount: amount, FromCurrency: from, ToCurrency: to})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/internal/fx/convert", bytes.NewBuffer(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request to fx service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("fx service returned error status %d", resp.StatusCode)
	}

	var response convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Amount, nil
}
