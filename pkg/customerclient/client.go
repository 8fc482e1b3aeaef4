/**
 * @description
 * This package provides a client for communicating with the customer-service.
 * It encapsulates the lookup of buyer details by the payment gateway's own
 * customer identifier, used when a notification arrives without an email or
 * name.
 */
package customerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the customer service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new customer service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CustomerDetail is the buyer record returned by the customer service.
type CustomerDetail struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// GetCustomerDetail fetches the buyer details linked to a gateway customer id.
func (c *Client) GetCustomerDetail(ctx context.Context, gatewaySpace, gatewayCustomerID string) (*CustomerDetail, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("customer service base url is empty")
	}
	if strings.TrimSpace(gatewayCustomerID) == "" {
		return nil, fmt.Errorf("gateway customer id is empty")
	}

	requestURL := fmt.Sprintf("%s/internal/customers/%s/%s",
		c.baseURL, url.PathEscape(gatewaySpace), url.PathEscape(gatewayCustomerID))

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to customer service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("customer service returned error status %d", resp.StatusCode)
	}

	var detail CustomerDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &detail, nil
}
