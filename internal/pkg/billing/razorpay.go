package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/inkwell-ai/inkwell/internal/pkg/env"
)

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com/v1"

const (
	gatewayAttempts   = 2
	gatewayRetryDelay = 2 * time.Second
)

// RazorpayClient implements Gateway against the Razorpay REST API.
type RazorpayClient struct {
	KeyID      string
	KeySecret  string
	APIBaseURL string

	HTTPClient *http.Client
}

// compile-time interface check
var _ Gateway = (*RazorpayClient)(nil)

func NewRazorpayClientFromEnv() *RazorpayClient {
	return &RazorpayClient{
		KeyID:      strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:  strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type razorpayCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type razorpayCustomerList struct {
	Count int                `json:"count"`
	Items []razorpayCustomer `json:"items"`
}

type razorpaySubscription struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	Status       string `json:"status"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
}

// CreateCustomer creates a provider customer, falling back to an email
// lookup when the provider reports the customer already exists.
func (c *RazorpayClient) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("customer email is required")
	}

	payload := map[string]any{
		"name":          name,
		"email":         email,
		"fail_existing": "1",
		"notes":         map[string]string{"user_id": strconv.FormatUint(uint64(userID), 10)},
	}

	var out razorpayCustomer
	err := c.doJSON(ctx, http.MethodPost, "/customers", payload, &out)
	if err != nil {
		if !isCustomerExistsError(err) {
			return "", err
		}
		existing, lookupErr := c.findCustomerByEmail(ctx, email)
		if lookupErr != nil {
			return "", lookupErr
		}
		return existing.ID, nil
	}
	if out.ID == "" {
		return "", errors.New("provider returned empty customer id")
	}
	return out.ID, nil
}

func (c *RazorpayClient) findCustomerByEmail(ctx context.Context, email string) (*razorpayCustomer, error) {
	var list razorpayCustomerList
	path := "/customers?email=" + url.QueryEscape(email) + "&count=1"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("customer with email %s not found at provider", email)
	}
	return &list.Items[0], nil
}

// CreateSubscription creates a provider subscription in the created state;
// payment happens on the client via the provider checkout and is confirmed
// through VerifyPaymentSignature.
func (c *RazorpayClient) CreateSubscription(ctx context.Context, planProviderID, customerEmail, customerName string, totalCycles int) (*CreatedSubscription, error) {
	if strings.TrimSpace(planProviderID) == "" {
		return nil, errors.New("provider plan id is required")
	}
	if totalCycles <= 0 {
		totalCycles = 12
	}

	payload := map[string]any{
		"plan_id":         planProviderID,
		"total_count":     totalCycles,
		"customer_notify": 1,
		"notes": map[string]string{
			"email": strings.TrimSpace(customerEmail),
			"name":  strings.TrimSpace(customerName),
		},
	}

	var out razorpaySubscription
	if err := c.doJSON(ctx, http.MethodPost, "/subscriptions", payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("provider returned empty subscription id")
	}
	return &CreatedSubscription{ID: out.ID, PlanID: out.PlanID, Status: out.Status}, nil
}

// GetSubscription fetches the authoritative subscription state, including
// the current billing period bounds.
func (c *RazorpayClient) GetSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	id := strings.TrimSpace(providerSubscriptionID)
	if id == "" {
		return nil, errors.New("provider subscription id is required")
	}

	var out razorpaySubscription
	if err := c.doJSON(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.toSubscription(), nil
}

// CancelSubscription cancels immediately or at the end of the current cycle.
func (c *RazorpayClient) CancelSubscription(ctx context.Context, providerSubscriptionID string, cancelAtCycleEnd bool) error {
	id := strings.TrimSpace(providerSubscriptionID)
	if id == "" {
		return errors.New("provider subscription id is required")
	}

	atCycleEnd := 0
	if cancelAtCycleEnd {
		atCycleEnd = 1
	}
	payload := map[string]any{"cancel_at_cycle_end": atCycleEnd}

	var out razorpaySubscription
	return c.doJSON(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(id)+"/cancel", payload, &out)
}

func (s *razorpaySubscription) toSubscription() *Subscription {
	sub := &Subscription{ID: s.ID, PlanID: s.PlanID, Status: s.Status}
	if s.CurrentStart > 0 {
		t := time.Unix(s.CurrentStart, 0).UTC()
		sub.CurrentPeriodStart = &t
	}
	if s.CurrentEnd > 0 {
		t := time.Unix(s.CurrentEnd, 0).UTC()
		sub.CurrentPeriodEnd = &t
	}
	return sub
}

// doJSON performs an authenticated request with bounded retries. Network
// errors and 5xx responses are retried once after a fixed delay and then
// surfaced wrapped in ErrExternalService; 4xx responses are returned as-is
// because retrying them cannot succeed.
func (c *RazorpayClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	if c.KeyID == "" || c.KeySecret == "" {
		return errors.New("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}

	var lastErr error
	for attempt := 0; attempt < gatewayAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrExternalService, ctx.Err())
			case <-time.After(gatewayRetryDelay):
			}
		}

		retryable, err := c.doJSONOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrExternalService, lastErr)
}

func (c *RazorpayClient) doJSONOnce(ctx context.Context, method, path string, payload, out any) (retryable bool, err error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return false, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(c.KeyID, c.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return true, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr razorpayError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return false, fmt.Errorf("provider rejected request (%s): %s", apiErr.Error.Code, apiErr.Error.Description)
		}
		return false, fmt.Errorf("provider rejected request: status=%d body=%s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("decode provider response: %w", err)
		}
	}
	return false, nil
}

func isCustomerExistsError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}
