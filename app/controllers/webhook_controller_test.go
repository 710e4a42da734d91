package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookSignature(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *apiFixture) deliverWebhook(t *testing.T, payload []byte, signature, eventID string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Razorpay-Signature", signature)
	}
	if eventID != "" {
		req.Header.Set("X-Razorpay-Event-Id", eventID)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestBillingWebhookRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t)
	payload := []byte(`{"event":"subscription.charged"}`)

	resp := f.deliverWebhook(t, payload, "deadbeef", "evt_1")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "validation_error", body["error"])
}

func TestBillingWebhookRejectsMissingSignature(t *testing.T) {
	f := newAPIFixture(t)
	payload := []byte(`{"event":"subscription.charged"}`)

	resp := f.deliverWebhook(t, payload, "", "evt_1")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestBillingWebhookCancelsSubscription(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/api/v1/subscription/verify", fiber.Map{
		"payment_id":      "pay_123",
		"subscription_id": "sub_fake",
		"signature":       paymentSignature("pay_123", "sub_fake"),
		"plan_id":         "pro",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp.Body.Close()

	payload := []byte(`{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"sub_fake","status":"cancelled"}}}}`)
	resp = f.deliverWebhook(t, payload, webhookSignature(payload), "evt_cancel_1")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["received"])

	resp = f.request(t, http.MethodGet, "/api/v1/subscription/status", nil)
	status := decodeBody(t, resp)
	assert.Equal(t, "cancelled", status["subscription_status"])
	assert.Equal(t, false, status["is_paid_active"])
}

func TestBillingWebhookDuplicateDelivery(t *testing.T) {
	f := newAPIFixture(t)

	payload := []byte(`{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"sub_unknown"}}}}`)
	sig := webhookSignature(payload)

	for i := 0; i < 2; i++ {
		resp := f.deliverWebhook(t, payload, sig, "evt_dup_1")
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, fmt.Sprintf("delivery %d", i+1))
		resp.Body.Close()
	}
}

func TestBillingWebhookIgnoresUnknownEventType(t *testing.T) {
	f := newAPIFixture(t)

	payload := []byte(`{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_fake"}}}}`)
	resp := f.deliverWebhook(t, payload, webhookSignature(payload), "evt_halt_1")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
