package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyPaymentSignature checks the signature Razorpay attaches to a
// completed subscription payment: HMAC-SHA256(secret, payment_id + "|" +
// subscription_id), hex encoded. Comparison is constant-time. Returns false
// for malformed input, never an error, so callers can branch directly.
func VerifyPaymentSignature(paymentID, subscriptionID, signature, secret string) bool {
	paymentID = strings.TrimSpace(paymentID)
	subscriptionID = strings.TrimSpace(subscriptionID)
	if paymentID == "" || subscriptionID == "" || secret == "" {
		return false
	}
	return verifyHexHMAC([]byte(paymentID+"|"+subscriptionID), signature, secret)
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header:
// HMAC-SHA256(secret, raw body), hex encoded.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if len(payload) == 0 || secret == "" {
		return false
	}
	return verifyHexHMAC(payload, signature, secret)
}

func verifyHexHMAC(payload []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decoded)
}
