package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		name              string
		transactionStatus string
		fraudStatus       string
		want              Outcome
	}{
		{"settlement", "settlement", "", OutcomePaid},
		{"capture accepted", "capture", "accept", OutcomePaid},
		{"capture no fraud field", "capture", "", OutcomePaid},
		{"capture challenged", "capture", "challenge", OutcomeNone},
		{"capture odd fraud status", "capture", "suspicious", OutcomeUnknown},
		{"expire", "expire", "", OutcomeExpired},
		{"cancel", "cancel", "", OutcomeCancelled},
		{"deny", "deny", "", OutcomeCancelled},
		{"refund", "refund", "", OutcomeCancelled},
		{"partial refund", "partial_refund", "", OutcomeCancelled},
		{"pending", "pending", "", OutcomeNone},
		{"unrecognized", "authorize_v2", "", OutcomeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MapStatus(tc.transactionStatus, tc.fraudStatus))
		})
	}
}

func TestVerifyNotification(t *testing.T) {
	const key = "secret-server-key"
	n := Notification{
		OrderID:     "order-1",
		StatusCode:  "200",
		GrossAmount: "200000.00",
	}
	n.SignatureKey = Signature(n.OrderID, n.StatusCode, n.GrossAmount, key)

	require.NoError(t, VerifyNotification(n, key))

	t.Run("tampered amount", func(t *testing.T) {
		bad := n
		bad.GrossAmount = "1.00"
		require.ErrorIs(t, VerifyNotification(bad, key), ErrInvalidSignature)
	})

	t.Run("wrong key", func(t *testing.T) {
		require.ErrorIs(t, VerifyNotification(n, "other-key"), ErrInvalidSignature)
	})

	t.Run("empty signature", func(t *testing.T) {
		bad := n
		bad.SignatureKey = ""
		require.ErrorIs(t, VerifyNotification(bad, key), ErrInvalidSignature)
	})
}
