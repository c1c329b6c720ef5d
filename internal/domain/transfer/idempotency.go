package transfer

import (
	"fmt"

	"github.com/google/uuid"
)

// idempotencyNamespace scopes the name-based UUIDs used as gateway references
var idempotencyNamespace = uuid.MustParse("6f1c9d2e-4b7a-5e83-9a0d-3c52e8f7b614")

// IdempotencyKey derives the gateway reference for one attempt.
// The same payment, recipient and attempt always yield the same key.
func IdempotencyKey(paymentRef string, recipientType RecipientType, attempt int) string {
	name := fmt.Sprintf("%s:%s:%d", paymentRef, recipientType, attempt)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}
