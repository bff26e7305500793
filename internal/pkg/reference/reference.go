// internal/pkg/reference/reference.go
package reference

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// New generates a prefixed, lexically sortable unique reference,
// e.g. New("TXN") -> "TXN-01J8ZQ4V9W6XKQ2M3N4P5R6S7T".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, ulid.Make().String())
}

// NewTransaction generates a transaction reference.
func NewTransaction() string { return New("TXN") }

// NewCommission generates a commission record reference.
func NewCommission() string { return New("COM") }

// NewPayout generates a payout event reference.
func NewPayout() string { return New("PAY") }
