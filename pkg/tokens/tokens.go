// Package tokens issues short-lived, single-use webhook test tokens.
package tokens

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// TokenLength is the number of characters in a generated token.
	TokenLength = 10
	// TTL is how long an armed token stays redeemable.
	TTL = 5 * time.Minute
	// SweepInterval is how often expired in-memory sessions are dropped.
	SweepInterval = 60 * time.Second
)

// NewToken draws a TokenLength token from the URL-safe nanoid alphabet.
func NewToken() (string, error) {
	return gonanoid.New(TokenLength)
}
