package tokenauth

import "time"

// User is the OAuth identity record for a person who authorized the
// plugin. SealedAccessToken and SealedRefreshToken hold sealer.Sealer.Seal
// output at rest;
// Store implementations never expose the plaintext beyond the lifetime of
// a single GetValidAccessToken call.
type User struct {
	ID                string
	SealedAccessToken  string
	SealedRefreshToken string
	ExpiresAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
