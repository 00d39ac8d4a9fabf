package auth

import "errors"

var (
	ErrChallengeExpired     = errors.New("auth: challenge expired or not found")
	ErrChallengeAlreadyUsed = errors.New("auth: challenge already used")
	ErrSignatureInvalid     = errors.New("auth: signature invalid")
	ErrSessionInvalid       = errors.New("auth: session invalid")
	ErrInvalidToken         = errors.New("auth: invalid access token")
	ErrInvalidInput         = errors.New("auth: invalid input")
	ErrNotFound             = errors.New("auth: identity not found")
)

// IsUnauthenticated reports whether err means the caller must (re-)authenticate.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrChallengeExpired) ||
		errors.Is(err, ErrChallengeAlreadyUsed) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrSessionInvalid) ||
		errors.Is(err, ErrInvalidToken)
}
