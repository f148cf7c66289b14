package auth

import "fmt"

// TokenError reports a failed token acquisition or refresh. StatusCode and
// Body are set when the token endpoint answered with a rejection; Err is set
// for transport and decoding failures.
type TokenError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("token exchange failed: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// SigningError reports a failure preparing request authentication. It is
// always raised before any network activity.
type SigningError struct {
	Reason string
	Err    error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request signing failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("request signing failed: %s", e.Reason)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
