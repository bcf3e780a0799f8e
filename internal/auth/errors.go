package auth

import "errors"

// ErrMissingCredentials is returned by NewGate when either half of the pair is empty
var ErrMissingCredentials = errors.New("client id and client secret are required")
