package auth

import "crypto/subtle"

// Gate checks presented credentials against the single pair loaded at startup.
// It holds no per-connection state and is safe for concurrent use.
type Gate struct {
	clientID     []byte
	clientSecret []byte
}

// NewGate creates a gate for the given credential pair
func NewGate(clientID, clientSecret string) (*Gate, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}
	return &Gate{
		clientID:     []byte(clientID),
		clientSecret: []byte(clientSecret),
	}, nil
}

// Authenticate reports whether both values match exactly
func (g *Gate) Authenticate(clientID, clientSecret string) bool {
	idOK := subtle.ConstantTimeCompare(g.clientID, []byte(clientID))
	secretOK := subtle.ConstantTimeCompare(g.clientSecret, []byte(clientSecret))
	return idOK&secretOK == 1
}
