package deribit

import "context"

// Authenticate exchanges client credentials for an access token, which later
// private calls on this Client use.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret string) (*AuthResult, error) {
	params := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     clientID,
		"client_secret": clientSecret,
	}

	var result AuthResult
	if err := c.call(ctx, "public/auth", params, false, &result); err != nil {
		return nil, err
	}
	if result.AccessToken == "" {
		return nil, ErrEmptyResult
	}

	c.setAccessToken(result.AccessToken)
	return &result, nil
}

// Authenticated reports whether an access token is held
func (c *Client) Authenticated() bool {
	return c.accessToken() != ""
}
