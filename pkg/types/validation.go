package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Compiled once; symbol validation runs on every subscribe.
var symbolRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// controlFrame shadows the credential fields so an absent key can be told
// apart from an empty value.
type controlFrame struct {
	ControlMessage
	ClientID     *string `json:"client_id"`
	ClientSecret *string `json:"client_secret"`
}

// ParseControlMessage decodes and validates one inbound frame. An authenticate
// frame must carry both credential keys; empty values are left for the auth
// gate to reject.
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := frame.ControlMessage
	if msg.Action == ActionAuthenticate {
		if frame.ClientID == nil || frame.ClientSecret == nil {
			return nil, ErrMissingCredentials
		}
		msg.ClientID = *frame.ClientID
		msg.ClientSecret = *frame.ClientSecret
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the action and the symbol of subscription changes.
// Credentials are checked by the auth gate, and a symbol that matches no topic,
// malformed or not, is the registry's call.
func (m *ControlMessage) Validate() error {
	switch m.Action {
	case "":
		return ErrMissingAction
	case ActionAuthenticate:
		return nil
	case ActionSubscribe, ActionUnsubscribe:
		if m.Symbol == "" {
			return ErrMissingSymbol
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
	}
}

// Validate rejects negative prices and an empty symbol.
func (q *Quote) Validate() error {
	if !IsValidSymbol(q.Symbol) {
		return ErrInvalidSymbol
	}
	if q.BestBid < 0 || q.BestAsk < 0 {
		return ErrInvalidQuote
	}
	return nil
}

// IsValidSymbol checks instrument name format, e.g. ETH-PERPETUAL or BTC-27DEC24.
func IsValidSymbol(symbol string) bool {
	if len(symbol) < 1 || len(symbol) > 64 {
		return false
	}
	return symbolRegex.MatchString(symbol)
}
