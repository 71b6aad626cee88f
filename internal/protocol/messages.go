// Package protocol defines the request and response messages exchanged with
// monitor clients over the websocket connection.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"acctmonitor/internal/account"
)

// Request types.
const (
	TypeAddAccount    = "add_account"
	TypeRemoveAccount = "remove_account"
	TypeGetSnapshot   = "get_snapshot"
	TypeGetExposure   = "get_exposure"
	TypeGetStats      = "get_stats"
	TypeGetAlerts     = "get_alerts"
	TypeGetTrades     = "get_trades"
)

// Response types.
const (
	TypeSuccess  = "success"
	TypeSnapshot = "snapshot"
	TypeExposure = "exposure"
	TypeStats    = "stats"
	TypeAlerts   = "alerts"
	TypeTrades   = "trades"
	TypeError    = "error"
)

// Request is one decoded client request.
type Request interface {
	Type() string
}

type AddAccount struct{ LoginID account.ID }

type RemoveAccount struct{ LoginID account.ID }

// GetSnapshot asks for one account, or all accounts when LoginID is zero.
type GetSnapshot struct{ LoginID account.ID }

// GetExposure asks for the exposure of one symbol, or all when Symbol is
// empty.
type GetExposure struct{ Symbol string }

type GetStats struct{}

type GetAlerts struct{}

// GetTrades asks for the trade history of an account. Refresh forces a fetch
// from the backend.
// GetTrades asks for the trade history of one account. A zero LoginID falls
// back to the account of the requester's last query.
type GetTrades struct {
	LoginID account.ID
	Refresh bool
}

func (AddAccount) Type() string    { return TypeAddAccount }
func (RemoveAccount) Type() string { return TypeRemoveAccount }
func (GetSnapshot) Type() string   { return TypeGetSnapshot }
func (GetExposure) Type() string   { return TypeGetExposure }
func (GetStats) Type() string      { return TypeGetStats }
func (GetAlerts) Type() string     { return TypeGetAlerts }
func (GetTrades) Type() string     { return TypeGetTrades }

// Response is sent to the requesting client only.
type Response struct {
	Type      string     `json:"type"`
	Message   string     `json:"message,omitempty"`
	Field     string     `json:"field,omitempty"`
	LoginID   account.ID `json:"login_id,omitempty"`
	Data      any        `json:"data,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// envelope is the wire form of a request.
type envelope struct {
	Type    string          `json:"type"`
	LoginID json.RawMessage `json:"login_id"`
	Symbol  json.RawMessage `json:"symbol"`
	Refresh json.RawMessage `json:"refresh"`
}

func invalid(field, reason string) error {
	return &account.ValidationError{Field: field, Reason: reason}
}

// Decode parses a client message. Errors are ValidationErrors naming the
// offending field.
func Decode(msg []byte) (Request, error) {
	// Step 1: extract the type tag
	var meta struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(msg, &meta); err != nil {
		return nil, invalid("message", "must be a JSON object")
	}
	if len(meta.Type) == 0 || bytes.Equal(meta.Type, []byte("null")) {
		return nil, invalid("type", "is required")
	}
	var typ string
	if err := json.Unmarshal(meta.Type, &typ); err != nil {
		return nil, invalid("type", "must be a string")
	}

	// Step 2: parse the fields of that type
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, invalid("message", err.Error())
	}

	switch typ {
	case TypeAddAccount:
		id, err := requiredLogin(env.LoginID)
		if err != nil {
			return nil, err
		}
		return AddAccount{LoginID: id}, nil
	case TypeRemoveAccount:
		id, err := requiredLogin(env.LoginID)
		if err != nil {
			return nil, err
		}
		return RemoveAccount{LoginID: id}, nil
	case TypeGetSnapshot:
		id, err := optionalLogin(env.LoginID)
		if err != nil {
			return nil, err
		}
		return GetSnapshot{LoginID: id}, nil
	case TypeGetExposure:
		sym, err := optionalSymbol(env.Symbol)
		if err != nil {
			return nil, err
		}
		return GetExposure{Symbol: sym}, nil
	case TypeGetStats:
		return GetStats{}, nil
	case TypeGetAlerts:
		return GetAlerts{}, nil
	case TypeGetTrades:
		id, err := optionalLogin(env.LoginID)
		if err != nil {
			return nil, err
		}
		req := GetTrades{LoginID: id}
		if present(env.Refresh) {
			if err := json.Unmarshal(env.Refresh, &req.Refresh); err != nil {
				return nil, invalid("refresh", "must be a boolean")
			}
		}
		return req, nil
	default:
		return nil, invalid("type", "unknown request type "+strconv.Quote(typ))
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func requiredLogin(raw json.RawMessage) (account.ID, error) {
	if !present(raw) {
		return 0, invalid("login_id", "is required")
	}
	return parseLogin(raw)
}

func optionalLogin(raw json.RawMessage) (account.ID, error) {
	if !present(raw) {
		return 0, nil
	}
	return parseLogin(raw)
}

// parseLogin accepts a JSON number or a numeric string.
func parseLogin(raw json.RawMessage) (account.ID, error) {
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, invalid("login_id", "must be a positive integer")
		}
		n = json.Number(strings.TrimSpace(s))
	} else if err := json.Unmarshal(raw, &n); err != nil {
		return 0, invalid("login_id", "must be a positive integer")
	}

	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || !account.ID(v).Valid() {
		return 0, invalid("login_id", "must be a positive integer")
	}
	return account.ID(v), nil
}

func optionalSymbol(raw json.RawMessage) (string, error) {
	if !present(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid("symbol", "must be a string")
	}
	return NormalizeSymbol(s), nil
}

// NormalizeSymbol trims and upper-cases an instrument symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
