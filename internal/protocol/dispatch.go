package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/broadcast"
	"acctmonitor/internal/monitor"
)

// Service is the part of the monitor that answers client requests.
type Service interface {
	AddAccount(id account.ID) error
	RemoveAccount(id account.ID) error
	Snapshot(id account.ID) (monitor.AccountView, bool)
	AllSnapshots() []monitor.AccountView
	Exposure(symbol string) []account.SymbolExposure
	PositionsBySymbol(symbol string) []account.Position
	Alerts() []account.Alert
	Stats() monitor.Stats
	Trades(id account.ID) (monitor.AccountTrades, bool)
	RefreshTrades(ctx context.Context, id account.ID) (monitor.AccountTrades, error)
}

// ExposureData is the payload of an exposure response.
type ExposureData struct {
	Symbol    string                   `json:"symbol,omitempty"`
	Exposure  []account.SymbolExposure `json:"exposure"`
	Positions []account.Position       `json:"positions_by_symbol,omitempty"`
}

// Dispatch executes req against svc and builds the reply.
func Dispatch(ctx context.Context, svc Service, req Request) Response {
	now := time.Now()
	switch r := req.(type) {
	case AddAccount:
		if err := svc.AddAccount(r.LoginID); err != nil {
			return ErrorResponse(err)
		}
		return Response{Type: TypeSuccess, LoginID: r.LoginID, Message: fmt.Sprintf("account %d added", r.LoginID), Timestamp: now}

	case RemoveAccount:
		if err := svc.RemoveAccount(r.LoginID); err != nil {
			return ErrorResponse(err)
		}
		return Response{Type: TypeSuccess, LoginID: r.LoginID, Message: fmt.Sprintf("account %d removed", r.LoginID), Timestamp: now}

	case GetSnapshot:
		if r.LoginID == 0 {
			return Response{Type: TypeSnapshot, Data: svc.AllSnapshots(), Timestamp: now}
		}
		v, ok := svc.Snapshot(r.LoginID)
		if !ok {
			return ErrorResponse(&account.ValidationError{Field: "login_id", Reason: fmt.Sprintf("no snapshot for account %d", r.LoginID)})
		}
		return Response{Type: TypeSnapshot, LoginID: r.LoginID, Data: v, Timestamp: now}

	case GetExposure:
		data := ExposureData{Symbol: r.Symbol, Exposure: svc.Exposure(r.Symbol)}
		if r.Symbol != "" {
			data.Positions = svc.PositionsBySymbol(r.Symbol)
		}
		return Response{Type: TypeExposure, Data: data, Timestamp: now}

	case GetStats:
		return Response{Type: TypeStats, Data: svc.Stats(), Timestamp: now}

	case GetAlerts:
		return Response{Type: TypeAlerts, Data: svc.Alerts(), Timestamp: now}

	case GetTrades:
		if !r.LoginID.Valid() {
			return ErrorResponse(&account.ValidationError{Field: "login_id", Reason: "is required"})
		}
		if !r.Refresh {
			if t, ok := svc.Trades(r.LoginID); ok && t.Summary.LastUpdated != nil {
				return Response{Type: TypeTrades, LoginID: r.LoginID, Data: t, Timestamp: now}
			}
		}
		t, err := svc.RefreshTrades(ctx, r.LoginID)
		if err != nil {
			return ErrorResponse(err)
		}
		return Response{Type: TypeTrades, LoginID: r.LoginID, Data: t, Timestamp: now}

	default:
		return ErrorResponse(&account.ValidationError{Field: "type", Reason: "unsupported request"})
	}
}

// ErrorResponse converts err into an error reply, naming the field for
// validation failures.
func ErrorResponse(err error) Response {
	resp := Response{Type: TypeError, Message: err.Error(), Timestamp: time.Now()}
	var ve *account.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	return resp
}

// FilterOf returns the query filter carried by req, if any.
func FilterOf(req Request) (broadcast.Filter, bool) {
	switch r := req.(type) {
	case GetSnapshot:
		return broadcast.Filter{AccountID: r.LoginID}, r.LoginID.Valid()
	case GetExposure:
		return broadcast.Filter{Symbol: r.Symbol}, r.Symbol != ""
	case GetTrades:
		return broadcast.Filter{AccountID: r.LoginID}, r.LoginID.Valid()
	}
	return broadcast.Filter{}, false
}

// ApplyFilter fills the account of a get_trades request that omits it from
// the requester's last filter. get_snapshot and get_exposure keep their
// "all" meaning when the field is omitted.
func ApplyFilter(req Request, f broadcast.Filter) Request {
	if r, ok := req.(GetTrades); ok && !r.LoginID.Valid() {
		r.LoginID = f.AccountID
		return r
	}
	return req
}
