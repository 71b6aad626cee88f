// Package exposure derives per-symbol net volume from account positions.
package exposure

import (
	"cmp"
	"slices"

	"acctmonitor/internal/account"
	"acctmonitor/internal/memorystore"
)

// Aggregate groups every position in entries by symbol. When symbol is
// non-empty only that instrument is returned. The result is ordered by
// symbol and is empty, not nil, for no input.
func Aggregate(entries map[account.ID]memorystore.Entry, symbol string) []account.SymbolExposure {
	type acc struct {
		exp      account.SymbolExposure
		accounts map[account.ID]struct{}
	}
	bySymbol := make(map[string]*acc)

	for id, e := range entries {
		for _, p := range e.Positions {
			if symbol != "" && p.Symbol != symbol {
				continue
			}
			a, ok := bySymbol[p.Symbol]
			if !ok {
				a = &acc{
					exp:      account.SymbolExposure{Symbol: p.Symbol},
					accounts: make(map[account.ID]struct{}),
				}
				bySymbol[p.Symbol] = a
			}
			a.exp.NetVolume = a.exp.NetVolume.Add(p.Volume)
			a.exp.PositionCount++
			a.accounts[id] = struct{}{}
		}
	}

	out := make([]account.SymbolExposure, 0, len(bySymbol))
	for _, a := range bySymbol {
		a.exp.AccountCount = len(a.accounts)
		out = append(out, a.exp)
	}
	slices.SortFunc(out, func(x, y account.SymbolExposure) int { return cmp.Compare(x.Symbol, y.Symbol) })
	return out
}

// Positions returns the open positions in symbol across all entries,
// ordered by account then position id.
func Positions(entries map[account.ID]memorystore.Entry, symbol string) []account.Position {
	out := make([]account.Position, 0)
	for id, e := range entries {
		for _, p := range e.Positions {
			if p.Symbol == symbol {
				p.AccountID = id
				out = append(out, p)
			}
		}
	}
	slices.SortFunc(out, func(x, y account.Position) int {
		if c := cmp.Compare(x.AccountID, y.AccountID); c != 0 {
			return c
		}
		return cmp.Compare(x.PositionID, y.PositionID)
	})
	return out
}
