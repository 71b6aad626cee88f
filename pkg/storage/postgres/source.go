package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/pkg/backend"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAccountNotFound is returned when the login has no mirror row.
var ErrAccountNotFound = errors.New("account not found")

func (p *PostgresClient) FetchAccount(ctx context.Context, id account.ID) (account.Fields, error) {
	var rec AccountRecord
	err := p.DB.WithContext(ctx).
		Where("login = ?", int64(id)).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return account.Fields{}, fmt.Errorf("login %d: %w", id, ErrAccountNotFound)
	}
	if err != nil {
		return account.Fields{}, wrap(err)
	}

	return account.Fields{
		Balance:    rec.Balance,
		Equity:     rec.Equity,
		Margin:     rec.Margin,
		FreeMargin: rec.MarginFree,
		Profit:     rec.Profit,
		Currency:   rec.Currency,
		Group:      rec.Group,
		Leverage:   rec.Leverage,
	}, nil
}

// FetchPositions returns the open positions of id ordered by ticket.
func (p *PostgresClient) FetchPositions(ctx context.Context, id account.ID) ([]account.Position, error) {
	var records []PositionRecord
	err := p.DB.WithContext(ctx).
		Where("login = ?", int64(id)).
		Order("ticket").
		Find(&records).Error
	if err != nil {
		return nil, wrap(err)
	}

	out := make([]account.Position, 0, len(records))
	for _, r := range records {
		out = append(out, account.Position{
			AccountID:    id,
			PositionID:   r.Ticket,
			Symbol:       r.Symbol,
			Volume:       backend.SignedVolume(r.Side, r.Volume),
			OpenPrice:    r.PriceOpen,
			CurrentPrice: r.PriceCurrent,
			Profit:       r.Profit,
		})
	}
	return out, nil
}

// FetchTrades returns the deals of id closed in the last sinceDays days,
// oldest first.
func (p *PostgresClient) FetchTrades(ctx context.Context, id account.ID, sinceDays int) ([]account.Trade, error) {
	from := time.Now().AddDate(0, 0, -sinceDays).Unix()

	var records []DealRecord
	err := p.DB.WithContext(ctx).
		Where("login = ? AND time_close >= ?", int64(id), from).
		Order("time_close, ticket").
		Find(&records).Error
	if err != nil {
		return nil, wrap(err)
	}

	out := make([]account.Trade, 0, len(records))
	for _, r := range records {
		out = append(out, account.Trade{
			AccountID: id,
			TradeID:   r.Ticket,
			Symbol:    r.Symbol,
			Volume:    backend.SignedVolume(r.Side, r.Volume),
			OpenTime:  time.Unix(r.TimeOpen, 0).UTC(),
			CloseTime: time.Unix(r.TimeClose, 0).UTC(),
			Profit:    r.Profit,
		})
	}
	return out, nil
}

// UpsertAccount inserts or replaces the account row.
func (p *PostgresClient) UpsertAccount(ctx context.Context, record *AccountRecord) error {
	return p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "login"}},
		UpdateAll: true,
	}).Create(record).Error
}

// ReplacePositions swaps the open positions of login for records in one
// transaction.
func (p *PostgresClient) ReplacePositions(ctx context.Context, login int64, records []PositionRecord) error {
	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("login = ?", login).Delete(&PositionRecord{}).Error; err != nil {
			return fmt.Errorf("delete positions: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		for i := range records {
			records[i].Login = login
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("insert positions: %w", err)
		}
		return nil
	})
}

// InsertDeal stores a closed deal. Deals are immutable, so a duplicate ticket
// is reported as an error and left unchanged.
func (p *PostgresClient) InsertDeal(ctx context.Context, record *DealRecord) error {
	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticket"}},
		DoNothing: true,
	}).Create(record)

	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return fmt.Errorf("duplicate deal skipped: ticket=%d login=%d", record.Ticket, record.Login)
	}

	return nil
}
