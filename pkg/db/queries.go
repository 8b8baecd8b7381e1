package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// EnsureAccount creates the paper account with balance if it does not exist
// and returns the stored row.
func (d *Database) EnsureAccount(ctx context.Context, balance float64, currency string) (Account, error) {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO paper_account (id, balance, currency, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, balance, currency, time.Now().Unix())
	if err != nil {
		return Account{}, fmt.Errorf("seed account: %w", err)
	}
	return d.GetAccount(ctx)
}

// GetAccount returns the paper account.
func (d *Database) GetAccount(ctx context.Context) (Account, error) {
	var (
		a       Account
		updated int64
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT balance, currency, updated_at FROM paper_account WHERE id = 1
	`).Scan(&a.Balance, &a.Currency, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	return a, nil
}

// NextTicket returns a ticket number not used by any position or deal.
func (d *Database) NextTicket(ctx context.Context) (uint64, error) {
	var next uint64
	err := d.DB.QueryRowContext(ctx, `
		SELECT MAX(
			(SELECT COALESCE(MAX(ticket), 0) FROM paper_positions),
			(SELECT COALESCE(MAX(ticket), 0) FROM paper_deals),
			(SELECT COALESCE(MAX(ticket), 0) FROM paper_orders)
		) + 1
	`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next ticket: %w", err)
	}
	return next, nil
}

// OpenPosition stores a new position and its opening deal atomically.
func (d *Database) OpenPosition(ctx context.Context, p Position, deal Deal) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paper_positions (
			ticket, symbol, side, volume, entry_price, stop_loss, take_profit, magic, comment, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Ticket, p.Symbol, p.Side, p.Volume, p.EntryPrice, p.StopLoss, p.TakeProfit, p.Magic, p.Comment, p.OpenedAt.Unix()); err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	if err := insertDeal(ctx, tx, deal); err != nil {
		return err
	}
	return tx.Commit()
}

// ListPositions returns open positions for symbol, oldest first.
// An empty symbol lists every position.
func (d *Database) ListPositions(ctx context.Context, symbol string) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ticket, symbol, side, volume, entry_price, stop_loss, take_profit, magic, comment, opened_at
		FROM paper_positions
		WHERE ? = '' OR symbol = ?
		ORDER BY ticket
	`, symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var (
			p      Position
			opened int64
		)
		if err := rows.Scan(&p.Ticket, &p.Symbol, &p.Side, &p.Volume, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.Magic, &p.Comment, &opened); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.OpenedAt = time.Unix(opened, 0).UTC()
		res = append(res, p)
	}
	return res, rows.Err()
}

// GetPosition returns the open position with ticket.
func (d *Database) GetPosition(ctx context.Context, ticket uint64) (Position, error) {
	var (
		p      Position
		opened int64
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT ticket, symbol, side, volume, entry_price, stop_loss, take_profit, magic, comment, opened_at
		FROM paper_positions WHERE ticket = ?
	`, ticket).Scan(&p.Ticket, &p.Symbol, &p.Side, &p.Volume, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.Magic, &p.Comment, &opened)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, ErrNotFound
	}
	if err != nil {
		return Position{}, fmt.Errorf("query position %d: %w", ticket, err)
	}
	p.OpenedAt = time.Unix(opened, 0).UTC()
	return p, nil
}

// UpdateProtection sets stop-loss and take-profit of an open position.
func (d *Database) UpdateProtection(ctx context.Context, ticket uint64, sl, tp float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE paper_positions SET stop_loss = ?, take_profit = ? WHERE ticket = ?
	`, sl, tp, ticket)
	if err != nil {
		return fmt.Errorf("update protection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SettleClose reduces (or removes, when nothing is left) a position, records
// the closing deal and books its profit into the balance in one transaction.
func (d *Database) SettleClose(ctx context.Context, ticket uint64, remaining float64, deal Deal) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	if remaining <= 0 {
		res, err = tx.ExecContext(ctx, `DELETE FROM paper_positions WHERE ticket = ?`, ticket)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE paper_positions SET volume = ? WHERE ticket = ?`, remaining, ticket)
	}
	if err != nil {
		return fmt.Errorf("settle position %d: %w", ticket, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE paper_account SET balance = balance + ?, updated_at = ? WHERE id = 1
	`, deal.Profit, deal.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("book profit: %w", err)
	}
	if err := insertDeal(ctx, tx, deal); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDeals returns the most recent deals, newest first.
func (d *Database) ListDeals(ctx context.Context, limit int) ([]Deal, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, ticket, symbol, action, side, volume, price, profit, reason, created_at
		FROM paper_deals
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deals: %w", err)
	}
	defer rows.Close()

	var res []Deal
	for rows.Next() {
		var (
			dl      Deal
			created int64
		)
		if err := rows.Scan(&dl.ID, &dl.Ticket, &dl.Symbol, &dl.Action, &dl.Side, &dl.Volume, &dl.Price, &dl.Profit, &dl.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		dl.CreatedAt = time.Unix(created, 0).UTC()
		res = append(res, dl)
	}
	return res, rows.Err()
}

// InsertPendingOrder stores a resting order.
func (d *Database) InsertPendingOrder(ctx context.Context, o PendingOrder) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO paper_orders (ticket, symbol, type, price, time_setup) VALUES (?, ?, ?, ?, ?)
	`, o.Ticket, o.Symbol, o.Type, o.Price, o.TimeSetup.Unix())
	if err != nil {
		return fmt.Errorf("insert pending order: %w", err)
	}
	return nil
}

// ListPendingOrders returns resting orders for symbol.
func (d *Database) ListPendingOrders(ctx context.Context, symbol string) ([]PendingOrder, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ticket, symbol, type, price, time_setup
		FROM paper_orders
		WHERE ? = '' OR symbol = ?
		ORDER BY ticket
	`, symbol, symbol)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	var res []PendingOrder
	for rows.Next() {
		var (
			o     PendingOrder
			setup int64
		)
		if err := rows.Scan(&o.Ticket, &o.Symbol, &o.Type, &o.Price, &setup); err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		o.TimeSetup = time.Unix(setup, 0).UTC()
		res = append(res, o)
	}
	return res, rows.Err()
}

func insertDeal(ctx context.Context, tx *sql.Tx, dl Deal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO paper_deals (id, ticket, symbol, action, side, volume, price, profit, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dl.ID, dl.Ticket, dl.Symbol, dl.Action, dl.Side, dl.Volume, dl.Price, dl.Profit, dl.Reason, dl.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert deal: %w", err)
	}
	return nil
}
