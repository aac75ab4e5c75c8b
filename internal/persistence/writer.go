// Package persistence writes the core's audit trail to Postgres in
// batches: outputs, fills, funding, liquidations, and journal rows.
// Persistence is optional; the core never blocks on it.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AuditWriter batch-inserts audit rows. Multi-row INSERT with
// ON CONFLICT DO NOTHING keeps replays idempotent.
type AuditWriter struct {
	db *sql.DB
}

func NewAuditWriter(db *sql.DB) *AuditWriter {
	return &AuditWriter{db: db}
}

// OutputRow is one row in perpsim.outputs: the applied-event log.
type OutputRow struct {
	Sequence    int64
	Kind        string
	StateHash   []byte
	TimestampUs int64
}

// FillRow is one row in perpsim.fills.
type FillRow struct {
	FillID      string
	Market      string
	MakerUserID *string // nil for liquidation closes
	TakerUserID string
	TakerSide   string
	Price       int64
	Quantity    int64
	Sequence    int64
	TimestampUs int64
	Liquidation bool
}

// FundingRow is one row in perpsim.funding_events. Payments are stored
// as a JSON document; per-user legs also appear in the journal.
type FundingRow struct {
	EventID     string
	Market      string
	Rate        int64
	MarkPrice   int64
	IndexPrice  int64
	Payments    []byte
	Residual    int64
	Sequence    int64
	TimestampUs int64
}

// LiquidationRow is one row in perpsim.liquidations.
type LiquidationRow struct {
	EventID           string
	Market            string
	UserID            string
	Side              string
	Quantity          int64
	EntryPrice        int64
	MarkPrice         int64
	RealizedPnL       int64
	Fee               int64
	EquityBefore      int64
	MaintenanceMargin int64
	CollateralAfter   int64
	Sequence          int64
	TimestampUs       int64
}

// JournalRow is one row in perpsim.journal: one double-entry transfer.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        int64
	JournalType   string
	TimestampUs   int64
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// multiInsert builds the placeholder list for a multi-row insert with
// cols columns per row.
func multiInsert(rows, cols int) string {
	values := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		ph := make([]string, 0, cols)
		for j := 0; j < cols; j++ {
			ph = append(ph, fmt.Sprintf("$%d", i*cols+j+1))
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
	}
	return strings.Join(values, ", ")
}

func (w *AuditWriter) WriteOutputs(ctx context.Context, tx execer, rows []OutputRow) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO perpsim.outputs (sequence, kind, state_hash, timestamp_us) VALUES ` +
		multiInsert(len(rows), 4) + ` ON CONFLICT (sequence) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*4)
	for _, r := range rows {
		args = append(args, r.Sequence, r.Kind, r.StateHash, r.TimestampUs)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *AuditWriter) WriteFills(ctx context.Context, tx execer, rows []FillRow) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO perpsim.fills
		(fill_id, market, maker_user_id, taker_user_id, taker_side, price, quantity, sequence, timestamp_us, liquidation)
		VALUES ` + multiInsert(len(rows), 10) + ` ON CONFLICT (fill_id) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*10)
	for _, r := range rows {
		args = append(args,
			r.FillID, r.Market, r.MakerUserID, r.TakerUserID, r.TakerSide,
			r.Price, r.Quantity, r.Sequence, r.TimestampUs, r.Liquidation,
		)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *AuditWriter) WriteFundingEvents(ctx context.Context, tx execer, rows []FundingRow) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO perpsim.funding_events
		(event_id, market, rate, mark_price, index_price, payments, residual, sequence, timestamp_us)
		VALUES ` + multiInsert(len(rows), 9) + ` ON CONFLICT (event_id) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*9)
	for _, r := range rows {
		args = append(args,
			r.EventID, r.Market, r.Rate, r.MarkPrice, r.IndexPrice,
			r.Payments, r.Residual, r.Sequence, r.TimestampUs,
		)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *AuditWriter) WriteLiquidations(ctx context.Context, tx execer, rows []LiquidationRow) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO perpsim.liquidations
		(event_id, market, user_id, side, quantity, entry_price, mark_price, realized_pnl, fee,
		 equity_before, maintenance_margin, collateral_after, sequence, timestamp_us)
		VALUES ` + multiInsert(len(rows), 14) + ` ON CONFLICT (event_id) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*14)
	for _, r := range rows {
		args = append(args,
			r.EventID, r.Market, r.UserID, r.Side, r.Quantity,
			r.EntryPrice, r.MarkPrice, r.RealizedPnL, r.Fee,
			r.EquityBefore, r.MaintenanceMargin, r.CollateralAfter,
			r.Sequence, r.TimestampUs,
		)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func (w *AuditWriter) WriteJournals(ctx context.Context, tx execer, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}
	query := `INSERT INTO perpsim.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp_us)
		VALUES ` + multiInsert(len(rows), 9) + ` ON CONFLICT (journal_id) DO NOTHING`

	args := make([]interface{}, 0, len(rows)*9)
	for _, r := range rows {
		args = append(args,
			r.JournalID, r.BatchID, r.EventRef, r.Sequence,
			r.DebitAccount, r.CreditAccount, r.Amount, r.JournalType, r.TimestampUs,
		)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
