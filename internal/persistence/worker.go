package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"PerpSim/internal/core"
	"PerpSim/internal/observability"
)

// rowBatch accumulates converted rows between flushes.
type rowBatch struct {
	outputs      []OutputRow
	fills        []FillRow
	funding      []FundingRow
	liquidations []LiquidationRow
	journals     []JournalRow
}

func (b *rowBatch) reset() {
	b.outputs = b.outputs[:0]
	b.fills = b.fills[:0]
	b.funding = b.funding[:0]
	b.liquidations = b.liquidations[:0]
	b.journals = b.journals[:0]
}

func (b *rowBatch) empty() bool {
	return len(b.outputs) == 0
}

// Worker drains the core's output channel and batch-writes audit rows
// to Postgres. It runs on its own goroutine; a full batch or the flush
// timeout triggers a write. Failed flushes retry with backoff and are
// never silently dropped.
type Worker struct {
	db           *sql.DB
	writer       *AuditWriter
	input        <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewAuditWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// Run blocks until ctx is cancelled or the input channel closes,
// flushing any remainder on the way out.
func (w *Worker) Run(ctx context.Context) error {
	var batch rowBatch

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if !batch.empty() {
				if err := w.flush(context.Background(), &batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				if !batch.empty() {
					if err := w.flushWithRetry(context.Background(), &batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			w.collect(&batch, out)

			if len(batch.outputs) >= w.batchSize {
				if err := w.flushWithRetry(ctx, &batch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if !batch.empty() {
				if err := w.flushWithRetry(ctx, &batch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// collect converts one core output into audit rows.
func (w *Worker) collect(batch *rowBatch, out core.Output) {
	batch.outputs = append(batch.outputs, OutputRow{
		Sequence:    out.Sequence,
		Kind:        string(out.Kind),
		StateHash:   out.StateHash[:],
		TimestampUs: out.Timestamp,
	})

	for _, f := range out.Fills {
		row := FillRow{
			FillID:      f.FillID.String(),
			Market:      f.Market,
			TakerUserID: f.TakerUserID.String(),
			TakerSide:   f.TakerSide.String(),
			Price:       f.Price,
			Quantity:    f.Quantity,
			Sequence:    f.Sequence,
			TimestampUs: f.Timestamp,
			Liquidation: f.Liquidation,
		}
		if !f.Liquidation {
			maker := f.MakerUserID.String()
			row.MakerUserID = &maker
		}
		batch.fills = append(batch.fills, row)
	}

	for _, l := range out.Liquidations {
		batch.liquidations = append(batch.liquidations, LiquidationRow{
			EventID:           l.EventID.String(),
			Market:            l.Market,
			UserID:            l.UserID.String(),
			Side:              l.Side.String(),
			Quantity:          l.Quantity,
			EntryPrice:        l.EntryPrice,
			MarkPrice:         l.MarkPrice,
			RealizedPnL:       l.RealizedPnL,
			Fee:               l.Fee,
			EquityBefore:      l.EquityBefore,
			MaintenanceMargin: l.MaintenanceMargin,
			CollateralAfter:   l.CollateralAfter,
			Sequence:          l.Sequence,
			TimestampUs:       l.Timestamp,
		})

		// Liquidation fills arrive through out.Fills inside the same
		// price-update output, so nothing extra to record here.
	}

	if f := out.Funding; f != nil {
		payments, err := json.Marshal(f.Payments)
		if err != nil {
			w.log.Warn().Err(err).Msg("marshal funding payments")
			payments = []byte("[]")
		}
		batch.funding = append(batch.funding, FundingRow{
			EventID:     f.EventID.String(),
			Market:      f.Market,
			Rate:        f.Rate,
			MarkPrice:   f.MarkPrice,
			IndexPrice:  f.IndexPrice,
			Payments:    payments,
			Residual:    f.Residual,
			Sequence:    f.Sequence,
			TimestampUs: f.Timestamp,
		})
	}

	for _, b := range out.Batches {
		for _, j := range b.Journals {
			batch.journals = append(batch.journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				TimestampUs:   j.Timestamp,
			})
		}
	}
}

// flushWithRetry retries with exponential backoff until the write
// succeeds or the context is cancelled; on cancellation it attempts one
// final write so the batch is not lost.
func (w *Worker) flushWithRetry(ctx context.Context, batch *rowBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("outputs", len(batch.outputs)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				return w.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			return nil
		}
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		w.log.Warn().Err(err).Msg("flush failed")
	}
}

// flush writes the whole batch in one transaction.
func (w *Worker) flush(ctx context.Context, batch *rowBatch) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteOutputs(ctx, tx, batch.outputs); err != nil {
		return err
	}
	if err := w.writer.WriteFills(ctx, tx, batch.fills); err != nil {
		return err
	}
	if err := w.writer.WriteFundingEvents(ctx, tx, batch.funding); err != nil {
		return err
	}
	if err := w.writer.WriteLiquidations(ctx, tx, batch.liquidations); err != nil {
		return err
	}
	if err := w.writer.WriteJournals(ctx, tx, batch.journals); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDuration.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch.outputs)))
	}
	return nil
}
