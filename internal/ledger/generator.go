package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"PerpSim/internal/fixmath"
)

// JournalGenerator creates balanced journal batches for the trading
// core. Margin is virtual and never escrowed, so the only collateral
// movements are seeding, realized PnL, funding, and liquidation fees.
type JournalGenerator struct {
	sequence int64
	market   string
}

func NewJournalGenerator(startSequence int64, market string) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
		market:   market,
	}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) journal(b *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       QuoteAsset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// GenerateSeedDeposit funds a configured account at startup.
// Moves funds: external:deposits -> user:collateral.
func (jg *JournalGenerator) GenerateSeedDeposit(
	userID uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("seed deposit for %s must be positive, got %d", userID, amount)
	}

	batch := jg.newBatch(fmt.Sprintf("seed:%s", userID), timestamp, 1)
	jg.journal(batch,
		NewUserAccountKey(userID, SubTypeCollateral, QuoteAsset),
		NewExternalAccountKey(SubTypeExternalDeposits, QuoteAsset),
		amount,
		JournalTypeSeedDeposit,
	)

	jg.sequence++
	return batch, nil
}

// GenerateRealizedPnL books the realized PnL of a reducing fill
// against the shared PnL pool. A zero PnL yields an empty batch, which
// the caller skips. Profit: pnl_pool -> user:collateral. Loss: the
// reverse. Because every fill has a counterparty closed at the same
// price, the pool nets to zero across matched reductions.
func (jg *JournalGenerator) GenerateRealizedPnL(
	userID uuid.UUID,
	realizedPnL int64,
	eventRef string,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 1)

	if realizedPnL > 0 {
		jg.journal(batch,
			NewUserAccountKey(userID, SubTypeCollateral, QuoteAsset),
			NewSystemAccountKey(jg.market, SubTypeSystemPnLPool, QuoteAsset),
			realizedPnL,
			JournalTypeRealizedPnL,
		)
	} else if realizedPnL < 0 {
		jg.journal(batch,
			NewSystemAccountKey(jg.market, SubTypeSystemPnLPool, QuoteAsset),
			NewUserAccountKey(userID, SubTypeCollateral, QuoteAsset),
			-realizedPnL,
			JournalTypeRealizedPnL,
		)
	}

	jg.sequence++
	return batch
}

// GenerateLiquidationFee debits the liquidation penalty from the user
// into system:fees. The fee is charged even when it drives collateral
// negative; the deficit stays visible on the account.
func (jg *JournalGenerator) GenerateLiquidationFee(
	userID uuid.UUID,
	fee int64,
	eventRef string,
	timestamp int64,
) (*Batch, error) {
	if fee <= 0 {
		return nil, fmt.Errorf("liquidation fee must be positive, got %d", fee)
	}

	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.journal(batch,
		NewSystemAccountKey(jg.market, SubTypeSystemFees, QuoteAsset),
		NewUserAccountKey(userID, SubTypeCollateral, QuoteAsset),
		fee,
		JournalTypeLiquidationFee,
	)

	jg.sequence++
	return batch, nil
}

// GenerateFundingSettlement creates ONE batch for a whole funding
// application: a journal per paying/receiving user plus the rounding
// residual, all flowing through system:funding_pool. The pool must be
// zero again after the batch applies.
func (jg *JournalGenerator) GenerateFundingSettlement(
	settlement *fixmath.FundingSettlement,
	timestamp int64,
) *Batch {
	eventRef := fmt.Sprintf("funding:%s:%d", jg.market, timestamp)
	batch := jg.newBatch(eventRef, timestamp, len(settlement.Payments)+1)

	pool := NewSystemAccountKey(jg.market, SubTypeSystemFundingPool, QuoteAsset)

	for _, payment := range settlement.Payments {
		userID := uuid.UUID(payment.UserID)
		collateral := NewUserAccountKey(userID, SubTypeCollateral, QuoteAsset)

		if payment.Payment > 0 {
			// User pays into the pool.
			jg.journal(batch, pool, collateral, payment.Payment, JournalTypeFundingSettle)
		} else {
			// User receives from the pool.
			jg.journal(batch, collateral, pool, -payment.Payment, JournalTypeFundingSettle)
		}
	}

	if settlement.RoundingFee > 0 {
		jg.journal(batch,
			NewSystemAccountKey(jg.market, SubTypeSystemFees, QuoteAsset),
			pool,
			settlement.RoundingFee,
			JournalTypeFundingResidual,
		)
	} else if settlement.RoundingFee < 0 {
		jg.journal(batch,
			pool,
			NewSystemAccountKey(jg.market, SubTypeSystemFees, QuoteAsset),
			-settlement.RoundingFee,
			JournalTypeFundingResidual,
		)
	}

	jg.sequence++
	return batch
}

// Sequence returns the next journal sequence number.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}
