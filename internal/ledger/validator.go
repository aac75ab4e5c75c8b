package ledger

import "fmt"

// InvariantValidator checks ledger invariants. Violations indicate
// bookkeeping bugs; the core panics on them rather than continuing.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is balanced and well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateFundingPoolZero verifies the funding pool nets to zero after
// a settlement batch applies
func (v *InvariantValidator) ValidateFundingPoolZero(market string) error {
	key := NewSystemAccountKey(market, SubTypeSystemFundingPool, QuoteAsset)
	balance := v.tracker.GetBalance(key)

	if balance != 0 {
		return fmt.Errorf("funding pool for %s has non-zero balance: %d", market, balance)
	}

	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
