package rewards

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RecipientRecord is the push engine's view of a beneficiary.
type RecipientRecord struct {
	Identity     common.Address `json:"identity"`
	RewardAmount *uint256.Int   `json:"rewardAmount"`
	Paid         bool           `json:"paid"`
}

// Clone returns a deep copy of the record.
func (r *RecipientRecord) Clone() *RecipientRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.RewardAmount = cloneAmount(r.RewardAmount)
	return &clone
}

// LedgerEntry tracks what the pull engine owes a beneficiary and what it has
// already paid out.
type LedgerEntry struct {
	Identity       common.Address `json:"identity"`
	PendingBalance *uint256.Int   `json:"pendingBalance"`
	TotalWithdrawn *uint256.Int   `json:"totalWithdrawn"`
}

// Clone returns a deep copy of the entry.
func (e *LedgerEntry) Clone() *LedgerEntry {
	if e == nil {
		return nil
	}
	clone := *e
	clone.PendingBalance = cloneAmount(e.PendingBalance)
	clone.TotalWithdrawn = cloneAmount(e.TotalWithdrawn)
	return &clone
}

// Totals aggregates the pull engine's pool counters.
type Totals struct {
	PoolBalance      *uint256.Int `json:"poolBalance"`
	TotalDeposited   *uint256.Int `json:"totalDeposited"`
	TotalDistributed *uint256.Int `json:"totalDistributed"`
	TotalRecovered   *uint256.Int `json:"totalRecovered"`
	TotalPending     *uint256.Int `json:"totalPending"`
}

func newTotals() Totals {
	return Totals{
		PoolBalance:      new(uint256.Int),
		TotalDeposited:   new(uint256.Int),
		TotalDistributed: new(uint256.Int),
		TotalRecovered:   new(uint256.Int),
		TotalPending:     new(uint256.Int),
	}
}

// Clone returns a deep copy of the totals.
func (t Totals) Clone() Totals {
	return Totals{
		PoolBalance:      cloneAmount(t.PoolBalance),
		TotalDeposited:   cloneAmount(t.TotalDeposited),
		TotalDistributed: cloneAmount(t.TotalDistributed),
		TotalRecovered:   cloneAmount(t.TotalRecovered),
		TotalPending:     cloneAmount(t.TotalPending),
	}
}

// Phase is the push engine's distribution state.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseDistributing
	PhaseCompleted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDistributing:
		return "distributing"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Operation names reported on receipts, events and metrics.
const (
	OpRegister          = "register"
	OpRegisterBatch     = "register_batch"
	OpIncreaseReward    = "increase_reward"
	OpDistribute        = "distribute"
	OpDeposit           = "deposit"
	OpWithdraw          = "withdraw"
	OpEmergencyWithdraw = "emergency_withdraw"
)

// Receipt summarises a committed operation.
type Receipt struct {
	Op         string         `json:"op"`
	Caller     common.Address `json:"caller"`
	Amount     *uint256.Int   `json:"amount"`
	Recipients int            `json:"recipients"`
	CostUsed   uint64         `json:"costUsed"`
}
