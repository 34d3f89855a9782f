package rewards

import (
	"fmt"
	"math"
	"math/bits"
)

// DefaultCostLimit is the per-operation resource ceiling used when a runtime is
// not configured with one explicitly.
const DefaultCostLimit uint64 = 6_000_000

// CostModel prices the primitive steps engine operations are made of. Units
// are abstract; the defaults follow the shape of EVM gas schedules so that the
// push/pull comparison reads familiarly.
type CostModel struct {
	TxBase       uint64 `toml:"TxBase" json:"txBase"`
	RecordRead   uint64 `toml:"RecordRead" json:"recordRead"`
	RecordWrite  uint64 `toml:"RecordWrite" json:"recordWrite"`
	RecordCreate uint64 `toml:"RecordCreate" json:"recordCreate"`
	Transfer     uint64 `toml:"Transfer" json:"transfer"`
}

// DefaultCostModel returns the stock cost schedule.
func DefaultCostModel() CostModel {
	return CostModel{
		TxBase:       21_000,
		RecordRead:   2_100,
		RecordWrite:  5_000,
		RecordCreate: 20_000,
		Transfer:     34_000,
	}
}

// DistributeCost is the cost of a push distribution over unpaid recipients
// that accept their transfer without running code: one read while summing the
// liabilities, then a read, a transfer and the paid-flag write per recipient.
func (m CostModel) DistributeCost(unpaid int) uint64 {
	perRecipient := satAdd(satAdd(satMul(2, m.RecordRead), m.Transfer), m.RecordWrite)
	return satAdd(m.TxBase, satMul(uint64(nonNegative(unpaid)), perRecipient))
}

// RegisterCost is the cost of registering created new identities and updating
// updated existing ones in a single call. It depends only on the batch, never
// on how many identities are already on file.
func (m CostModel) RegisterCost(created, updated int) uint64 {
	c, u := uint64(nonNegative(created)), uint64(nonNegative(updated))
	cost := satAdd(m.TxBase, satMul(satAdd(c, u), m.RecordRead))
	cost = satAdd(cost, satMul(c, m.RecordCreate))
	return satAdd(cost, satMul(u, m.RecordWrite))
}

// WithdrawCost is the cost of a pull withdrawal to a plain recipient. It is
// constant in the number of beneficiaries.
func (m CostModel) WithdrawCost() uint64 {
	return satAdd(satAdd(m.TxBase, m.RecordRead), satAdd(satMul(3, m.RecordWrite), m.Transfer))
}

// DepositCost is the cost of funding the pull pool.
func (m CostModel) DepositCost() uint64 {
	return satAdd(m.TxBase, satMul(2, m.RecordWrite))
}

// EmergencyWithdrawCost is the cost of sweeping funds back to the custodian.
func (m CostModel) EmergencyWithdrawCost() uint64 {
	return satAdd(satAdd(m.TxBase, satMul(2, m.RecordRead)), satAdd(m.RecordWrite, m.Transfer))
}

// MaxDistributable reports the largest number of plain recipients a single
// push distribution can pay under limit.
func (m CostModel) MaxDistributable(limit uint64) int {
	per := satAdd(satAdd(satMul(2, m.RecordRead), m.Transfer), m.RecordWrite)
	if limit < m.TxBase || per == 0 {
		return 0
	}
	n := (limit - m.TxBase) / per
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// Meter charges resource usage against a fixed ceiling.
type Meter struct {
	limit uint64
	used  uint64
}

// NewMeter returns a meter allowing limit units.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Consume charges units. Exceeding the ceiling exhausts the meter and returns
// ErrResourceExceeded.
func (m *Meter) Consume(units uint64, what string) error {
	remaining := m.Remaining()
	if units > remaining {
		m.used = m.limit
		return fmt.Errorf("%w: %s needs %d units, %d of %d left", ErrResourceExceeded, what, units, remaining, m.limit)
	}
	m.used += units
	return nil
}

// Used reports the units consumed so far.
func (m *Meter) Used() uint64 { return m.used }

// Limit reports the ceiling.
func (m *Meter) Limit() uint64 { return m.limit }

// Remaining reports the units still available.
func (m *Meter) Remaining() uint64 {
	if m.used >= m.limit {
		return 0
	}
	return m.limit - m.used
}

// forward carves out the budget handed to receiver code: all but one 64th of
// what is left, so the caller can always finish unwinding.
func (m *Meter) forward() *Meter {
	remaining := m.Remaining()
	return NewMeter(remaining - remaining/64)
}

// absorb charges the units a forwarded meter consumed.
func (m *Meter) absorb(child *Meter) {
	m.used = satAdd(m.used, child.used)
	if m.used > m.limit {
		m.used = m.limit
	}
}

func satAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func satMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
