// Package adversary provides hostile payment receivers used to exercise the
// failure isolation of the reward engines.
package adversary

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"rewardledger/native/rewards"
)

// ErrRejected is returned by receivers that refuse every payment.
var ErrRejected = errors.New("adversary: payment rejected")

// burnStep is how many units a burning receiver consumes per iteration.
const burnStep uint64 = 10_000

// Mode selects how a Receiver reacts to a payment.
type Mode uint8

const (
	// ModeNone accepts payments.
	ModeNone Mode = iota
	// ModeRevert rejects payments.
	ModeRevert
	// ModeGasBurn consumes its whole forwarded budget.
	ModeGasBurn
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeRevert:
		return "revert"
	case ModeGasBurn:
		return "gas_burn"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name back into a Mode.
func ParseMode(name string) (Mode, bool) {
	for _, m := range []Mode{ModeNone, ModeRevert, ModeGasBurn} {
		if m.String() == name {
			return m, true
		}
	}
	return ModeNone, false
}

// NewIdentity returns a fresh random identity.
func NewIdentity() (common.Address, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// Receiver is a recipient whose reaction to payments can be switched at
// runtime. Its counters only reflect payments that were committed.
type Receiver struct {
	mu       sync.Mutex
	mode     Mode
	received uint64
	total    *uint256.Int
}

// NewReceiver returns a receiver starting in mode.
func NewReceiver(mode Mode) *Receiver {
	return &Receiver{mode: mode, total: new(uint256.Int)}
}

// SetMode switches the attack mode.
func (r *Receiver) SetMode(mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// Mode returns the current attack mode.
func (r *Receiver) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// ReceivedCount returns how many payments were accepted.
func (r *Receiver) ReceivedCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received
}

// TotalReceived returns the sum of accepted payments.
func (r *Receiver) TotalReceived() *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return new(uint256.Int).Set(r.total)
}

// Receive implements rewards.Receiver.
func (r *Receiver) Receive(_ context.Context, call *rewards.Call) error {
	switch r.Mode() {
	case ModeRevert:
		return ErrRejected
	case ModeGasBurn:
		return burn(call)
	}

	r.mu.Lock()
	prevTotal := r.total
	r.received++
	r.total = new(uint256.Int).Add(r.total, call.Amount)
	r.mu.Unlock()

	call.OnRevert(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.received--
		r.total = prevTotal
	})
	return nil
}

// GasBurner burns its entire budget on every payment and therefore never
// accepts one.
type GasBurner struct{}

// Receive implements rewards.Receiver.
func (GasBurner) Receive(_ context.Context, call *rewards.Call) error {
	return burn(call)
}

func burn(call *rewards.Call) error {
	for {
		if err := call.Consume(burnStep); err != nil {
			return err
		}
	}
}
