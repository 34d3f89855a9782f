package rewards

import (
	"errors"

	"rewardledger/core/events"
)

// publisher is an engine whose read-only view is rebuilt after every
// transaction that touched it.
type publisher interface {
	publish()
}

// abortError carries an event describing a failed operation. It is published
// after the rollback, so it survives it.
type abortError struct {
	err error
	evt events.Event
}

func (e *abortError) Error() string { return e.err.Error() }

func (e *abortError) Unwrap() error { return e.err }

func aborted(err error, evt events.Event) error {
	return &abortError{err: err, evt: evt}
}

// Tx is the transaction an operation runs in. Every mutation made while it is
// open registers an undo step, so a failing operation can be unwound to the
// exact state it started from. Events are buffered and only published once
// the outermost operation commits.
type Tx struct {
	meter   *Meter
	undo    []func()
	events  []events.Event
	touched []publisher
}

type checkpoint struct {
	undo   int
	events int
}

func newTx(limit uint64) *Tx {
	return &Tx{meter: NewMeter(limit)}
}

// Meter returns the meter operations currently charge against. Inside a
// receive hook this is the budget forwarded to the hook.
func (tx *Tx) Meter() *Meter { return tx.meter }

func (tx *Tx) charge(units uint64, what string) error {
	return tx.meter.Consume(units, what)
}

func (tx *Tx) record(undo func()) {
	if undo != nil {
		tx.undo = append(tx.undo, undo)
	}
}

func (tx *Tx) emit(evt events.Event) {
	if evt != nil {
		tx.events = append(tx.events, evt)
	}
}

func (tx *Tx) checkpoint() checkpoint {
	return checkpoint{undo: len(tx.undo), events: len(tx.events)}
}

// revertTo unwinds every mutation recorded after cp, newest first.
func (tx *Tx) revertTo(cp checkpoint) {
	for i := len(tx.undo) - 1; i >= cp.undo; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:cp.undo]
	if cp.events < len(tx.events) {
		tx.events = tx.events[:cp.events]
	}
}

// fail records the event carried by err, if any, and returns the error the
// caller should see. It must run after the failed portion was reverted.
func (tx *Tx) fail(err error) error {
	var ab *abortError
	if !errors.As(err, &ab) {
		return err
	}
	tx.emit(ab.evt)
	return ab.err
}

func (tx *Tx) touch(p publisher) {
	for _, seen := range tx.touched {
		if seen == p {
			return
		}
	}
	tx.touched = append(tx.touched, p)
}

func (tx *Tx) publishViews() {
	for _, p := range tx.touched {
		p.publish()
	}
}
