package rewards

import (
	"fmt"

	"github.com/holiman/uint256"
)

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(cloneAmount(a), cloneAmount(b))
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrArithmeticOverflow, cloneAmount(a).Dec(), cloneAmount(b).Dec())
	}
	return sum, nil
}

func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(cloneAmount(a), cloneAmount(b))
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrArithmeticOverflow, cloneAmount(a).Dec(), cloneAmount(b).Dec())
	}
	return diff, nil
}
