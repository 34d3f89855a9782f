package rewards

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeterConsume(t *testing.T) {
	m := NewMeter(100)
	require.NoError(t, m.Consume(60, "first"))
	require.Equal(t, uint64(40), m.Remaining())

	err := m.Consume(41, "second")
	require.ErrorIs(t, err, ErrResourceExceeded)
	require.Contains(t, err.Error(), "40 of 100 left")
	require.Zero(t, m.Remaining())
	require.Equal(t, uint64(100), m.Used())
}

func TestMeterForwardKeepsOneSixtyFourth(t *testing.T) {
	m := NewMeter(64_000)
	require.NoError(t, m.Consume(0, "noop"))

	child := m.forward()
	require.Equal(t, uint64(63_000), child.Limit())

	require.Error(t, child.Consume(child.Limit()+1, "burn"))
	m.absorb(child)
	require.Equal(t, uint64(63_000), m.Used())
	require.Equal(t, uint64(1_000), m.Remaining())
}

func TestDistributeCostCrossesCeiling(t *testing.T) {
	model := DefaultCostModel()

	for _, n := range []int{10, 50, 100} {
		require.LessOrEqual(t, model.DistributeCost(n), DefaultCostLimit, "n=%d", n)
	}
	require.Greater(t, model.DistributeCost(200), DefaultCostLimit)

	ceiling := model.MaxDistributable(DefaultCostLimit)
	require.LessOrEqual(t, model.DistributeCost(ceiling), DefaultCostLimit)
	require.Greater(t, model.DistributeCost(ceiling+1), DefaultCostLimit)
}

func TestRegisterCostIsLinearInBatch(t *testing.T) {
	model := DefaultCostModel()
	perEntry := model.RecordRead + model.RecordCreate

	require.Equal(t, model.TxBase+200*perEntry, model.RegisterCost(200, 0))
	require.LessOrEqual(t, model.RegisterCost(200, 0), DefaultCostLimit)
	require.Equal(t, model.TxBase+model.RecordRead+model.RecordWrite, model.RegisterCost(0, 1))
}

func TestCostHelpersSaturate(t *testing.T) {
	model := CostModel{TxBase: 1, Transfer: ^uint64(0)}
	require.Equal(t, ^uint64(0), model.DistributeCost(2))
	require.Equal(t, model.TxBase, model.DistributeCost(-5))
	require.Zero(t, CostModel{TxBase: 10}.MaxDistributable(5))
}
