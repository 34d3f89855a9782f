package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,x-team=rewards,broken,=nokey,")
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "rewards",
	}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "rewardd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	require.Contains(t, Config{}.sampler().Description(), "AlwaysOnSampler")
	require.Contains(t, Config{SampleRatio: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}

func TestShutdownsRunInReverse(t *testing.T) {
	var order []int
	stop := shutdowns{
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return errors.New("flush failed") },
	}
	require.ErrorContains(t, stop.run(context.Background()), "flush failed")
	require.Equal(t, []int{2, 1}, order)
}

func TestResourceCarriesServiceAttributes(t *testing.T) {
	res, err := Config{ServiceName: "rewardd", Environment: "test"}.resource()
	require.NoError(t, err)
	var names []string
	for _, kv := range res.Attributes() {
		names = append(names, string(kv.Key))
	}
	require.Contains(t, names, "service.name")
	require.Contains(t, names, "deployment.environment")
}
