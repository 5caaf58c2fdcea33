package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercentileOfMedianOfTen(t *testing.T) {
	values := make([]*big.Int, 0, 10)
	for i := 1; i <= 10; i++ {
		values = append(values, big.NewInt(int64(i)*1_000_000_000))
	}
	got := percentileOf(values, 50)
	require.Equal(t, big.NewInt(6_000_000_000), got)
}

func TestPercentileOfEmptyIsZero(t *testing.T) {
	require.Equal(t, big.NewInt(0), percentileOf(nil, 50))
}

func TestPercentileOfSingleValue(t *testing.T) {
	got := percentileOf([]*big.Int{big.NewInt(42)}, 90)
	require.Equal(t, big.NewInt(42), got)
}

func TestNewRejectsEmptyEndpointList(t *testing.T) {
	_, err := New(nil, 1, 0, 0, 50)
	require.Error(t, err)
}
