package liquidity

import (
	"context"
	"errors"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lenderscan/internal/domain"
)

type fakeCaller struct {
	out []byte
	err error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

var quiet = log.New(noopWriter{}, "", 0)

func TestTotalLiquidity_Live(t *testing.T) {
	supply := big.NewInt(1_500_000)
	out := make([]byte, 32)
	supply.FillBytes(out)

	r := New(Options{
		Node:   &fakeCaller{out: out},
		Asset:  common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Logger: quiet,
	})

	v := r.TotalLiquidity(context.Background())
	require.Equal(t, domain.LiquidityLive, v.Source)
	require.Equal(t, 0, v.Amount.Cmp(supply))
}

func TestTotalLiquidity_FallbackOnError(t *testing.T) {
	r := New(Options{
		Node:   &fakeCaller{err: errors.New("call failed")},
		Logger: quiet,
	})

	v := r.TotalLiquidity(context.Background())
	require.Equal(t, domain.LiquidityFallback, v.Source)

	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	want := new(big.Int).Mul(big.NewInt(FallbackWholeUnits), unit)
	require.Equal(t, 0, v.Amount.Cmp(want))
}

func TestTotalLiquidity_FallbackOnShortReturn(t *testing.T) {
	r := New(Options{
		Node:   &fakeCaller{out: []byte{0x01, 0x02}},
		Logger: quiet,
	})

	v := r.TotalLiquidity(context.Background())
	require.Equal(t, domain.LiquidityFallback, v.Source)
}

func TestTotalLiquidity_CustomFallback(t *testing.T) {
	custom := big.NewInt(42)
	r := New(Options{
		Node:     &fakeCaller{err: errors.New("down")},
		Fallback: custom,
		Logger:   quiet,
	})

	v := r.TotalLiquidity(context.Background())
	require.Equal(t, domain.LiquidityFallback, v.Source)
	require.Equal(t, 0, v.Amount.Cmp(custom))

	// Returned value must be a copy, not the configured pointer.
	v.Amount.SetInt64(0)
	require.Equal(t, int64(42), custom.Int64())
}
