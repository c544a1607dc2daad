package postgres_test

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lenderscan/internal/domain"
	"lenderscan/internal/storage"
	"lenderscan/internal/storage/migrations"
	"lenderscan/internal/storage/postgres"
)

// setupTestDB connects to the database named by LENDERSCAN_TEST_PG_DSN
// and applies migrations. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *postgres.Pool {
	t.Helper()

	dsn := os.Getenv("LENDERSCAN_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("LENDERSCAN_TEST_PG_DSN not set, skipping postgres tests")
	}

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool))

	_, err = pool.Exec(ctx, "TRUNCATE lender_runs")
	require.NoError(t, err)

	return pool
}

func testRecord(id string, token common.Address, createdAt int64) *domain.RunRecord {
	huge, _ := new(big.Int).SetString("1208925819614629174706176", 10)
	return &domain.RunRecord{
		RunID: id,
		Result: domain.ResultSet{
			Lenders: []domain.LenderRecord{
				{
					Address:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
					Balance:        huge,
					PoolPercentage: 6.67,
				},
			},
			TotalLent:          huge,
			TotalPoolLiquidity: big.NewInt(1500),
			LiquiditySource:    domain.LiquidityLive,
			QueriedToken:       token,
			Timestamp:          time.UnixMilli(createdAt).UTC(),
		},
		Duration:  3 * time.Second,
		CreatedAt: createdAt,
	}
}

func TestRunStore_InsertAndGetByID(t *testing.T) {
	pool := setupTestDB(t)
	s := postgres.NewRunStore(pool)
	ctx := context.Background()
	token := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	require.NoError(t, s.Insert(ctx, testRecord("run-1", token, 1000)))

	got, err := s.GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, token, got.Result.QueriedToken)
	assert.Equal(t, 3*time.Second, got.Duration)

	// Big balances survive the JSONB roundtrip exactly.
	huge, _ := new(big.Int).SetString("1208925819614629174706176", 10)
	require.Len(t, got.Result.Lenders, 1)
	assert.Equal(t, 0, got.Result.Lenders[0].Balance.Cmp(huge))
}

func TestRunStore_DuplicateKey(t *testing.T) {
	pool := setupTestDB(t)
	s := postgres.NewRunStore(pool)
	ctx := context.Background()
	token := common.HexToAddress("0x01")

	require.NoError(t, s.Insert(ctx, testRecord("run-1", token, 1000)))
	err := s.Insert(ctx, testRecord("run-1", token, 2000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestRunStore_NotFound(t *testing.T) {
	pool := setupTestDB(t)
	s := postgres.NewRunStore(pool)

	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunStore_GetByTokenNewestFirst(t *testing.T) {
	pool := setupTestDB(t)
	s := postgres.NewRunStore(pool)
	ctx := context.Background()
	tokenA := common.HexToAddress("0x0a")
	tokenB := common.HexToAddress("0x0b")

	require.NoError(t, s.Insert(ctx, testRecord("run-1", tokenA, 1000)))
	require.NoError(t, s.Insert(ctx, testRecord("run-2", tokenA, 3000)))
	require.NoError(t, s.Insert(ctx, testRecord("run-3", tokenB, 2000)))

	runs, err := s.GetByToken(ctx, tokenA)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "run-1", runs[1].RunID)
}

func TestRunStore_GetRecentLimit(t *testing.T) {
	pool := setupTestDB(t)
	s := postgres.NewRunStore(pool)
	ctx := context.Background()
	token := common.HexToAddress("0x01")

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, s.Insert(ctx, testRecord(id, token, int64(1000*(i+1)))))
	}

	runs, err := s.GetRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].RunID)
}
