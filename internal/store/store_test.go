package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optionpulse/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func sampleBar(ts time.Time) domain.UnderlyingBar {
	return domain.UnderlyingBar{
		Symbol: "SPY", BucketStart: ts,
		Open: d(450), High: d(451), Low: d(449.5), Close: d(450.5), UpVolume: 1000,
	}
}

func TestUpsertUnderlyingBar_RepeatedWriteYieldsSameRow(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 20, 14, 30, 0, 0, time.UTC)

	require.NoError(t, db.UpsertUnderlyingBar(ctx, sampleBar(ts)))
	require.NoError(t, db.UpsertUnderlyingBar(ctx, sampleBar(ts)))

	closeVal, ok, err := db.LatestUnderlyingClose(ctx, "SPY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, closeVal.Equal(d(450.5)))
}

func TestUpsertUnderlyingBar_RejectsInvalidOHLC(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	bad := domain.UnderlyingBar{Symbol: "SPY", BucketStart: time.Now(), Open: d(450), High: d(449), Low: d(448), Close: d(450)}
	err := db.UpsertUnderlyingBar(ctx, bad)
	require.Error(t, err)
	var perm *domain.StorePermanent
	require.ErrorAs(t, err, &perm)
}

func TestLatestUnderlyingClose_NoRowsReturnsFalse(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.LatestUnderlyingClose(context.Background(), "QQQ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func sampleContract() domain.OptionContract {
	return domain.OptionContract{
		Underlying: "SPY", Expiration: time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC),
		Strike: d(450), Type: domain.Call, Symbol: "SPY260321C00450000",
	}
}

func TestUpsertOptionQuote_LatestSnapshotReturnsNewestPerContract(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	contract := sampleContract()
	now := time.Date(2026, 3, 20, 14, 35, 0, 0, time.UTC)

	iv1 := 0.25
	q1 := domain.OptionQuote{ContractSymbol: contract.Symbol, BucketStart: now.Add(-2 * time.Minute), IV: &iv1, IVSource: domain.IVSourceBroker}
	require.NoError(t, db.UpsertOptionQuote(ctx, contract, q1))

	iv2 := 0.27
	q2 := domain.OptionQuote{ContractSymbol: contract.Symbol, BucketStart: now.Add(-1 * time.Minute), IV: &iv2, IVSource: domain.IVSourceMid}
	require.NoError(t, db.UpsertOptionQuote(ctx, contract, q2))

	rows, err := db.LatestOptionSnapshot(ctx, "SPY", 5*time.Minute, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Quote.IV)
	assert.InDelta(t, 0.27, *rows[0].Quote.IV, 1e-9)
	assert.Equal(t, domain.IVSourceMid, rows[0].Quote.IVSource)
}

func TestLatestOptionSnapshot_ExcludesStaleRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	contract := sampleContract()
	now := time.Date(2026, 3, 20, 14, 35, 0, 0, time.UTC)

	q := domain.OptionQuote{ContractSymbol: contract.Symbol, BucketStart: now.Add(-10 * time.Minute)}
	require.NoError(t, db.UpsertOptionQuote(ctx, contract, q))

	rows, err := db.LatestOptionSnapshot(ctx, "SPY", 5*time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPruneOlderThan_DeletesOldRowsOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 14, 35, 0, 0, time.UTC)

	require.NoError(t, db.UpsertUnderlyingBar(ctx, sampleBar(now.AddDate(0, 0, -100))))
	require.NoError(t, db.UpsertUnderlyingBar(ctx, sampleBar(now)))

	n, err := db.PruneOlderThan(ctx, TableUnderlyingBars, 90*24*time.Hour, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, ok, err := db.LatestUnderlyingClose(ctx, "SPY")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExportOlderThan_ReturnsOnlyOldRowsAsMaps(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 14, 35, 0, 0, time.UTC)

	require.NoError(t, db.UpsertUnderlyingBar(ctx, sampleBar(now.AddDate(0, 0, -100))))
	require.NoError(t, db.UpsertUnderlyingBar(ctx, sampleBar(now)))

	rows, err := db.ExportOlderThan(ctx, TableUnderlyingBars, 90*24*time.Hour, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SPY", rows[0]["symbol"])
}

func TestUpsertGEXSummaryAndByStrike_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	calcTime := time.Date(2026, 3, 20, 14, 35, 0, 0, time.UTC)

	ratio := 0.8
	summary := domain.GEXSummary{
		Underlying: "SPY", CalcTime: calcTime,
		MaxGammaStrike: d(450), MaxGammaValue: 1234.5, GammaFlipPoint: 448.2,
		PutCallRatio: &ratio, MaxPain: d(445), TotalCallVolume: 100, TotalPutVolume: 80,
		TotalCallOI: 1000, TotalPutOI: 900, TotalNetGEX: 5000,
	}
	require.NoError(t, db.UpsertGEXSummary(ctx, summary))

	byStrike := domain.GEXByStrike{
		Underlying: "SPY", CalcTime: calcTime, Strike: d(450),
		Expiration: time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC),
		CallGamma: 10, PutGamma: 5, NetGEX: 500,
	}
	require.NoError(t, db.UpsertGEXByStrike(ctx, byStrike))
	require.NoError(t, db.UpsertGEXByStrike(ctx, byStrike)) // idempotent repeat
}
