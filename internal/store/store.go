package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/optionpulse/internal/domain"
)

// UpsertUnderlyingBar inserts or updates on (symbol, bucket_start). Safe to
// repeat with the same bar (spec.md §8 idempotence law); a later write with
// a different bucket_start never overwrites an already-written later row
// because each bucket_start is its own primary-key row.
func (db *DB) UpsertUnderlyingBar(ctx context.Context, bar domain.UnderlyingBar) error {
	if err := bar.Valid(); err != nil {
		return &domain.StorePermanent{Op: "UpsertUnderlyingBar", Err: err}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO underlying_bars (symbol, bucket_start, open, high, low, close, up_volume, down_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, bucket_start) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close,
			up_volume = excluded.up_volume, down_volume = excluded.down_volume
	`, bar.Symbol, bar.BucketStart.Format(time.RFC3339), bar.Open.String(), bar.High.String(),
		bar.Low.String(), bar.Close.String(), bar.UpVolume, bar.DownVolume)
	if err != nil {
		return &domain.StoreTransient{Op: "UpsertUnderlyingBar", Err: err}
	}
	return nil
}

// UpsertOptionQuote inserts or updates on (contract_symbol, bucket_start).
func (db *DB) UpsertOptionQuote(ctx context.Context, contract domain.OptionContract, q domain.OptionQuote) error {
	if err := q.Valid(contract.Type, contract.Strike); err != nil {
		return &domain.StorePermanent{Op: "UpsertOptionQuote", Err: err}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO option_quotes (
			contract_symbol, underlying, expiration, strike, option_type, bucket_start,
			last, bid, ask, volume, open_interest, iv, delta, gamma, theta, vega, vanna, charm, iv_source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (contract_symbol, bucket_start) DO UPDATE SET
			last = excluded.last, bid = excluded.bid, ask = excluded.ask,
			volume = excluded.volume, open_interest = excluded.open_interest,
			iv = excluded.iv, delta = excluded.delta, gamma = excluded.gamma,
			theta = excluded.theta, vega = excluded.vega, vanna = excluded.vanna, charm = excluded.charm,
			iv_source = excluded.iv_source
	`,
		q.ContractSymbol, contract.Underlying, contract.Expiration.Format("2006-01-02"),
		contract.Strike.String(), string(contract.Type), q.BucketStart.Format(time.RFC3339),
		decimalPtrStr(q.Last), decimalPtrStr(q.Bid), decimalPtrStr(q.Ask),
		q.Volume, q.OpenInterest,
		floatPtr(q.IV), floatPtr(q.Delta), floatPtr(q.Gamma), floatPtr(q.Theta), floatPtr(q.Vega),
		floatPtr(q.Vanna), floatPtr(q.Charm),
		string(q.IVSource),
	)
	if err != nil {
		return &domain.StoreTransient{Op: "UpsertOptionQuote", Err: err}
	}
	return nil
}

// UpsertGEXSummary inserts or updates on (underlying, calc_time).
func (db *DB) UpsertGEXSummary(ctx context.Context, row domain.GEXSummary) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO gex_summary (
			underlying, calc_time, max_gamma_strike, max_gamma_value, gamma_flip_point,
			put_call_ratio, max_pain, total_call_volume, total_put_volume,
			total_call_oi, total_put_oi, total_net_gex
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (underlying, calc_time) DO UPDATE SET
			max_gamma_strike = excluded.max_gamma_strike, max_gamma_value = excluded.max_gamma_value,
			gamma_flip_point = excluded.gamma_flip_point, put_call_ratio = excluded.put_call_ratio,
			max_pain = excluded.max_pain, total_call_volume = excluded.total_call_volume,
			total_put_volume = excluded.total_put_volume, total_call_oi = excluded.total_call_oi,
			total_put_oi = excluded.total_put_oi, total_net_gex = excluded.total_net_gex
	`,
		row.Underlying, row.CalcTime.Format(time.RFC3339), row.MaxGammaStrike.String(), row.MaxGammaValue,
		row.GammaFlipPoint, floatPtr(row.PutCallRatio), row.MaxPain.String(),
		row.TotalCallVolume, row.TotalPutVolume, row.TotalCallOI, row.TotalPutOI, row.TotalNetGEX,
	)
	if err != nil {
		return &domain.StoreTransient{Op: "UpsertGEXSummary", Err: err}
	}
	return nil
}

// UpsertGEXByStrike inserts or updates on (underlying, calc_time, strike, expiration).
func (db *DB) UpsertGEXByStrike(ctx context.Context, row domain.GEXByStrike) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO gex_by_strike (
			underlying, calc_time, strike, expiration, call_gamma, put_gamma, net_gex,
			call_volume, put_volume, call_oi, put_oi, vanna_exposure, charm_exposure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (underlying, calc_time, strike, expiration) DO UPDATE SET
			call_gamma = excluded.call_gamma, put_gamma = excluded.put_gamma, net_gex = excluded.net_gex,
			call_volume = excluded.call_volume, put_volume = excluded.put_volume,
			call_oi = excluded.call_oi, put_oi = excluded.put_oi,
			vanna_exposure = excluded.vanna_exposure, charm_exposure = excluded.charm_exposure
	`,
		row.Underlying, row.CalcTime.Format(time.RFC3339), row.Strike.String(), row.Expiration.Format("2006-01-02"),
		row.CallGamma, row.PutGamma, row.NetGEX, row.CallVolume, row.PutVolume, row.CallOI, row.PutOI,
		row.VannaExposure, row.CharmExposure,
	)
	if err != nil {
		return &domain.StoreTransient{Op: "UpsertGEXByStrike", Err: err}
	}
	return nil
}

// LatestOptionSnapshot returns, for each contract under underlying, the
// most recent row whose bucket_start is within staleness of asOf.
func (db *DB) LatestOptionSnapshot(ctx context.Context, underlying string, staleness time.Duration, asOf time.Time) ([]domain.OptionSnapshotRow, error) {
	cutoff := asOf.Add(-staleness).Format(time.RFC3339)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT contract_symbol, underlying, expiration, strike, option_type, bucket_start,
			last, bid, ask, volume, open_interest, iv, delta, gamma, theta, vega, vanna, charm, iv_source
		FROM option_quotes
		WHERE underlying = ? AND bucket_start >= ?
		AND bucket_start = (
			SELECT MAX(o2.bucket_start) FROM option_quotes o2
			WHERE o2.contract_symbol = option_quotes.contract_symbol
		)
	`, underlying, cutoff)
	if err != nil {
		return nil, &domain.StoreTransient{Op: "LatestOptionSnapshot", Err: err}
	}
	defer rows.Close()

	var out []domain.OptionSnapshotRow
	for rows.Next() {
		row, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, &domain.StoreTransient{Op: "LatestOptionSnapshot", Err: err}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreTransient{Op: "LatestOptionSnapshot", Err: err}
	}
	return out, nil
}

func scanSnapshotRow(rows *sql.Rows) (domain.OptionSnapshotRow, error) {
	var (
		contractSymbol, underlying, expirationStr, strikeStr, optType, bucketStartStr string
		last, bid, ask                                                                sql.NullString
		volume, openInterest                                                          int64
		iv, delta, gamma, theta, vega, vanna, charm                                   sql.NullFloat64
		ivSource                                                                      string
	)
	if err := rows.Scan(&contractSymbol, &underlying, &expirationStr, &strikeStr, &optType, &bucketStartStr,
		&last, &bid, &ask, &volume, &openInterest, &iv, &delta, &gamma, &theta, &vega, &vanna, &charm, &ivSource); err != nil {
		return domain.OptionSnapshotRow{}, err
	}

	strike, err := decimal.NewFromString(strikeStr)
	if err != nil {
		return domain.OptionSnapshotRow{}, fmt.Errorf("parse strike: %w", err)
	}
	expiration, err := time.Parse("2006-01-02", expirationStr)
	if err != nil {
		return domain.OptionSnapshotRow{}, fmt.Errorf("parse expiration: %w", err)
	}
	bucketStart, err := time.Parse(time.RFC3339, bucketStartStr)
	if err != nil {
		return domain.OptionSnapshotRow{}, fmt.Errorf("parse bucket_start: %w", err)
	}

	return domain.OptionSnapshotRow{
		Contract: domain.OptionContract{
			Underlying: underlying, Expiration: expiration, Strike: strike,
			Type: domain.OptionType(optType), Symbol: contractSymbol,
		},
		Quote: domain.OptionQuote{
			ContractSymbol: contractSymbol,
			BucketStart:    bucketStart,
			Last:           nullStringDecimal(last),
			Bid:            nullStringDecimal(bid),
			Ask:            nullStringDecimal(ask),
			Volume:         volume,
			OpenInterest:   openInterest,
			IV:             nullFloat(iv),
			Delta:          nullFloat(delta),
			Gamma:          nullFloat(gamma),
			Theta:          nullFloat(theta),
			Vega:           nullFloat(vega),
			Vanna:          nullFloat(vanna),
			Charm:          nullFloat(charm),
			IVSource:       domain.IVSource(ivSource),
		},
	}, nil
}

// LatestUnderlyingClose returns the close of the most recent bar for
// underlying, or (zero, false) if none exists.
func (db *DB) LatestUnderlyingClose(ctx context.Context, underlying string) (decimal.Decimal, bool, error) {
	var closeStr string
	err := db.conn.QueryRowContext(ctx, `
		SELECT close FROM underlying_bars WHERE symbol = ? ORDER BY bucket_start DESC LIMIT 1
	`, underlying).Scan(&closeStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, &domain.StoreTransient{Op: "LatestUnderlyingClose", Err: err}
	}
	v, err := decimal.NewFromString(closeStr)
	if err != nil {
		return decimal.Zero, false, &domain.StorePermanent{Op: "LatestUnderlyingClose", Err: err}
	}
	return v, true, nil
}

// Table names PruneOlderThan accepts, per spec.md §4.11/§6's retention
// configuration surface.
const (
	TableUnderlyingBars = "underlying_bars"
	TableOptionQuotes   = "option_quotes"
	TableGEXSummary     = "gex_summary"
	TableGEXByStrike    = "gex_by_strike"
)

var timeColumnByTable = map[string]string{
	TableUnderlyingBars: "bucket_start",
	TableOptionQuotes:   "bucket_start",
	TableGEXSummary:     "calc_time",
	TableGEXByStrike:    "calc_time",
}

// ExportOlderThan reads every column of the rows in table that PruneOlderThan
// would delete for the same (retention, asOf), as generic JSON-friendly
// maps. The maintenance task uses this to archive a row before it's
// deleted; it does no deleting itself.
func (db *DB) ExportOlderThan(ctx context.Context, table string, retention time.Duration, asOf time.Time) ([]map[string]interface{}, error) {
	col, ok := timeColumnByTable[table]
	if !ok {
		return nil, &domain.StorePermanent{Op: "ExportOlderThan", Err: fmt.Errorf("unknown table %q", table)}
	}
	cutoff := asOf.Add(-retention).Format(time.RFC3339)
	rows, err := db.conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s < ?", table, col), cutoff)
	if err != nil {
		return nil, &domain.StoreTransient{Op: "ExportOlderThan", Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &domain.StorePermanent{Op: "ExportOlderThan", Err: err}
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &domain.StorePermanent{Op: "ExportOlderThan", Err: err}
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreTransient{Op: "ExportOlderThan", Err: err}
	}
	return out, nil
}

// PruneOlderThan deletes rows in table older than retention, for the
// maintenance scheduler (spec.md §4.11).
func (db *DB) PruneOlderThan(ctx context.Context, table string, retention time.Duration, asOf time.Time) (int64, error) {
	col, ok := timeColumnByTable[table]
	if !ok {
		return 0, &domain.StorePermanent{Op: "PruneOlderThan", Err: fmt.Errorf("unknown table %q", table)}
	}
	cutoff := asOf.Add(-retention).Format(time.RFC3339)
	res, err := db.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, col), cutoff)
	if err != nil {
		return 0, &domain.StoreTransient{Op: "PruneOlderThan", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func decimalPtrStr(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func floatPtr(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullStringDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
