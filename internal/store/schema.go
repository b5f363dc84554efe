package store

// schemaDDL is the single source of truth for this store's tables,
// applied idempotently on every Open (spec.md §1 treats schema migration
// tooling itself as an external collaborator — this is just enough DDL to
// stand the tables up, not a migration framework).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS underlying_bars (
	symbol       TEXT    NOT NULL,
	bucket_start TEXT    NOT NULL, -- RFC3339, exchange-zone offset preserved
	open         TEXT    NOT NULL,
	high         TEXT    NOT NULL,
	low          TEXT    NOT NULL,
	close        TEXT    NOT NULL,
	up_volume    INTEGER NOT NULL DEFAULT 0,
	down_volume  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, bucket_start)
);

CREATE TABLE IF NOT EXISTS option_quotes (
	contract_symbol TEXT    NOT NULL,
	underlying      TEXT    NOT NULL,
	expiration      TEXT    NOT NULL,
	strike          TEXT    NOT NULL,
	option_type     TEXT    NOT NULL,
	bucket_start    TEXT    NOT NULL,
	last            TEXT,
	bid             TEXT,
	ask             TEXT,
	volume          INTEGER NOT NULL DEFAULT 0,
	open_interest   INTEGER NOT NULL DEFAULT 0,
	iv              REAL,
	delta           REAL,
	gamma           REAL,
	theta           REAL,
	vega            REAL,
	vanna           REAL,
	charm           REAL,
	iv_source       TEXT NOT NULL DEFAULT 'none',
	PRIMARY KEY (contract_symbol, bucket_start)
);
CREATE INDEX IF NOT EXISTS idx_option_quotes_underlying_bucket
	ON option_quotes (underlying, bucket_start);

CREATE TABLE IF NOT EXISTS gex_summary (
	underlying        TEXT NOT NULL,
	calc_time         TEXT NOT NULL,
	max_gamma_strike  TEXT NOT NULL,
	max_gamma_value   REAL NOT NULL,
	gamma_flip_point  REAL NOT NULL,
	put_call_ratio    REAL,
	max_pain          TEXT NOT NULL,
	total_call_volume INTEGER NOT NULL,
	total_put_volume  INTEGER NOT NULL,
	total_call_oi     INTEGER NOT NULL,
	total_put_oi      INTEGER NOT NULL,
	total_net_gex     REAL NOT NULL,
	PRIMARY KEY (underlying, calc_time)
);

CREATE TABLE IF NOT EXISTS gex_by_strike (
	underlying     TEXT NOT NULL,
	calc_time      TEXT NOT NULL,
	strike         TEXT NOT NULL,
	expiration     TEXT NOT NULL,
	call_gamma     REAL NOT NULL,
	put_gamma      REAL NOT NULL,
	net_gex        REAL NOT NULL,
	call_volume    INTEGER NOT NULL,
	put_volume     INTEGER NOT NULL,
	call_oi        INTEGER NOT NULL,
	put_oi         INTEGER NOT NULL,
	vanna_exposure REAL NOT NULL,
	charm_exposure REAL NOT NULL,
	PRIMARY KEY (underlying, calc_time, strike, expiration)
);
`
