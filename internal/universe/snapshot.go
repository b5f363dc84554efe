package universe

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/optionpulse/internal/domain"
)

// snapshotContract is the wire shape persisted to disk: domain.OptionContract
// carries a decimal.Decimal and a *time.Location-bound time.Time, neither of
// which round-trips cleanly through msgpack's reflection-based codec, so the
// snapshot uses plain strings/floats instead.
type snapshotContract struct {
	Underlying string  `msgpack:"underlying"`
	Expiration string  `msgpack:"expiration"` // YYYY-MM-DD
	Strike     float64 `msgpack:"strike"`
	Type       string  `msgpack:"type"`
	Symbol     string  `msgpack:"symbol"`
}

type snapshot struct {
	Contracts          []snapshotContract `msgpack:"contracts"`
	LastRecomputeSpot  float64             `msgpack:"last_recompute_spot"`
	CurrentExpirations []string            `msgpack:"current_expirations"`
}

// SaveSnapshot persists the current universe to path so a restart can warm
// up without waiting for the first live Recompute (diagnostic/operational
// convenience; spec.md §3 still treats the universe as in-memory-only
// authoritative state — this is a cache, not a second source of truth).
func (u *Universe) SaveSnapshot(path string) error {
	snap := snapshot{LastRecomputeSpot: u.lastRecomputeSpot}
	for _, c := range u.contracts {
		snap.Contracts = append(snap.Contracts, snapshotContract{
			Underlying: c.Underlying,
			Expiration: c.Expiration.Format("2006-01-02"),
			Strike:     c.Strike.InexactFloat64(),
			Type:       string(c.Type),
			Symbol:     c.Symbol,
		})
	}
	for _, e := range u.currentExpirations {
		snap.CurrentExpirations = append(snap.CurrentExpirations, e.Format("2006-01-02"))
	}

	b, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal universe snapshot: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write universe snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores a previously saved universe. The loaded set is
// provisional: the next ShouldRecompute/Recompute cycle still runs on its
// normal cadence and will replace it with a live-fetched set.
func (u *Universe) LoadSnapshot(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read universe snapshot: %w", err)
	}
	var snap snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("unmarshal universe snapshot: %w", err)
	}

	contracts := make(map[string]domain.OptionContract, len(snap.Contracts))
	for _, sc := range snap.Contracts {
		expDate, perr := time.ParseInLocation("2006-01-02", sc.Expiration, u.cfg.Loc)
		if perr != nil {
			continue
		}
		contracts[sc.Symbol] = domain.OptionContract{
			Underlying: sc.Underlying,
			Expiration: expDate,
			Strike:     decimal.NewFromFloat(sc.Strike),
			Type:       domain.OptionType(sc.Type),
			Symbol:     sc.Symbol,
		}
	}

	var expirations []time.Time
	for _, e := range snap.CurrentExpirations {
		if t, perr := time.ParseInLocation("2006-01-02", e, u.cfg.Loc); perr == nil {
			expirations = append(expirations, t)
		}
	}

	u.contracts = contracts
	u.currentExpirations = expirations
	u.lastRecomputeSpot = snap.LastRecomputeSpot
	// iterationsSinceRC stays 0 so the next ShouldRecompute honours the
	// loaded spot/expirations until the normal triggers fire.
	return nil
}
