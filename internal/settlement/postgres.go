package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the narrow pgx surface PostgresSettlement needs, letting unit
// tests substitute a hand-written fake instead of a live Postgres
// connection, the same shape as the discovery package's redisCommander.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSettlement persists balance changes and a PnL journal row via
// pgx, matching the teacher's internal/db.DB pool-wrapping style.
type PostgresSettlement struct {
	db  querier
	log *slog.Logger
}

// NewPostgresSettlement wraps an already-connected, already-migrated pool.
func NewPostgresSettlement(pool *pgxpool.Pool, log *slog.Logger) *PostgresSettlement {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresSettlement{db: pool, log: log}
}

// UpdatePlayerBalances subtracts Stake from the loser, adds WinningShare to
// every other player, and appends one PnL journal row per player —
// mirroring the original wallet/src/db.rs update_user semantics, extended
// from a single-player balance write to the whole-session fan-out FINISHED
// requires.
func (p *PostgresSettlement) UpdatePlayerBalances(ctx context.Context, u Update) error {
	if u.LoserIdx < 0 || u.LoserIdx >= len(u.Players) {
		return fmt.Errorf("settlement: loser_idx %d out of range for %d players", u.LoserIdx, len(u.Players))
	}

	for i, playerID := range u.Players {
		delta := u.WinningShare
		if i == u.LoserIdx {
			delta = -u.Stake
		}

		if _, err := p.db.Exec(ctx,
			`UPDATE balances SET amount = amount + $1 WHERE player_id = $2 AND currency = $3`,
			delta, playerID, u.Currency,
		); err != nil {
			return fmt.Errorf("settlement: updating balance for %s: %w", playerID, err)
		}

		if _, err := p.db.Exec(ctx,
			`INSERT INTO pnl_journal (game_id, player_id, delta, currency) VALUES ($1, $2, $3, $4)`,
			u.GameID, playerID, delta, u.Currency,
		); err != nil {
			return fmt.Errorf("settlement: journaling pnl for %s: %w", playerID, err)
		}
	}

	p.log.Info("settlement applied", "game_id", u.GameID, "loser_idx", u.LoserIdx, "players", len(u.Players))
	return nil
}
