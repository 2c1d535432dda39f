// Package discovery wraps the shared directory (C4) with the five
// operations C5 exposes: register, find-by-attrs, find-by-id,
// update-player-count, remove. It is a direct Go re-expression of the
// original Rust discovery service; each operation issues its Redis commands
// one after another, without a pipeline.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is refreshed on every write that creates or updates a session
// advertisement, per the shared directory wire format.
const TTL = 120 * time.Second

// latencyWarnThreshold mirrors the original service's warn-on-slow-op
// logging.
const latencyWarnThreshold = 500 * time.Millisecond

// DirectoryEntry is the shared-directory advertisement for one session.
type DirectoryEntry struct {
	GameID         string
	InstanceID     string
	Stake          float64
	MinPlayers     int
	GridSize       int
	CurrentPlayers int
}

// redisCommander is the narrow slice of *redis.Client this service needs.
// Unit tests substitute an in-memory fake instead of requiring a live
// Redis, the same interface-for-testability shape as the teacher's
// repository interfaces paired with a hand-written fake.
type redisCommander interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRandMember(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Service is the C5 discovery service: a thin wrapper over the C4 shared
// directory. All operations are best-effort; failures are logged and
// returned to the caller, who decides whether they are fatal to the
// calling operation (per spec §4.4's failure semantics).
type Service struct {
	redis redisCommander
	log   *slog.Logger
}

// New wraps a live redis client. Pass a *redis.Client (or *redis.ClusterClient)
// directly; both satisfy redisCommander.
func New(client redisCommander, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{redis: client, log: log}
}

func sessionKey(gameID string) string {
	return "game_session:" + gameID
}

func indexKey(stake float64, minPlayers, gridSize int) string {
	return fmt.Sprintf("matchmaking:%s:%d:%d", formatStake(stake), minPlayers, gridSize)
}

func formatStake(stake float64) string {
	return strconv.FormatFloat(stake, 'f', -1, 64)
}

func (e DirectoryEntry) fields() map[string]interface{} {
	return map[string]interface{}{
		"server_id":       e.InstanceID,
		"stake":           formatStake(e.Stake),
		"min_players":     e.MinPlayers,
		"current_players": e.CurrentPlayers,
		"grid_size":       e.GridSize,
	}
}

func parseEntry(gameID string, fields map[string]string) (DirectoryEntry, error) {
	if len(fields) == 0 {
		return DirectoryEntry{}, errors.New("discovery: empty hash")
	}
	stake, err := strconv.ParseFloat(fields["stake"], 64)
	if err != nil {
		return DirectoryEntry{}, fmt.Errorf("discovery: parsing stake: %w", err)
	}
	minPlayers, err := strconv.Atoi(fields["min_players"])
	if err != nil {
		return DirectoryEntry{}, fmt.Errorf("discovery: parsing min_players: %w", err)
	}
	currentPlayers, err := strconv.Atoi(fields["current_players"])
	if err != nil {
		return DirectoryEntry{}, fmt.Errorf("discovery: parsing current_players: %w", err)
	}
	gridSize, err := strconv.Atoi(fields["grid_size"])
	if err != nil {
		return DirectoryEntry{}, fmt.Errorf("discovery: parsing grid_size: %w", err)
	}
	return DirectoryEntry{
		GameID:         gameID,
		InstanceID:     fields["server_id"],
		Stake:          stake,
		MinPlayers:     minPlayers,
		CurrentPlayers: currentPlayers,
		GridSize:       gridSize,
	}, nil
}

// logSlow emits the timing/latency log grounded on the original service's
// Instant::now()/elapsed() pattern: Debug always, Warn past threshold.
func (s *Service) logSlow(op string, start time.Time, err error) {
	elapsed := time.Since(start)
	attrs := []any{"op", op, "elapsed_ms", elapsed.Milliseconds()}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if elapsed > latencyWarnThreshold {
		s.log.Warn("discovery operation slow", attrs...)
		return
	}
	s.log.Debug("discovery operation", attrs...)
}

// Register writes the session hash and adds it to its matchmaking index
// set, refreshing the TTL on the session hash. The index set carries no TTL;
// members whose hash has expired are treated as absent by the finders.
func (s *Service) Register(ctx context.Context, entry DirectoryEntry) error {
	start := time.Now()
	key := sessionKey(entry.GameID)

	_, err := s.redis.HSet(ctx, key, entry.fields()).Result()
	if err == nil {
		_, err = s.redis.SAdd(ctx, indexKey(entry.Stake, entry.MinPlayers, entry.GridSize), entry.GameID).Result()
	}
	if err == nil {
		_, err = s.redis.Expire(ctx, key, TTL).Result()
	}

	s.logSlow("register", start, err)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", entry.GameID, err)
	}
	return nil
}

// FindByAttrs returns one random candidate with matching (stake,
// min_players, grid_size) that still has room, or (nil, nil) if none
// qualifies. No strong guarantee is offered against two concurrent callers
// picking the same candidate; correctness against that race is enforced by
// the owning instance.
func (s *Service) FindByAttrs(ctx context.Context, stake float64, minPlayers, gridSize int) (*DirectoryEntry, error) {
	start := time.Now()
	gameID, err := s.redis.SRandMember(ctx, indexKey(stake, minPlayers, gridSize)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logSlow("find_by_attrs", start, nil)
			return nil, nil
		}
		s.logSlow("find_by_attrs", start, err)
		return nil, fmt.Errorf("discovery: find by attrs: %w", err)
	}

	entry, err := s.findByID(ctx, gameID)
	s.logSlow("find_by_attrs", start, err)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.CurrentPlayers >= entry.MinPlayers {
		return nil, nil
	}
	return entry, nil
}

// FindByID returns the advertisement for gameID if present and it still
// has room, or (nil, nil) otherwise.
func (s *Service) FindByID(ctx context.Context, gameID string) (*DirectoryEntry, error) {
	start := time.Now()
	entry, err := s.findByID(ctx, gameID)
	s.logSlow("find_by_id", start, err)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.CurrentPlayers >= entry.MinPlayers {
		return nil, nil
	}
	return entry, nil
}

func (s *Service) findByID(ctx context.Context, gameID string) (*DirectoryEntry, error) {
	fields, err := s.redis.HGetAll(ctx, sessionKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("discovery: find by id %s: %w", gameID, err)
	}
	if len(fields) == 0 {
		// A missing hash (expired or never registered) is treated as absent,
		// not an error.
		return nil, nil
	}
	entry, err := parseEntry(gameID, fields)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdatePlayerCount rewrites only current_players and refreshes the TTL.
func (s *Service) UpdatePlayerCount(ctx context.Context, gameID string, count int) error {
	start := time.Now()
	key := sessionKey(gameID)

	_, err := s.redis.HSet(ctx, key, map[string]interface{}{"current_players": count}).Result()
	if err == nil {
		_, err = s.redis.Expire(ctx, key, TTL).Result()
	}

	s.logSlow("update_player_count", start, err)
	if err != nil {
		return fmt.Errorf("discovery: update player count %s: %w", gameID, err)
	}
	return nil
}

// Remove deletes the session hash and removes it from its matchmaking
// index set. Removing a gameID that no longer exists is not an error.
func (s *Service) Remove(ctx context.Context, gameID string) error {
	start := time.Now()

	entry, err := s.findByID(ctx, gameID)
	if err != nil {
		s.logSlow("remove", start, err)
		return err
	}

	_, err = s.redis.Del(ctx, sessionKey(gameID)).Result()
	if err == nil && entry != nil {
		_, err = s.redis.SRem(ctx, indexKey(entry.Stake, entry.MinPlayers, entry.GridSize), gameID).Result()
	}

	s.logSlow("remove", start, err)
	if err != nil {
		return fmt.Errorf("discovery: remove %s: %w", gameID, err)
	}
	return nil
}
