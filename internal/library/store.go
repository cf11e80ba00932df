package library

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gamedex/gamedex-server/internal/types"
)

// Store persists each device's owned-game library in PostgreSQL. The API
// falls back to it when a request carries no inline game list.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// ListByDevice returns the device's library, name-ordered.
func (s *Store) ListByDevice(ctx context.Context, deviceID string) ([]types.OwnedGame, error) {
	rows, err := s.db.Query(ctx, `
		SELECT game_id, name, status, rating, hours_played, genres
		FROM owned_games
		WHERE device_id = $1
		ORDER BY name
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	defer rows.Close()

	var games []types.OwnedGame
	for rows.Next() {
		var g types.OwnedGame
		var status string
		if err := rows.Scan(&g.ID, &g.Name, &status, &g.Rating, &g.HoursPlayed, &g.Genres); err != nil {
			return nil, fmt.Errorf("scan owned game: %w", err)
		}
		g.Status = types.GameStatus(status)
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	return games, nil
}

// ReplaceLibrary swaps the device's library for the given games in one
// transaction and reports how many rows were written. Callers are expected
// to clear the recommendation caches afterwards.
func (s *Store) ReplaceLibrary(ctx context.Context, deviceID string, games []types.OwnedGame) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM owned_games WHERE device_id = $1`, deviceID); err != nil {
		return 0, fmt.Errorf("clear library: %w", err)
	}

	batch := &pgx.Batch{}
	for _, g := range games {
		batch.Queue(`
			INSERT INTO owned_games (device_id, game_id, name, status, rating, hours_played, genres)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, deviceID, g.ID, g.Name, string(g.Status), g.Rating, g.HoursPlayed, g.Genres)
	}
	br := tx.SendBatch(ctx, batch)
	for range games {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("insert owned game: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("flush inserts: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return len(games), nil
}
