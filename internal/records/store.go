// Package records persists minted NFTs in Postgres. The subscription oracle
// reconciles on-chain mint counters against CountByOwner.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/0gfoundation/0g-mint-relay/internal/records/migrations"
)

var ErrInvalidRecord = errors.New("invalid minted record")

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MintedNFT is one row of minted_nfts. Addresses and hashes are stored
// lower-case hex.
type MintedNFT struct {
	ChainID    int64     `json:"chainId"`
	Collection string    `json:"collection"`
	TokenID    string    `json:"tokenId"`
	Owner      string    `json:"owner"`
	TxHash     string    `json:"txHash"`
	TokenURI   string    `json:"tokenUri,omitempty"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate reports ErrInvalidRecord for rows the store would reject.
func (m MintedNFT) Validate() error {
	switch {
	case m.ChainID <= 0:
		return fmt.Errorf("%w: chain id", ErrInvalidRecord)
	case m.Collection == "" || m.Owner == "" || m.TxHash == "":
		return fmt.Errorf("%w: collection, owner and tx hash are required", ErrInvalidRecord)
	case m.TokenID == "":
		return fmt.Errorf("%w: token id", ErrInvalidRecord)
	}
	return nil
}

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return pool, nil
}

// gooseUp is swapped out in tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string) error {
	return goose.UpContext(ctx, db, dir)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return migrate(ctx, db)
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

const insertSQL = `INSERT INTO minted_nfts (chain_id, collection, token_id, owner, tx_hash, token_uri, kind)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chain_id, tx_hash, token_id) DO NOTHING`

// Insert stores m. It reports false when the row already exists.
func (s *Store) Insert(ctx context.Context, m MintedNFT) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, insertSQL,
		m.ChainID,
		strings.ToLower(m.Collection),
		m.TokenID,
		strings.ToLower(m.Owner),
		strings.ToLower(m.TxHash),
		m.TokenURI,
		m.Kind,
	)
	if err != nil {
		return false, fmt.Errorf("insert minted nft: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const countSQL = `SELECT COUNT(*) FROM minted_nfts WHERE owner = $1 AND chain_id = $2 AND created_at >= $3`

// CountByOwner counts records created at or after since. A zero since
// counts everything.
func (s *Store) CountByOwner(ctx context.Context, owner string, chainID int64, since time.Time) (int64, error) {
	if since.IsZero() {
		since = time.Unix(0, 0).UTC()
	}
	var n int64
	if err := s.db.QueryRow(ctx, countSQL, strings.ToLower(owner), chainID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count minted nfts: %w", err)
	}
	return n, nil
}

const listSQL = `SELECT chain_id, collection, token_id, owner, tx_hash, token_uri, kind, created_at
FROM minted_nfts WHERE owner = $1 AND chain_id = $2
ORDER BY created_at DESC LIMIT $3`

// ListByOwner returns the newest records first. limit <= 0 means 100.
func (s *Store) ListByOwner(ctx context.Context, owner string, chainID int64, limit int) ([]MintedNFT, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, listSQL, strings.ToLower(owner), chainID, limit)
	if err != nil {
		return nil, fmt.Errorf("list minted nfts: %w", err)
	}
	defer rows.Close()

	var out []MintedNFT
	for rows.Next() {
		var m MintedNFT
		if err := rows.Scan(&m.ChainID, &m.Collection, &m.TokenID, &m.Owner, &m.TxHash, &m.TokenURI, &m.Kind, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan minted nft: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
