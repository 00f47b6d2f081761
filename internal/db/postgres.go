package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works from a runtime image that does not ship internal/db.
//
//go:embed schema.sql
var schemaSQL string

// queryLimit caps how many records one wallet lookup returns
const queryLimit = 100

// PostgresStore is the durable investigation sink. Records and agent
// messages are append-only; the full record is kept as JSONB next to a
// few indexed summary columns.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log := logger.With().Str("component", "postgres").Logger()
	log.Info().Msg("Connected to PostgreSQL investigation store")
	return &PostgresStore{pool: pool, log: log}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.log.Info().Msg("Investigation schema initialized")
	return nil
}

// Ping checks the pool can reach the database
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// AppendRecord stores a finished investigation. Re-appending the same
// record ID is a no-op.
func (s *PostgresStore) AppendRecord(ctx context.Context, rec *models.InvestigationRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	sql := `
		INSERT INTO investigation_records
			(id, address, address_key, chain, archetype, risk_score, risk_level,
			 tx_count, started_at, completed_at, engine_version, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to insert investigation record: %w", err)
	}
	return nil
}

// AppendMessage stores an agent handoff message
func (s *PostgresStore) AppendMessage(ctx context.Context, msg models.AgentMessage) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode message payload: %w", err)
	}

	sql := `
		INSERT INTO agent_messages (id, sender, recipient, type, priority, created_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err = s.pool.Exec(ctx, sql, msg.ID, msg.Sender, msg.Recipient, msg.Type, msg.Priority, msg.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("failed to insert agent message: %w", err)
	}
	return nil
}

// Query returns the stored records for address, newest first. An empty
// chain matches every chain.
func (s *PostgresStore) Query(ctx context.Context, address string, chain models.ChainName) ([]models.InvestigationRecord, error) {
	sql := `
		SELECT record
		FROM investigation_records
		WHERE address_key = $1 AND ($2 = '' OR chain = $2)
		ORDER BY completed_at DESC
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, sql, AddressKey(address), chain, queryLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.InvestigationRecord, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec models.InvestigationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// recordArgs flattens a record into the investigation_records columns
func recordArgs(rec *models.InvestigationRecord) ([]any, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("record without id")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return []any{
		rec.ID,
		rec.Address,
		AddressKey(rec.Address),
		rec.Chain,
		string(rec.Opinion.Archetype),
		rec.Risk.Score,
		string(rec.Risk.Level),
		rec.Analysis.TransactionCount,
		rec.StartedAt,
		rec.CompletedAt,
		rec.EngineVersion,
		body,
	}, nil
}
