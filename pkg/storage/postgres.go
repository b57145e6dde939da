package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/chanikkyasaai/bridge/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

const pgForeignKeyViolation = "23503"

// PostgresRepository persists vectors and user profiles in PostgreSQL.
type PostgresRepository struct {
	db *stdsql.DB
}

// NewPostgres opens a pooled PostgreSQL connection, applies pending
// migrations and returns a ready repository.
func NewPostgres(ctx context.Context, cfg Config) (*PostgresRepository, error) {
	db, err := stdsql.Open("pgx", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

// NewPostgresFromDB wraps an existing connection pool and applies pending
// migrations. Useful for tests that manage their own database lifecycle.
func NewPostgresFromDB(db *stdsql.DB) (*PostgresRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// runMigrations applies embedded SQL migrations with golang-migrate.
// Migration files are compiled into the binary via go:embed, so production
// deployments need no external files.
func runMigrations(db *stdsql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("Database migrations applied")
	return nil
}

// DB returns the underlying pool for health checks.
func (r *PostgresRepository) DB() *stdsql.DB { return r.db }

// Close closes the connection pool.
func (r *PostgresRepository) Close() error { return r.db.Close() }

// PutVector inserts a vector record. A missing id is assigned. A foreign-key
// violation on the owning user maps to ErrForeignKeyMissing so the caller
// can EnsureUser and retry.
func (r *PostgresRepository) PutVector(ctx context.Context, rec *models.VectorRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	vectorJSON, err := json.Marshal(rec.VectorData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal vector data: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO behavioral_vectors
			(id, user_id, session_id, vector_data, vector_type, confidence_score, feature_source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, rec.UserID, rec.SessionID, vectorJSON, string(rec.VectorType),
		rec.Confidence, rec.FeatureSource, metadataJSON, createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return "", fmt.Errorf("put vector for user %s: %w", rec.UserID, ErrForeignKeyMissing)
		}
		return "", fmt.Errorf("failed to insert vector record: %w", err)
	}
	return id, nil
}

const vectorColumns = `id, user_id, session_id, vector_data, vector_type, confidence_score, feature_source, metadata, created_at`

// Latest returns the most recent record of a kind for a user.
func (r *PostgresRepository) Latest(ctx context.Context, userInternalID string, kind models.VectorKind) (*models.VectorRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+vectorColumns+`
		FROM behavioral_vectors
		WHERE user_id = $1 AND vector_type = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		userInternalID, string(kind),
	)
	return scanVector(row)
}

// BySession returns the most recent record of a kind for a session id.
func (r *PostgresRepository) BySession(ctx context.Context, sessionID string, kind models.VectorKind) (*models.VectorRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+vectorColumns+`
		FROM behavioral_vectors
		WHERE session_id = $1 AND vector_type = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionID, string(kind),
	)
	return scanVector(row)
}

// ListByKind returns all records of a kind in insertion order.
func (r *PostgresRepository) ListByKind(ctx context.Context, kind models.VectorKind) ([]*models.VectorRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+vectorColumns+`
		FROM behavioral_vectors
		WHERE vector_type = $1
		ORDER BY created_at`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s vectors: %w", kind, err)
	}
	defer rows.Close()

	var records []*models.VectorRecord
	for rows.Next() {
		rec, err := scanVector(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetUserPhase returns the stored learning phase for a user.
func (r *PostgresRepository) GetUserPhase(ctx context.Context, userInternalID string) (models.Phase, error) {
	var phase string
	err := r.db.QueryRowContext(ctx,
		`SELECT current_phase FROM user_profiles WHERE id = $1`,
		userInternalID,
	).Scan(&phase)
	if errors.Is(err, stdsql.ErrNoRows) {
		return "", fmt.Errorf("phase for user %s: %w", userInternalID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read user phase: %w", err)
	}
	return models.ParsePhase(phase)
}

// SetUserPhase updates the stored learning phase, creating the profile row
// if it does not exist yet.
func (r *PostgresRepository) SetUserPhase(ctx context.Context, userInternalID string, phase models.Phase) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, original_user_id, current_phase)
		VALUES ($1, '', $2)
		ON CONFLICT (id) DO UPDATE
		SET current_phase = EXCLUDED.current_phase, updated_at = now()`,
		userInternalID, string(phase),
	)
	if err != nil {
		return fmt.Errorf("failed to set user phase: %w", err)
	}
	return nil
}

// EnsureUser creates the user profile row if absent.
func (r *PostgresRepository) EnsureUser(ctx context.Context, userInternalID, externalID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal user metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, original_user_id, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		userInternalID, externalID, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", userInternalID, err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVector(row rowScanner) (*models.VectorRecord, error) {
	var (
		rec          models.VectorRecord
		vectorType   string
		vectorJSON   []byte
		metadataJSON []byte
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &vectorJSON, &vectorType,
		&rec.Confidence, &rec.FeatureSource, &metadataJSON, &rec.CreatedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan vector record: %w", err)
	}

	rec.VectorType = models.VectorKind(vectorType)
	if err := json.Unmarshal(vectorJSON, &rec.VectorData); err != nil {
		return nil, fmt.Errorf("failed to decode vector data for record %s: %w", rec.ID, err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for record %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
