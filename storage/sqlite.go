package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lira-edu/lira-backend/webpush"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite implements storage using SQLite.
//
// The two partial unique indexes enforce the registry's identity rules at
// the storage layer: one (user, endpoint) per web subscription, one
// (user, playerId) per mobile subscription.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite storage.
// dsn is the data source name, e.g., "lira.db" or ":memory:".
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			endpoint TEXT,
			p256dh TEXT,
			auth TEXT,
			player_id TEXT,
			platform TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_web
			ON subscriptions(user_id, endpoint) WHERE channel = 'web';
		CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_mobile
			ON subscriptions(user_id, player_id) WHERE channel = 'mobile';
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &SQLite{db: db}, nil
}

// UpsertWeb stores or refreshes a web subscription keyed by (user, endpoint).
func (s *SQLite) UpsertWeb(ctx context.Context, userID string, sub *webpush.Subscription) (*Record, error) {
	record, err := NewWebRecord(userID, sub)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var existingID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM subscriptions
		WHERE channel = 'web' AND user_id = ? AND endpoint = ?
	`, userID, sub.Endpoint).Scan(&existingID)

	switch {
	case err == nil:
		// Re-registration: replace key material, keep identity.
		_, err = s.db.ExecContext(ctx, `
			UPDATE subscriptions SET p256dh = ?, auth = ?, updated_at = ? WHERE id = ?
		`, sub.Keys.P256dh, sub.Keys.Auth, now, existingID)
		if err != nil {
			return nil, fmt.Errorf("updating subscription: %w", err)
		}
		return s.get(ctx, existingID)

	case err == sql.ErrNoRows:
		record.CreatedAt = now
		record.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO subscriptions (id, user_id, channel, endpoint, p256dh, auth, created_at, updated_at)
			VALUES (?, ?, 'web', ?, ?, ?, ?, ?)
		`, record.ID, userID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, now, now)
		if err != nil {
			return nil, fmt.Errorf("saving subscription: %w", err)
		}
		return record, nil

	default:
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
}

// UpsertMobile stores or refreshes a mobile subscription keyed by
// (user, playerId).
func (s *SQLite) UpsertMobile(ctx context.Context, userID, playerID string, platform Platform) (*Record, error) {
	record, err := NewMobileRecord(userID, playerID, platform)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var existingID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM subscriptions
		WHERE channel = 'mobile' AND user_id = ? AND player_id = ?
	`, userID, playerID).Scan(&existingID)

	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE subscriptions SET platform = ?, updated_at = ? WHERE id = ?
		`, string(record.Mobile.Platform), now, existingID)
		if err != nil {
			return nil, fmt.Errorf("updating subscription: %w", err)
		}
		return s.get(ctx, existingID)

	case err == sql.ErrNoRows:
		record.CreatedAt = now
		record.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO subscriptions (id, user_id, channel, player_id, platform, created_at, updated_at)
			VALUES (?, ?, 'mobile', ?, ?, ?, ?)
		`, record.ID, userID, playerID, string(record.Mobile.Platform), now, now)
		if err != nil {
			return nil, fmt.Errorf("saving subscription: %w", err)
		}
		return record, nil

	default:
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
}

// DeleteMobile removes the matching mobile subscription if present.
func (s *SQLite) DeleteMobile(ctx context.Context, userID, playerID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE channel = 'mobile' AND user_id = ? AND player_id = ?
	`, userID, playerID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	// Idempotent: zero rows affected is fine.
	return nil
}

// GetByUser retrieves all subscriptions for a user.
func (s *SQLite) GetByUser(ctx context.Context, userID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Delete removes a subscription by ID.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByUser returns the number of subscriptions stored for a user.
func (s *SQLite) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting subscriptions: %w", err)
	}
	return count, nil
}

// List returns all subscriptions with pagination.
func (s *SQLite) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, user_id, channel, endpoint, p256dh, auth, player_id, platform, created_at, updated_at
	FROM subscriptions`

func (s *SQLite) get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanRecord(row)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		id        string
		userID    string
		channel   string
		endpoint  sql.NullString
		p256dh    sql.NullString
		auth      sql.NullString
		playerID  sql.NullString
		platform  sql.NullString
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&id, &userID, &channel, &endpoint, &p256dh, &auth, &playerID, &platform, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	record := &Record{
		ID:        id,
		UserID:    userID,
		Channel:   Channel(channel),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	switch record.Channel {
	case ChannelWeb:
		record.Web = &webpush.Subscription{
			Endpoint: endpoint.String,
			Keys: webpush.Keys{
				P256dh: p256dh.String,
				Auth:   auth.String,
			},
		}
	case ChannelMobile:
		record.Mobile = &Mobile{
			PlayerID: playerID.String,
			Platform: Platform(platform.String),
		}
	}
	return record, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return records, nil
}
