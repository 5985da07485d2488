package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/tgmonitor/internal/identity"
	"github.com/flemzord/tgmonitor/internal/store"
)

// Store implements store.Store on a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func (s *Store) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) Load(ctx context.Context, id string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, settings, sent, errors, updated_at
		FROM identities WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *Store) LoadAll(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, settings, sent, errors, updated_at
		FROM identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list identities: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		rec       store.Record
		settings  string
		updatedAt string
	)
	if err := row.Scan(&rec.ID, &settings, &rec.Stats.Sent, &rec.Stats.Errors, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("sqlite: scan identity: %w", err)
	}
	if err := json.Unmarshal([]byte(settings), &rec.Settings); err != nil {
		return rec, fmt.Errorf("sqlite: decode settings of %s: %w", rec.ID, err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func (s *Store) SaveSettings(ctx context.Context, id string, set identity.Settings) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("sqlite: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (id, phone, settings, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phone = excluded.phone,
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		id, set.Phone, string(raw), s.timestamp())
	if err != nil {
		return fmt.Errorf("sqlite: save settings of %s: %w", id, err)
	}
	return nil
}

func (s *Store) SaveStats(ctx context.Context, id string, st identity.Stats) error {
	defaults, err := json.Marshal(identity.DefaultSettings())
	if err != nil {
		return fmt.Errorf("sqlite: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO identities (id, settings, sent, errors, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sent = excluded.sent,
			errors = excluded.errors,
			updated_at = excluded.updated_at`,
		id, string(defaults), st.Sent, st.Errors, s.timestamp())
	if err != nil {
		return fmt.Errorf("sqlite: save stats of %s: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE identity_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete subscriptions of %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) AddPushSubscription(ctx context.Context, sub store.PushSubscription) error {
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO push_subscriptions (endpoint, identity_id, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sub.Endpoint, sub.IdentityID, sub.P256dh, sub.Auth, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: add push subscription: %w", err)
	}
	return nil
}

func (s *Store) PushSubscriptions(ctx context.Context, identityID string) ([]store.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, identity_id, p256dh, auth, created_at
		FROM push_subscriptions WHERE identity_id = ? ORDER BY endpoint`, identityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list push subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.PushSubscription
	for rows.Next() {
		var (
			sub     store.PushSubscription
			created string
		)
		if err := rows.Scan(&sub.Endpoint, &sub.IdentityID, &sub.P256dh, &sub.Auth, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan push subscription: %w", err)
		}
		sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("sqlite: delete push subscription: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
