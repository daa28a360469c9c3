package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"golang.org/x/oauth2"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        external_user_id TEXT UNIQUE NOT NULL,
        display_name TEXT NOT NULL DEFAULT '',
        email TEXT NOT NULL DEFAULT '',
        avatar_url TEXT NOT NULL DEFAULT '',
        access_token TEXT NOT NULL DEFAULT '',
        refresh_token TEXT NOT NULL DEFAULT '',
        token_type TEXT NOT NULL DEFAULT '',
        token_expiry DATETIME,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS automation_settings (
        user_id INTEGER NOT NULL,
        position INTEGER NOT NULL,
        location_id TEXT NOT NULL,
        location_title TEXT NOT NULL DEFAULT '',
        enabled BOOLEAN NOT NULL DEFAULT FALSE,
        tone TEXT NOT NULL DEFAULT '',
        keywords_json TEXT NOT NULL DEFAULT '[]',
        time_filter TEXT NOT NULL,
        reply_scope TEXT NOT NULL,
        PRIMARY KEY (user_id, location_id),
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE INDEX IF NOT EXISTS idx_automation_settings_enabled ON automation_settings (enabled, user_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

const userColumns = `id, external_user_id, display_name, email, avatar_url, access_token, refresh_token, token_type, token_expiry, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var expiry sql.NullTime
	err := row.Scan(&user.ID, &user.ExternalUserID, &user.DisplayName, &user.Email, &user.AvatarURL,
		&user.AccessToken, &user.RefreshToken, &user.TokenType, &expiry, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		user.TokenExpiry = expiry.Time
	}
	return &user, nil
}

// User methods

// GetUserByID returns nil, nil when the user does not exist.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// GetUserByExternalID returns nil, nil when the user does not exist.
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalUserID string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE external_user_id = ?", externalUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

// UpsertUserFromLogin creates the user on first login and refreshes the
// profile and tokens on every later one. Google only issues a refresh token on
// the first consent, so an empty one never overwrites a stored value.
func (s *SQLiteStore) UpsertUserFromLogin(ctx context.Context, profile Profile, token *oauth2.Token) (*User, error) {
	if profile.ExternalUserID == "" {
		return nil, errors.New("profile is missing an account id")
	}
	if token == nil {
		return nil, errors.New("token is required")
	}

	const q = `
    INSERT INTO users (external_user_id, display_name, email, avatar_url, access_token, refresh_token, token_type, token_expiry, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT (external_user_id) DO UPDATE SET
        display_name = excluded.display_name,
        email = excluded.email,
        avatar_url = excluded.avatar_url,
        access_token = excluded.access_token,
        refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE users.refresh_token END,
        token_type = excluded.token_type,
        token_expiry = excluded.token_expiry,
        updated_at = excluded.updated_at
    `
	_, err := s.db.ExecContext(ctx, q, profile.ExternalUserID, profile.DisplayName, profile.Email, profile.AvatarURL,
		token.AccessToken, token.RefreshToken, token.TokenType, token.Expiry, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return s.GetUserByExternalID(ctx, profile.ExternalUserID)
}

// UpdateUserToken persists a refreshed token for the user.
func (s *SQLiteStore) UpdateUserToken(ctx context.Context, userID int64, token *oauth2.Token) error {
	const q = `
    UPDATE users SET
        access_token = ?,
        refresh_token = CASE WHEN ? != '' THEN ? ELSE refresh_token END,
        token_type = ?,
        token_expiry = ?,
        updated_at = ?
    WHERE id = ?
    `
	res, err := s.db.ExecContext(ctx, q, token.AccessToken, token.RefreshToken, token.RefreshToken,
		token.TokenType, token.Expiry, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update user token: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("user %d not found, token not updated", userID)
	}
	return nil
}

// Settings methods

func (s *SQLiteStore) GetSettings(ctx context.Context, userID int64) ([]AutomationSetting, error) {
	const q = `
    SELECT location_id, location_title, enabled, tone, keywords_json, time_filter, reply_scope
    FROM automation_settings
    WHERE user_id = ?
    ORDER BY position ASC
    `
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := []AutomationSetting{}
	for rows.Next() {
		var setting AutomationSetting
		var keywordsJSON string
		if err := rows.Scan(&setting.LocationID, &setting.LocationTitle, &setting.Enabled, &setting.Tone,
			&keywordsJSON, &setting.TimeFilter, &setting.ReplyScope); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &setting.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords for %s: %w", setting.LocationID, err)
		}
		settings = append(settings, setting)
	}
	return settings, rows.Err()
}

// ReplaceSettings swaps the user's whole settings list in one transaction.
// Concurrent saves for the same user resolve as last writer wins.
func (s *SQLiteStore) ReplaceSettings(ctx context.Context, userID int64, settings []AutomationSetting) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settings transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM automation_settings WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
    INSERT INTO automation_settings (user_id, position, location_id, location_title, enabled, tone, keywords_json, time_filter, reply_scope)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare setting insert: %w", err)
	}
	defer stmt.Close()

	for i, setting := range settings {
		keywords := setting.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		keywordsJSON, err := json.Marshal(keywords)
		if err != nil {
			return fmt.Errorf("failed to encode keywords: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, userID, i, setting.LocationID, setting.LocationTitle, setting.Enabled,
			setting.Tone, string(keywordsJSON), setting.TimeFilter, setting.ReplyScope); err != nil {
			return fmt.Errorf("failed to insert setting for %s: %w", setting.LocationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settings: %w", err)
	}
	return nil
}

// ListUserIDsWithEnabledSettings returns every user with at least one enabled setting.
func (s *SQLiteStore) ListUserIDsWithEnabledSettings(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM automation_settings WHERE enabled = TRUE ORDER BY user_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
