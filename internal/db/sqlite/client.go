package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/undertone/confessbot/internal/db"
	apperrors "github.com/undertone/confessbot/internal/errors"
	"github.com/undertone/confessbot/resources"
)

const (
	scopeSession = "session"
	scopeChat    = "chat"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

func NewSQLiteClient(workDir, dbPath string) *sqliteClient {
	dbx, err := sqlx.Open("sqlite", filepath.Join(workDir, dbPath))
	if err != nil {
		log.WithError(err).Fatalln("cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	_, _, err = migrate.PlanMigration(dbx.DB, "sqlite3", migrationsSource, migrate.Up, 0)
	if err != nil {
		log.WithError(err).Fatalln("migrate plan failed")
	}

	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		log.WithError(err).WithField("migration", migrationsSource).Fatalln("migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations!", n)
	}

	return &sqliteClient{db: dbx}
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) getValue(ctx context.Context, scope string, id int64, target any) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var value string
	err := c.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE scope = ? AND id = ?`, scope, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to get %s %d: %w", scope, id, err)
	}
	if err := json.Unmarshal([]byte(value), target); err != nil {
		return errors.WithMessagef(err, "corrupt %s blob for %d", scope, id)
	}
	return nil
}

func (c *sqliteClient) putValue(ctx context.Context, scope string, id int64, value any) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	blob, err := json.Marshal(value)
	if err != nil {
		return errors.WithMessagef(err, "cant marshal %s blob for %d", scope, id)
	}
	query := `
		INSERT INTO kv_store (scope, id, value, updated_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(scope, id) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := c.db.ExecContext(ctx, query, scope, id, string(blob)); err != nil {
		return fmt.Errorf("failed to put %s %d: %w", scope, id, err)
	}
	return nil
}

func (c *sqliteClient) GetSession(ctx context.Context, userID int64) (*db.UserSession, error) {
	session := &db.UserSession{}
	if err := c.getValue(ctx, scopeSession, userID, session); err != nil {
		return nil, err
	}
	session.ID = userID
	return session, nil
}

func (c *sqliteClient) PutSession(ctx context.Context, session *db.UserSession) error {
	if session == nil {
		return apperrors.ErrInvalidInput
	}
	return c.putValue(ctx, scopeSession, session.ID, session)
}

func (c *sqliteClient) GetChatConfig(ctx context.Context, chatID int64) (*db.ChatConfig, error) {
	cfg := &db.ChatConfig{}
	if err := c.getValue(ctx, scopeChat, chatID, cfg); err != nil {
		return nil, err
	}
	cfg.ID = chatID
	return cfg, nil
}

func (c *sqliteClient) PutChatConfig(ctx context.Context, config *db.ChatConfig) error {
	if config == nil {
		return apperrors.ErrInvalidInput
	}
	return c.putValue(ctx, scopeChat, config.ID, config)
}

func (c *sqliteClient) DeleteChatConfig(ctx context.Context, chatID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM kv_store WHERE scope = ? AND id = ?`, scopeChat, chatID)
	return err
}

func (c *sqliteClient) ChatIDs(ctx context.Context) ([]int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var ids []int64
	err := c.db.SelectContext(ctx, &ids, `SELECT id FROM kv_store WHERE scope = ?`, scopeChat)
	return ids, err
}

func (c *sqliteClient) CountChats(ctx context.Context) (int, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var count int
	err := c.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM kv_store WHERE scope = ?`, scopeChat)
	return count, err
}

func (c *sqliteClient) UpsertPostUser(ctx context.Context, postID int, userID int64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO post_user_map (post_id, user_id, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(post_id) DO UPDATE SET
		user_id = excluded.user_id,
		updated_at = excluded.updated_at
	`
	_, err := c.db.ExecContext(ctx, query, postID, userID)
	return err
}

func (c *sqliteClient) LookupPostUser(ctx context.Context, postID int) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var userID int64
	err := c.db.GetContext(ctx, &userID, `SELECT user_id FROM post_user_map WHERE post_id = ?`, postID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperrors.ErrNotFound
		}
		return 0, err
	}
	return userID, nil
}

// SearchSessionsByPost scans session blobs whose confession list mentions the
// post id. The LIKE prefilter is deliberately loose; candidates are verified
// against the decoded blob before being returned.
func (c *sqliteClient) SearchSessionsByPost(ctx context.Context, postID int, limit int) ([]*db.UserSession, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if limit <= 0 {
		limit = 5
	}
	rows := []struct {
		ID    int64  `db:"id"`
		Value string `db:"value"`
	}{}
	query := `SELECT id, value FROM kv_store WHERE scope = ? AND value LIKE ? LIMIT ?`
	pattern := fmt.Sprintf(`%%"id":%d%%`, postID)
	if err := c.db.SelectContext(ctx, &rows, query, scopeSession, pattern, limit); err != nil {
		return nil, err
	}

	sessions := make([]*db.UserSession, 0, len(rows))
	for _, row := range rows {
		session := &db.UserSession{}
		if err := json.Unmarshal([]byte(row.Value), session); err != nil {
			log.WithError(err).WithField("user_id", row.ID).Warn("skipping corrupt session blob")
			continue
		}
		session.ID = row.ID
		if session.HasConfession(postID) {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}
