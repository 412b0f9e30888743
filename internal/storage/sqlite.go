package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"wsnotifier/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open creates the database file and its directory if needed and applies
// the schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertChannel writes platform and language for a channel.
func (s *Store) UpsertChannel(ctx context.Context, ch Channel) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if ch.Platform == "" {
		ch.Platform = DefaultPlatform
	}
	if ch.Language == "" {
		ch.Language = DefaultLanguage
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(chat_id, thread_id, platform, language) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id, thread_id) DO UPDATE SET platform=excluded.platform, language=excluded.language`,
		ch.ChatID, ch.ThreadID, ch.Platform, ch.Language,
	)
	return err
}

// GetChannel returns the stored channel or defaults when none exists.
func (s *Store) GetChannel(ctx context.Context, chatID int64, threadID int) (Channel, bool, error) {
	ch := Channel{ChatID: chatID, ThreadID: threadID, Platform: DefaultPlatform, Language: DefaultLanguage}
	if s == nil || s.db == nil {
		return ch, false, ErrDisabled
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT platform, language FROM channels WHERE chat_id = ? AND thread_id = ?`, chatID, threadID,
	).Scan(&ch.Platform, &ch.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return ch, false, nil
	}
	if err != nil {
		return ch, false, err
	}
	return ch, true, nil
}

func (s *Store) AddTypes(ctx context.Context, chatID int64, threadID int, types ...string) (int, error) {
	return s.addSubs(ctx, "type_subscriptions", "type", chatID, threadID, types)
}

func (s *Store) RemoveTypes(ctx context.Context, chatID int64, threadID int, types ...string) (int, error) {
	return s.removeSubs(ctx, "type_subscriptions", "type", chatID, threadID, types)
}

// AddItems subscribes to reward items. Items are stored lowercase.
func (s *Store) AddItems(ctx context.Context, chatID int64, threadID int, items ...string) (int, error) {
	return s.addSubs(ctx, "item_subscriptions", "item", chatID, threadID, lowerAll(items))
}

func (s *Store) RemoveItems(ctx context.Context, chatID int64, threadID int, items ...string) (int, error) {
	return s.removeSubs(ctx, "item_subscriptions", "item", chatID, threadID, lowerAll(items))
}

// addSubs makes sure the channel row exists so Subscribers can join on it.
func (s *Store) addSubs(ctx context.Context, table, col string, chatID int64, threadID int, vals []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channels(chat_id, thread_id) VALUES(?,?) ON CONFLICT(chat_id, thread_id) DO NOTHING`,
		chatID, threadID,
	); err != nil {
		return 0, err
	}
	n := 0
	q := fmt.Sprintf(`INSERT INTO %s(chat_id, thread_id, %s) VALUES(?,?,?) ON CONFLICT DO NOTHING`, table, col)
	for _, v := range vals {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, q, chatID, threadID, v)
		if err != nil {
			return 0, err
		}
		if k, _ := res.RowsAffected(); k > 0 {
			n += int(k)
		}
	}
	return n, tx.Commit()
}

func (s *Store) removeSubs(ctx context.Context, table, col string, chatID int64, threadID int, vals []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE chat_id = ? AND thread_id = ? AND %s = ?`, table, col)
	n := 0
	for _, v := range vals {
		res, err := s.db.ExecContext(ctx, q, chatID, threadID, strings.TrimSpace(v))
		if err != nil {
			return n, err
		}
		if k, _ := res.RowsAffected(); k > 0 {
			n += int(k)
		}
	}
	return n, nil
}

func (s *Store) ListTracking(ctx context.Context, chatID int64, threadID int) (Tracking, error) {
	var t Tracking
	if s == nil || s.db == nil {
		return t, ErrDisabled
	}
	var err error
	if t.Types, err = s.queryStrings(ctx, `SELECT type FROM type_subscriptions WHERE chat_id = ? AND thread_id = ? ORDER BY type`, chatID, threadID); err != nil {
		return t, err
	}
	t.Items, err = s.queryStrings(ctx, `SELECT item FROM item_subscriptions WHERE chat_id = ? AND thread_id = ? ORDER BY item`, chatID, threadID)
	return t, err
}

// Subscribers returns the channels on platform tracking key. With tags, a
// channel must also track at least one of them as an item.
func (s *Store) Subscribers(ctx context.Context, platform, key string, tags []string) ([]Channel, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT c.chat_id, c.thread_id, c.platform, c.language
		FROM channels c
		JOIN type_subscriptions t ON t.chat_id = c.chat_id AND t.thread_id = c.thread_id
		WHERE c.platform = ? AND t.type = ?`
	args := []any{platform, key}

	tags = lowerAll(tags)
	if len(tags) > 0 {
		q += ` AND EXISTS (SELECT 1 FROM item_subscriptions i
			WHERE i.chat_id = c.chat_id AND i.thread_id = c.thread_id AND i.item IN (?` + strings.Repeat(",?", len(tags)-1) + `))`
		for _, tag := range tags {
			args = append(args, tag)
		}
	}
	q += ` ORDER BY c.chat_id, c.thread_id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Channel
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.ChatID, &ch.ThreadID, &ch.Platform, &ch.Language); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ReplaceLive records m and returns the messages it displaces: earlier
// deliveries under the same key and channel that are not companions of m.
// Those rows are removed; deleting the messages is the caller's job.
func (s *Store) ReplaceLive(ctx context.Context, m LiveMessage) ([]LiveMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT message_id, grp, expires_at FROM live_messages
		 WHERE platform = ? AND key = ? AND chat_id = ? AND thread_id = ? AND (grp = '' OR grp <> ?)`,
		m.Platform, m.Key, m.ChatID, m.ThreadID, m.Group,
	)
	if err != nil {
		return nil, err
	}
	var old []LiveMessage
	for rows.Next() {
		o := LiveMessage{Platform: m.Platform, Key: m.Key, ChatID: m.ChatID, ThreadID: m.ThreadID}
		var exp int64
		if err := rows.Scan(&o.MessageID, &o.Group, &exp); err != nil {
			rows.Close()
			return nil, err
		}
		o.ExpiresAt = fromMillis(exp)
		old = append(old, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range old {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM live_messages WHERE chat_id = ? AND thread_id = ? AND message_id = ?`,
			o.ChatID, o.ThreadID, o.MessageID,
		); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO live_messages(platform, key, chat_id, thread_id, message_id, grp, expires_at) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id, thread_id, message_id) DO UPDATE SET platform=excluded.platform, key=excluded.key, grp=excluded.grp, expires_at=excluded.expires_at`,
		m.Platform, m.Key, m.ChatID, m.ThreadID, m.MessageID, m.Group, toMillis(m.ExpiresAt),
	); err != nil {
		return nil, err
	}
	return old, tx.Commit()
}

// ExpiredLive lists up to limit messages whose TTL ran out by now.
func (s *Store) ExpiredLive(ctx context.Context, now time.Time, limit int) ([]LiveMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, key, chat_id, thread_id, message_id, grp, expires_at FROM live_messages
		 WHERE expires_at > 0 AND expires_at <= ? ORDER BY expires_at LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LiveMessage
	for rows.Next() {
		var m LiveMessage
		var exp int64
		if err := rows.Scan(&m.Platform, &m.Key, &m.ChatID, &m.ThreadID, &m.MessageID, &m.Group, &exp); err != nil {
			return nil, err
		}
		m.ExpiresAt = fromMillis(exp)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteLive(ctx context.Context, chatID int64, threadID, messageID int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM live_messages WHERE chat_id = ? AND thread_id = ? AND message_id = ?`,
		chatID, threadID, messageID,
	)
	return err
}

func (s *Store) LoadWatermarks(ctx context.Context) (map[string]time.Time, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT platform, last_update FROM watermarks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var p string
		var ms int64
		if err := rows.Scan(&p, &ms); err != nil {
			return nil, err
		}
		out[p] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

// SaveWatermark never moves a platform's watermark backwards.
func (s *Store) SaveWatermark(ctx context.Context, platform string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks(platform, last_update) VALUES(?,?)
		 ON CONFLICT(platform) DO UPDATE SET last_update = MAX(last_update, excluded.last_update)`,
		platform, at.UnixMilli(),
	)
	return err
}

func (s *Store) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
