// Package store is the client's durable local storage: the current user, a
// capped log of messages and per-room encryption keys, in one SQLite file.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/hilthontt/nearchat/internal/infrastructure/logging"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultCapacity is the maximum number of messages kept in the log.
const DefaultCapacity = 1000

const (
	userKey       = "user"
	roomKeyPrefix = "key:"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	room_code   TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	text        TEXT NOT NULL,
	timestamp   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_room_seq ON messages (room_code, seq);
`

type Options struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	Path string
	// Capacity bounds the message log; the oldest message is evicted first.
	Capacity int
	Logger   logging.Logger
}

type Store struct {
	pool     *sqlitex.Pool
	path     string
	capacity int
	logger   logging.Logger
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store: path is required")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	// Every in-memory connection is its own database.
	poolSize := 4
	if opts.Path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(opts.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", opts.Path, err)
	}

	s := &Store{pool: pool, path: opts.Path, capacity: opts.Capacity, logger: opts.Logger}
	if err := s.migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	s.logger.Info(logging.Store, logging.Startup, "local store opened", map[logging.ExtraKey]any{
		"path":     opts.Path,
		"capacity": opts.Capacity,
	})
	return s, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

// AddMessage appends msg to the log unless a message with the same id is
// already stored. It reports whether the message was new. When the log
// exceeds its capacity the oldest entries are evicted.
func (s *Store) AddMessage(ctx context.Context, msg domain.Message) (added bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO messages (id, room_code, sender_name, sender_id, text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{msg.ID, msg.RoomCode, msg.SenderName, msg.SenderID, msg.Text, msg.Timestamp},
		})
	if err != nil {
		return false, fmt.Errorf("store: insert message %s: %w", msg.ID, err)
	}
	if conn.Changes() == 0 {
		return false, nil
	}

	err = sqlitex.Execute(conn,
		`DELETE FROM messages WHERE seq <= (
			SELECT seq FROM messages ORDER BY seq DESC LIMIT 1 OFFSET ?
		)`,
		&sqlitex.ExecOptions{Args: []any{s.capacity}})
	if err != nil {
		return false, fmt.Errorf("store: evict messages: %w", err)
	}
	if evicted := conn.Changes(); evicted > 0 {
		s.logger.Debug(logging.Store, logging.Delivery, "evicted oldest messages", map[logging.ExtraKey]any{
			"evicted": evicted,
		})
	}

	return true, nil
}

// Messages returns the stored messages of a room, oldest first. An empty
// room code returns the whole log.
func (s *Store) Messages(ctx context.Context, roomCode string) ([]domain.Message, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT id, room_code, sender_name, sender_id, text, timestamp FROM messages`
	var args []any
	if roomCode != "" {
		query += ` WHERE room_code = ?`
		args = append(args, roomCode)
	}
	query += ` ORDER BY seq`

	messages := []domain.Message{}
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			messages = append(messages, domain.Message{
				ID:         stmt.ColumnText(0),
				RoomCode:   stmt.ColumnText(1),
				SenderName: stmt.ColumnText(2),
				SenderID:   stmt.ColumnText(3),
				Text:       stmt.ColumnText(4),
				Timestamp:  stmt.ColumnText(5),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) MessageCount(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM messages`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: count messages: %w", err)
	}
	return count, nil
}

func (s *Store) SaveUser(ctx context.Context, user domain.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("store: encode user: %w", err)
	}
	return s.put(ctx, userKey, string(raw))
}

// CurrentUser returns the persisted user; ok is false when none is saved.
func (s *Store) CurrentUser(ctx context.Context) (user domain.User, ok bool, err error) {
	raw, ok, err := s.get(ctx, userKey)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return domain.User{}, false, fmt.Errorf("store: decode user: %w", err)
	}
	return user, true, nil
}

func (s *Store) ClearUser(ctx context.Context) error {
	return s.delete(ctx, userKey)
}

func (s *Store) SaveKey(ctx context.Context, roomCode string, key []byte) error {
	return s.put(ctx, roomKeyPrefix+roomCode, base64.StdEncoding.EncodeToString(key))
}

func (s *Store) Key(ctx context.Context, roomCode string) ([]byte, bool, error) {
	raw, ok, err := s.get(ctx, roomKeyPrefix+roomCode)
	if err != nil || !ok {
		return nil, false, err
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, false, fmt.Errorf("store: decode key for %s: %w", roomCode, err)
	}
	return key, true, nil
}

func (s *Store) ClearKey(ctx context.Context, roomCode string) error {
	return s.delete(ctx, roomKeyPrefix+roomCode)
}

// Clear wipes the user, every key and the message log.
func (s *Store) Clear(ctx context.Context) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.Execute(conn, `DELETE FROM kv`, nil); err != nil {
		return fmt.Errorf("store: clear kv: %w", err)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM messages`, nil); err != nil {
		return fmt.Errorf("store: clear messages: %w", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (value string, ok bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT value FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			ok = true
			return nil
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, ok, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM kv WHERE key = ?`, &sqlitex.ExecOptions{Args: []any{key}}); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}
