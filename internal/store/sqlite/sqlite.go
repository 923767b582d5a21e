package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/rtchat-server/internal/store"
)

//go:embed schema.sql
var schema string

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== RoomStore implementation ====

const roomColumns = `id, name, kind, admin_id, direct_key, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var room store.Room
	var adminID sql.NullInt64
	var directKey sql.NullString
	if err := row.Scan(&room.ID, &room.Name, &room.Kind, &adminID, &directKey, &room.CreatedAt); err != nil {
		return nil, err
	}
	if adminID.Valid {
		room.AdminID = &adminID.Int64
	}
	if directKey.Valid {
		room.DirectKey = &directKey.String
	}
	return &room, nil
}

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, id, name string, kind store.RoomKind, adminID *int64) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO rooms (id, name, kind, admin_id)
		VALUES (?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, name, kind, adminID); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert room: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	// The admin of a group is its first member.
	if adminID != nil {
		if _, err := tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES (?, ?)`, id, *adminID); err != nil {
			return nil, fmt.Errorf("add admin to members: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %q: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

// ListRooms lists all rooms visible to a user: public rooms and rooms the user belongs to.
func (s *SQLiteStore) ListRooms(ctx context.Context, userID int64) ([]*store.Room, error) {
	query := `
		SELECT DISTINCT r.id, r.name, r.kind, r.admin_id, r.direct_key, r.created_at
		FROM rooms r
		LEFT JOIN room_members rm ON r.id = rm.room_id AND rm.user_id = ?
		WHERE r.kind = 'public'
		   OR rm.user_id IS NOT NULL
		ORDER BY r.created_at DESC, r.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// getRoomByDirectKey retrieves a private room by its direct_key.
func (s *SQLiteStore) getRoomByDirectKey(ctx context.Context, directKey string) (*store.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE direct_key = ?`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, directKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("direct room: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return room, nil
}

// CreateDirectRoom creates a private room between two users.
// Handles deduplication via directKey and auto-adds both users as members.
func (s *SQLiteStore) CreateDirectRoom(ctx context.Context, id, directKey string, user1ID, user2ID int64) (*store.Room, error) {
	room, err := s.getRoomByDirectKey(ctx, directKey)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing room: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO rooms (id, name, kind, admin_id, direct_key)
		VALUES (?, ?, 'private', NULL, ?)
	`
	if _, err := tx.ExecContext(ctx, query, id, fmt.Sprintf("dm-%d-%d", user1ID, user2ID), directKey); err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent creator; theirs wins.
			_ = tx.Rollback()
			return s.getRoomByDirectKey(ctx, directKey)
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	memberQuery := `
		INSERT INTO room_members (room_id, user_id)
		VALUES (?, ?)
	`
	if _, err := tx.ExecContext(ctx, memberQuery, id, user1ID); err != nil {
		return nil, fmt.Errorf("add user1 to members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, memberQuery, id, user2ID); err != nil {
		return nil, fmt.Errorf("add user2 to members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetRoom(ctx, id)
}

// RenameRoom updates the display name of a room.
func (s *SQLiteStore) RenameRoom(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE rooms SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename room: %w", err)
	}
	return expectAffected(result, "room")
}

// DeleteRoom removes a room; members, bans and messages cascade.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return expectAffected(result, "room")
}

func expectAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

// ==== MemberStore implementation ====

// AddMember adds a user to a room.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID string, userID int64) error {
	query := `
		INSERT OR IGNORE INTO room_members (room_id, user_id)
		VALUES (?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("insert room member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a room.
func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID string, userID int64) error {
	query := `
		DELETE FROM room_members
		WHERE room_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, userID); err != nil {
		return fmt.Errorf("delete room member: %w", err)
	}
	return nil
}

// IsMember checks if user is a member of the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID string, userID int64) (bool, error) {
	query := `
		SELECT 1 FROM room_members
		WHERE room_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, roomID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// ListMembers lists all members of a room.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID string) ([]int64, error) {
	query := `
		SELECT user_id FROM room_members
		WHERE room_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`
	return s.listUserIDs(ctx, query, roomID)
}

// BanMember removes the user from the room and records the ban in one transaction.
func (s *SQLiteStore) BanMember(ctx context.Context, roomID string, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID); err != nil {
		return fmt.Errorf("delete room member: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO room_bans (room_id, user_id) VALUES (?, ?)`, roomID, userID); err != nil {
		return fmt.Errorf("insert room ban: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UnbanMember lifts a ban. Membership is not restored.
func (s *SQLiteStore) UnbanMember(ctx context.Context, roomID string, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_bans WHERE room_id = ? AND user_id = ?`, roomID, userID); err != nil {
		return fmt.Errorf("delete room ban: %w", err)
	}
	return nil
}

// ListBans lists users banned from a room.
func (s *SQLiteStore) ListBans(ctx context.Context, roomID string) ([]int64, error) {
	query := `
		SELECT user_id FROM room_bans
		WHERE room_id = ?
		ORDER BY banned_at ASC, user_id ASC
	`
	return s.listUserIDs(ctx, query, roomID)
}

func (s *SQLiteStore) listUserIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ==== MessageStore implementation ====

const messageColumns = `
	m.id, m.room_id, m.user_id, u.username, m.body,
	COALESCE(m.file_ref, ''), COALESCE(m.file_name, ''), COALESCE(m.content_type, ''),
	m.file_size, m.is_seen, m.created_at
`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.Username,
		&msg.Body,
		&msg.FileRef,
		&msg.FileName,
		&msg.ContentType,
		&msg.FileSize,
		&msg.Seen,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (room_id, user_id, body, file_ref, file_name, content_type, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.RoomID,
		msg.UserID,
		msg.Body,
		nullable(msg.FileRef),
		nullable(msg.FileName),
		nullable(msg.ContentType),
		msg.FileSize,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves the latest messages of a room, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.id DESC
		LIMIT ?
	`
	return s.queryMessages(ctx, query, roomID, limit)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkSeen sets the seen flag on a message of a public room or of one of the
// user's rooms, unless the user is banned from that room. The flag is global to
// the message, not per reader, and never reverts.
func (s *SQLiteStore) MarkSeen(ctx context.Context, messageID, userID int64) (*store.Message, error) {
	query := `
		UPDATE messages SET is_seen = 1
		WHERE id = ?
		  AND room_id NOT IN (SELECT room_id FROM room_bans WHERE user_id = ?)
		  AND (
		    room_id IN (SELECT room_id FROM room_members WHERE user_id = ?)
		    OR room_id IN (SELECT id FROM rooms WHERE kind = 'public')
		  )
	`
	result, err := s.db.ExecContext(ctx, query, messageID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	if err := expectAffected(result, "message"); err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, messageID)
}

// UnreadSummary counts unseen messages from other authors in the user's non-public rooms.
func (s *SQLiteStore) UnreadSummary(ctx context.Context, userID int64, limit int) (*store.UnreadSummary, error) {
	from := `
		FROM messages m
		JOIN users u ON u.id = m.user_id
		JOIN rooms r ON r.id = m.room_id
		JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = ?
		WHERE m.is_seen = 0
		  AND m.user_id != ?
		  AND r.kind != 'public'
	`

	var summary store.UnreadSummary
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+from, userID, userID).Scan(&summary.Count); err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}
	if summary.Count == 0 || limit <= 0 {
		return &summary, nil
	}

	latest, err := s.queryMessages(ctx, `SELECT `+messageColumns+from+` ORDER BY m.id DESC LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	summary.Latest = latest
	return &summary, nil
}
