package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/noveloffice/supportify/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	claimMu sync.Mutex // Serializes claim transactions to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		name TEXT PRIMARY KEY,
		visitor_name TEXT NOT NULL DEFAULT '',
		current_user TEXT NOT NULL DEFAULT '',
		agent_name TEXT NOT NULL DEFAULT '',
		resolved INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '',
		ratings INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		last_message TEXT NOT NULL DEFAULT '',
		last_message_by TEXT NOT NULL DEFAULT '',
		last_message_at INTEGER,
		first_response_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user TEXT NOT NULL,
		agent_email TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'Message',
		time_stamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user TEXT NOT NULL,
		took_control_on_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_session ON assignments(session_id, id);

	CREATE TABLE IF NOT EXISTS agents (
		user TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL DEFAULT '',
		agent_display_name TEXT NOT NULL DEFAULT '',
		is_available INTEGER NOT NULL DEFAULT 0,
		is_admin INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		theme TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS canned_messages (
		agent_user TEXT NOT NULL,
		position INTEGER NOT NULL,
		hot_word TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (agent_user, position)
	);

	CREATE TABLE IF NOT EXISTS clients (
		session_id TEXT PRIMARY KEY,
		name1 TEXT NOT NULL DEFAULT '',
		email_address TEXT NOT NULL DEFAULT '',
		contact_number TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		operating_system TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		accuracy REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		latitude REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tags (
		name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS widget_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		welcome_message TEXT NOT NULL DEFAULT '',
		returning_message TEXT NOT NULL DEFAULT '',
		allowed_origins TEXT NOT NULL DEFAULT '',
		restricted_paths TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO widget_settings (id) VALUES (1);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a session with a generated id and the paired
// client-details record.
func (s *SQLiteStore) CreateSession(ctx context.Context, info NewSessionInfo) (string, error) {
	id := uuid.NewString()
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (name, created_at) VALUES (?, ?)`,
		id, now.Unix()); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO clients (session_id, ip_address, operating_system, referrer) VALUES (?, ?, ?, ?)`,
		id, info.IPAddress, info.OperatingSystem, info.Referrer); err != nil {
		return "", fmt.Errorf("insert client details: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit session create: %w", err)
	}
	return id, nil
}

// GetSession retrieves a session with its full message history.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, visitor_name, current_user, agent_name, resolved, tags,
		       ratings, feedback, last_message, last_message_by, last_message_at, created_at
		FROM sessions WHERE name = ?`, sessionID)

	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user, agent_email, message, message_type, time_stamp
		FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		var ts int64
		if err := rows.Scan(&msg.Author, &msg.AgentEmail, &msg.Body, &msg.Kind, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Timestamp = time.UnixMilli(ts)
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return sess, nil
}

// ListSessions returns sessions ordered by most recent activity.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error) {
	query := `
		SELECT name, visitor_name, current_user, agent_name, resolved, tags,
		       ratings, feedback, last_message, last_message_by, last_message_at, created_at
		FROM sessions`
	var conds []string
	var args []interface{}

	if filter.Resolved != nil {
		conds = append(conds, "resolved = ?")
		args = append(args, boolToInt(*filter.Resolved))
	}
	if filter.Owner != "" {
		conds = append(conds, "current_user = ?")
		args = append(args, filter.Owner)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY COALESCE(last_message_at, created_at * 1000) DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var sess domain.Session
	var resolved int
	var tags string
	var lastMessageAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&sess.ID, &sess.VisitorName, &sess.OwnerAgentID, &sess.OwnerDisplayName,
		&resolved, &tags, &sess.Rating, &sess.Feedback,
		&sess.LastMessage, &sess.LastMessageBy, &lastMessageAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	sess.Resolved = resolved != 0
	sess.Tags = splitTags(tags)
	if lastMessageAt.Valid {
		sess.LastMessageAt = time.UnixMilli(lastMessageAt.Int64)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}

// AppendMessage appends a message inside one transaction: insert the
// row, refresh the preview fields, and reopen a resolved session when
// the author is the visitor.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (bool, error) {
	if msg.Kind == "" {
		msg.Kind = domain.KindChat
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var resolved int
	err = tx.QueryRowContext(ctx, `SELECT resolved FROM sessions WHERE name = ?`, sessionID).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read resolved flag: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, user, agent_email, message, message_type, time_stamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Author, msg.AgentEmail, msg.Body, string(msg.Kind), msg.Timestamp.UnixMilli()); err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	reopened := msg.IsFromGuest() && resolved != 0
	newResolved := resolved
	if reopened {
		newResolved = 0
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_message = ?, last_message_by = ?, last_message_at = ?, resolved = ?
		WHERE name = ?`,
		domain.PreviewOf(msg.Body), msg.Author, msg.Timestamp.UnixMilli(), newResolved, sessionID); err != nil {
		return false, fmt.Errorf("update session preview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit message append: %w", err)
	}
	return reopened, nil
}

// ClaimSession atomically assigns ownership of a session. This is the
// serialization point for claim arbitration: the transaction reads the
// current owner and updates it only when it still matches what the
// claimant saw.
func (s *SQLiteStore) ClaimSession(ctx context.Context, sessionID, agentID, displayName, expectedOwner string) (*ClaimResult, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	res, err := s.claimTx(ctx, sessionID, agentID, displayName, expectedOwner)
	if err != nil && isSQLiteConflict(err) {
		// busy_timeout expired under write pressure; one more try before
		// surfacing the error.
		res, err = s.claimTx(ctx, sessionID, agentID, displayName, expectedOwner)
	}
	return res, err
}

func (s *SQLiteStore) claimTx(ctx context.Context, sessionID, agentID, displayName, expectedOwner string) (*ClaimResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var owner, ownerName string
	var firstResponseAt sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT current_user, agent_name, first_response_at FROM sessions WHERE name = ?`,
		sessionID).Scan(&owner, &ownerName, &firstResponseAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session owner: %w", err)
	}

	if owner == agentID {
		// Idempotent double submit.
		return &ClaimResult{Won: true, Owner: owner, OwnerName: ownerName, AlreadyOwned: true}, nil
	}
	if owner != expectedOwner {
		// Lost the race; surface the winner, not an error.
		return &ClaimResult{Won: false, Owner: owner, OwnerName: ownerName}, nil
	}

	now := time.Now()
	firstClaim := !firstResponseAt.Valid
	query := `UPDATE sessions SET current_user = ?, agent_name = ? WHERE name = ?`
	args := []interface{}{agentID, displayName, sessionID}
	if firstClaim {
		query = `UPDATE sessions SET current_user = ?, agent_name = ?, first_response_at = ? WHERE name = ?`
		args = []interface{}{agentID, displayName, now.Unix(), sessionID}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update session owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO assignments (session_id, user, took_control_on_at) VALUES (?, ?, ?)`,
		sessionID, agentID, now.Unix()); err != nil {
		return nil, fmt.Errorf("record assignment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &ClaimResult{Won: true, Owner: agentID, OwnerName: displayName, FirstClaim: firstClaim}, nil
}

// SessionOwner returns the current owning agent, empty when unclaimed.
func (s *SQLiteStore) SessionOwner(ctx context.Context, sessionID string) (string, string, error) {
	var owner, ownerName string
	err := s.db.QueryRowContext(ctx,
		`SELECT current_user, agent_name FROM sessions WHERE name = ?`, sessionID).
		Scan(&owner, &ownerName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrSessionNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("read session owner: %w", err)
	}
	return owner, ownerName, nil
}

// SetResolved flips the resolved flag.
func (s *SQLiteStore) SetResolved(ctx context.Context, sessionID string, resolved bool) error {
	return s.updateSessionField(ctx, sessionID, "resolved", boolToInt(resolved))
}

// SetTags replaces the session's tag set. Tags are stored comma-joined.
func (s *SQLiteStore) SetTags(ctx context.Context, sessionID string, tags []string) error {
	return s.updateSessionField(ctx, sessionID, "tags", joinTags(tags))
}

// SetFeedback records the visitor's rating and feedback text.
func (s *SQLiteStore) SetFeedback(ctx context.Context, sessionID string, rating int, feedback string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ratings = ?, feedback = ? WHERE name = ?`,
		rating, feedback, sessionID)
	if err != nil {
		return fmt.Errorf("update feedback: %w", err)
	}
	return checkAffected(result, ErrSessionNotFound)
}

// UpdateVisitorFields updates the display fields an agent may edit.
func (s *SQLiteStore) UpdateVisitorFields(ctx context.Context, sessionID, visitorName string) error {
	return s.updateSessionField(ctx, sessionID, "visitor_name", visitorName)
}

func (s *SQLiteStore) updateSessionField(ctx context.Context, sessionID, field string, value interface{}) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+field+` = ? WHERE name = ?`, value, sessionID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", field, err)
	}
	return checkAffected(result, ErrSessionNotFound)
}

// Assignments returns the session's ownership takeover history.
func (s *SQLiteStore) Assignments(ctx context.Context, sessionID string) ([]domain.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user, took_control_on_at FROM assignments WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var ts int64
		if err := rows.Scan(&a.AgentID, &ts); err != nil {
			return nil, fmt.Errorf("scan assignment row: %w", err)
		}
		a.TookControlAt = time.Unix(ts, 0)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignment rows: %w", err)
	}
	return assignments, nil
}

// GetAgent retrieves an agent profile with canned messages.
func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*domain.AgentProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user, agent_name, agent_display_name, is_available, is_admin, enabled, theme
		FROM agents WHERE user = ?`, agentID)

	var agent domain.AgentProfile
	var available, admin, enabled int
	err := row.Scan(&agent.User, &agent.AgentName, &agent.DisplayName,
		&available, &admin, &enabled, &agent.Theme)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	agent.IsAvailable = available != 0
	agent.IsAdmin = admin != 0
	agent.Enabled = enabled != 0

	agent.CannedMessages, err = s.GetCannedMessages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// EnsureAgent returns the agent profile, provisioning one on first sight.
func (s *SQLiteStore) EnsureAgent(ctx context.Context, agentID string) (*domain.AgentProfile, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, ErrAgentNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO agents (user, agent_name, enabled) VALUES (?, ?, 1)`,
		agentID, agentID); err != nil {
		return nil, fmt.Errorf("provision agent: %w", err)
	}
	return s.GetAgent(ctx, agentID)
}

// ListAvailableAgents returns the ids of enabled agents flagged available.
func (s *SQLiteStore) ListAvailableAgents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user FROM agents WHERE is_available = 1 AND enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("query available agents: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", err)
		}
		agents = append(agents, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent rows: %w", err)
	}
	return agents, nil
}

// SetAgentAvailability persists the availability flag.
func (s *SQLiteStore) SetAgentAvailability(ctx context.Context, agentID string, available bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_available = ? WHERE user = ?`,
		boolToInt(available), agentID)
	if err != nil {
		return fmt.Errorf("update agent availability: %w", err)
	}
	return checkAffected(result, ErrAgentNotFound)
}

// SetAgentTheme persists the console theme preference.
func (s *SQLiteStore) SetAgentTheme(ctx context.Context, agentID, theme string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agents SET theme = ? WHERE user = ?`, theme, agentID)
	if err != nil {
		return fmt.Errorf("update agent theme: %w", err)
	}
	return checkAffected(result, ErrAgentNotFound)
}

// GetCannedMessages returns the canned replies for an agent; agentID ""
// addresses the shared default set.
func (s *SQLiteStore) GetCannedMessages(ctx context.Context, agentID string) ([]domain.CannedMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hot_word, message FROM canned_messages WHERE agent_user = ? ORDER BY position`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("query canned messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.CannedMessage
	for rows.Next() {
		var m domain.CannedMessage
		if err := rows.Scan(&m.HotWord, &m.Message); err != nil {
			return nil, fmt.Errorf("scan canned message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canned message rows: %w", err)
	}
	return msgs, nil
}

// ReplaceCannedMessages replaces the canned replies for an agent.
func (s *SQLiteStore) ReplaceCannedMessages(ctx context.Context, agentID string, msgs []domain.CannedMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM canned_messages WHERE agent_user = ?`, agentID); err != nil {
		return fmt.Errorf("clear canned messages: %w", err)
	}
	for i, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO canned_messages (agent_user, position, hot_word, message) VALUES (?, ?, ?, ?)`,
			agentID, i, m.HotWord, m.Message); err != nil {
			return fmt.Errorf("insert canned message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit canned messages: %w", err)
	}
	return nil
}

// GetClientDetails retrieves the visitor record for a session.
func (s *SQLiteStore) GetClientDetails(ctx context.Context, sessionID string) (*domain.ClientDetails, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, name1, email_address, contact_number, ip_address,
		       operating_system, referrer, accuracy, longitude, latitude
		FROM clients WHERE session_id = ?`, sessionID)

	var c domain.ClientDetails
	err := row.Scan(&c.SessionID, &c.Name, &c.Email, &c.Phone, &c.IPAddress,
		&c.OperatingSystem, &c.Referrer, &c.Accuracy, &c.Longitude, &c.Latitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client row: %w", err)
	}
	return &c, nil
}

// UpdateContactDetails records the visitor's contact form and mirrors
// the name onto the session record.
func (s *SQLiteStore) UpdateContactDetails(ctx context.Context, sessionID, name, email, phone string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx,
		`UPDATE clients SET name1 = ?, email_address = ?, contact_number = ? WHERE session_id = ?`,
		name, email, phone, sessionID)
	if err != nil {
		return fmt.Errorf("update contact details: %w", err)
	}
	if err := checkAffected(result, ErrSessionNotFound); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET visitor_name = ? WHERE name = ?`, name, sessionID); err != nil {
		return fmt.Errorf("mirror visitor name: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit contact details: %w", err)
	}
	return nil
}

// UpdateLocationDetails records geolocation; the first write wins.
func (s *SQLiteStore) UpdateLocationDetails(ctx context.Context, sessionID string, accuracy, longitude, latitude float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients SET accuracy = ?, longitude = ?, latitude = ?
		WHERE session_id = ? AND longitude = 0 AND latitude = 0`,
		accuracy, longitude, latitude, sessionID)
	if err != nil {
		return fmt.Errorf("update location details: %w", err)
	}
	// Zero rows here usually means the location was already set; not an
	// error per the first-write-wins policy.
	_ = result
	return nil
}

// ListTags returns all configured tags.
func (s *SQLiteStore) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.Name, &t.Description); err != nil {
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag rows: %w", err)
	}
	return tags, nil
}

// CreateTag adds a tag definition.
func (s *SQLiteStore) CreateTag(ctx context.Context, tag domain.Tag) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tags (name, description) VALUES (?, ?)`,
		tag.Name, tag.Description)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	return checkAffected(result, ErrTagExists)
}

// DeleteTag removes a tag definition.
func (s *SQLiteStore) DeleteTag(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// GetWidgetSettings returns the widget configuration.
func (s *SQLiteStore) GetWidgetSettings(ctx context.Context) (*domain.WidgetSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT welcome_message, returning_message, allowed_origins, restricted_paths
		FROM widget_settings WHERE id = 1`)

	var ws domain.WidgetSettings
	var origins, paths string
	if err := row.Scan(&ws.WelcomeMessage, &ws.ReturningMessage, &origins, &paths); err != nil {
		return nil, fmt.Errorf("scan widget settings: %w", err)
	}
	ws.AllowedOrigins = splitList(origins)
	ws.RestrictedPaths = splitList(paths)
	return &ws, nil
}

// UpdateWidgetSettings replaces the widget configuration.
func (s *SQLiteStore) UpdateWidgetSettings(ctx context.Context, ws *domain.WidgetSettings) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE widget_settings SET welcome_message = ?, returning_message = ?,
		       allowed_origins = ?, restricted_paths = ?
		WHERE id = 1`,
		ws.WelcomeMessage, ws.ReturningMessage,
		strings.Join(ws.AllowedOrigins, "\n"), strings.Join(ws.RestrictedPaths, "\n")); err != nil {
		return fmt.Errorf("update widget settings: %w", err)
	}
	return nil
}

// isSQLiteConflict reports SQLITE_BUSY / "database is locked" errors,
// the concurrency failures that warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func checkAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Session tags persist as a comma-joined string.
func joinTags(tags []string) string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
