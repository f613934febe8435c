package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for bills, conversations, and
// chat messages.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "billchat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Bills ---

const billColumns = `bill_id, number, title, description, url, status, status_date,
	last_action, last_action_date, change_hash, doc, tags, version`

func scanBill(row interface{ Scan(...any) error }) (Bill, error) {
	var b Bill
	var doc, tags sql.NullString
	err := row.Scan(&b.BillID, &b.Number, &b.Title, &b.Description, &b.URL,
		&b.Status, &b.StatusDate, &b.LastAction, &b.LastActionDate,
		&b.ChangeHash, &doc, &tags, &b.Version)
	if err != nil {
		return Bill{}, err
	}
	b.Doc = doc.String
	b.Tags = tags.String
	return b, nil
}

// CountBills reports how many bills are cached. Zero means the catalog has
// never been populated.
func (s *Store) CountBills() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM bills").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListBills returns every cached bill ordered by bill_id ascending.
func (s *Store) ListBills() ([]Bill, error) {
	return s.queryBills("SELECT " + billColumns + " FROM bills ORDER BY bill_id ASC")
}

// ListUntaggedBills returns bills the tagging pipeline has not annotated yet,
// ordered by bill_id ascending.
func (s *Store) ListUntaggedBills() ([]Bill, error) {
	return s.queryBills("SELECT " + billColumns + " FROM bills WHERE tags IS NULL ORDER BY bill_id ASC")
}

func (s *Store) queryBills(query string) ([]Bill, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bill row: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// GetBill returns one bill by its external id.
func (s *Store) GetBill(billID int64) (Bill, error) {
	row := s.db.QueryRow("SELECT "+billColumns+" FROM bills WHERE bill_id = ?", billID)
	b, err := scanBill(row)
	if err == sql.ErrNoRows {
		return Bill{}, ErrNotFound
	}
	if err != nil {
		return Bill{}, err
	}
	return b, nil
}

// ReplaceBills atomically swaps the entire catalog for the given set. Readers
// never observe a partially populated catalog: the delete and all inserts
// commit together or not at all.
func (s *Store) ReplaceBills(bills []Bill) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning refill transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM bills"); err != nil {
		return fmt.Errorf("clearing bills: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO bills (bill_id, number, title, description, url,
		status, status_date, last_action, last_action_date, change_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing bill insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bills {
		if _, err := stmt.Exec(b.BillID, b.Number, b.Title, b.Description, b.URL,
			b.Status, b.StatusDate, b.LastAction, b.LastActionDate, b.ChangeHash); err != nil {
			return fmt.Errorf("inserting bill %d: %w", b.BillID, err)
		}
	}

	return tx.Commit()
}

// UpdateBillDoc writes the encoded bill document, guarded by a
// compare-and-swap on version. Returns ErrConflict when the row's version
// moved, ErrNotFound when the bill does not exist.
func (s *Store) UpdateBillDoc(billID int64, doc string, version int64) error {
	return s.casUpdate(billID, version, "doc", doc)
}

// UpdateBillTags writes the canonical tag JSON, guarded the same way.
func (s *Store) UpdateBillTags(billID int64, tags string, version int64) error {
	return s.casUpdate(billID, version, "tags", tags)
}

func (s *Store) casUpdate(billID, version int64, column, value string) error {
	res, err := s.db.Exec(
		"UPDATE bills SET "+column+" = ?, version = version + 1 WHERE bill_id = ? AND version = ?",
		value, billID, version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM bills WHERE bill_id = ?", billID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// --- Conversations & messages ---

// SeedConversation starts the (user, bill) conversation with the greeting
// message if, and only if, it has never been started. The conversations
// marker row makes this at-most-once even under concurrent first reads: the
// INSERT OR IGNORE decides a single winner and only the winner writes the
// greeting.
func (s *Store) SeedConversation(userID string, billID int64, greeting string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(`INSERT OR IGNORE INTO conversations (user_id, bill_id, created_at) VALUES (?, ?, ?)`,
		userID, billID, now)
	if err != nil {
		return fmt.Errorf("inserting conversation marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Conversation already started; nothing to seed.
		return nil
	}

	if _, err := tx.Exec(`INSERT INTO messages (id, user_id, bill_id, role, text, seq, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		uuid.NewString(), userID, billID, RoleBot, greeting, now); err != nil {
		return fmt.Errorf("inserting greeting: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns the conversation for (user, bill) in creation order.
func (s *Store) ListMessages(userID string, billID int64) ([]ChatMessage, error) {
	rows, err := s.db.Query(`SELECT id, user_id, bill_id, role, text, seq, created_at
		FROM messages WHERE user_id = ? AND bill_id = ? ORDER BY seq ASC`,
		userID, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.UserID, &m.BillID, &m.Role, &m.Text, &m.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// AppendExchange appends a user message and its bot reply as one transaction
// with consecutive seq values. Either both messages land or neither does, so
// a failed reply write cannot orphan the user message.
func (s *Store) AppendExchange(userID string, billID int64, userText, botText string) ([]ChatMessage, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning exchange transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	// Mark the conversation started in case the caller skipped the seeding
	// read; the greeting is only ever written by SeedConversation.
	if _, err := tx.Exec(`INSERT OR IGNORE INTO conversations (user_id, bill_id, created_at) VALUES (?, ?, ?)`,
		userID, billID, nowStr); err != nil {
		return nil, fmt.Errorf("inserting conversation marker: %w", err)
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM messages WHERE user_id = ? AND bill_id = ?`,
		userID, billID).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("reading max seq: %w", err)
	}

	pair := []ChatMessage{
		{ID: uuid.NewString(), UserID: userID, BillID: billID, Role: RoleUser, Text: userText, Seq: maxSeq.Int64 + 1, CreatedAt: now},
		{ID: uuid.NewString(), UserID: userID, BillID: billID, Role: RoleBot, Text: botText, Seq: maxSeq.Int64 + 2, CreatedAt: now},
	}
	for _, m := range pair {
		if _, err := tx.Exec(`INSERT INTO messages (id, user_id, bill_id, role, text, seq, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.UserID, m.BillID, m.Role, m.Text, m.Seq, nowStr); err != nil {
			return nil, fmt.Errorf("inserting %s message: %w", m.Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing exchange: %w", err)
	}
	return pair, nil
}
