/*
Package sqlite provides a SQLite-backed implementation of collection.TxStore.

PURPOSE:
  Durable storage for loans, their installment schedules, the payment
  ledger, agents and the assignment audit log. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  collection.TxStore:        every record plus WithTx
  collection.SnapshotReader: read-only transaction for analytics

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on ledger_entries
  - No UPDATE or DELETE statements on assignment_events
  - idempotency_key is UNIQUE; a duplicate maps to ErrDuplicateIdempotencyKey

KEY TABLES:
  loans:             loan terms and status
  installments:      the schedule; UNIQUE(loan_id, sequence)
  ledger_entries:    immutable payments
  agents:            collection agents
  assignment_events: audit of assign/unassign

STORAGE FORMATS:
  Money is INTEGER minor units. Rates are decimal TEXT. Due dates are
  YYYY-MM-DD TEXT. Timestamps are fixed-width UTC TEXT so that string
  comparison orders them correctly.

CONCURRENCY:
  WithTx holds a writer mutex so only one write transaction is open at a
  time; single-statement writes wait on busy_timeout. SQLITE_BUSY and
  SQLITE_LOCKED surface as collection.ErrTransient.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/collection.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := collection.NewEngine(store, clock)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/collection-engine/collection"
)

// timeLayout is fixed width so TEXT comparison matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements collection.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex // one write transaction at a time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_ref TEXT,
		principal INTEGER NOT NULL,
		annual_rate TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		start_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Installments: the single source of truth for dues
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		sequence INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		principal INTEGER NOT NULL,
		interest INTEGER NOT NULL,
		total_due INTEGER NOT NULL,
		amount_paid INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		assigned_agent TEXT,
		assigned_at TEXT,
		completed_at TEXT,
		UNIQUE(loan_id, sequence),
		CHECK (amount_paid >= 0 AND amount_paid <= total_due)
	);

	-- Agent worklists (hot path for the field app)
	CREATE INDEX IF NOT EXISTS idx_installments_agent
		ON installments(assigned_agent, due_date) WHERE assigned_agent IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_installments_due
		ON installments(due_date, loan_id, sequence);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		installment_id TEXT NOT NULL REFERENCES installments(id),
		loan_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		method TEXT NOT NULL,
		collected_at TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		override INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_installment
		ON ledger_entries(installment_id, seq);
	CREATE INDEX IF NOT EXISTS idx_ledger_collected_at
		ON ledger_entries(collected_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_agent_collected_at
		ON ledger_entries(agent_id, collected_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_loan_collected_at
		ON ledger_entries(loan_id, collected_at);

	-- Assignment audit (append-only)
	CREATE TABLE IF NOT EXISTS assignment_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		installment_id TEXT NOT NULL REFERENCES installments(id),
		loan_id TEXT NOT NULL,
		agent_id TEXT,
		previous_agent TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignment_events_installment
		ON assignment_events(installment_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store collection.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return mapError(sqlTx.Commit())
}

// ReadSnapshot serves fn from a single read transaction.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(store collection.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin read transaction: %w", err))
	}
	defer sqlTx.Rollback()

	return fn(&queries{q: sqlTx})
}

// Reset deletes every record. Used by demo seeding.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer sqlTx.Rollback()

	for _, table := range []string{"assignment_events", "ledger_entries", "installments", "agents", "loans"} {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return mapError(fmt.Errorf("reset %s: %w", table, err))
		}
	}
	return mapError(sqlTx.Commit())
}

// =============================================================================
// QUERIES - shared by the store and its transactions
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// --- Loans ---

const loanColumns = `id, borrower_ref, principal, annual_rate, installment_count, frequency, start_date, status, created_at, updated_at`

func (s *queries) SaveLoan(ctx context.Context, loan collection.Loan) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(loan.ID),
		nullString(loan.BorrowerRef),
		int64(loan.Principal),
		loan.AnnualRatePercent.String(),
		loan.InstallmentCount,
		string(loan.Frequency),
		loan.StartDate.String(),
		string(loan.Status),
		formatTime(loan.CreatedAt),
		formatTime(loan.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %s", collection.ErrDuplicateLoan, loan.ID)
	}
	return mapError(err)
}

func (s *queries) GetLoan(ctx context.Context, id collection.LoanID) (*collection.Loan, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, string(id))
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &loan, nil
}

func (s *queries) ListLoans(ctx context.Context) ([]collection.Loan, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var loans []collection.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, mapError(rows.Err())
}

func (s *queries) UpdateLoanStatus(ctx context.Context, id collection.LoanID, status collection.LoanStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE loans SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), string(id))
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("loan %s not found", id)
	}
	return nil
}

func scanLoan(row scanner) (collection.Loan, error) {
	var (
		loan                              collection.Loan
		id, frequency, status             string
		borrower                          sql.NullString
		principal                         int64
		rate, start, createdAt, updatedAt string
	)
	err := row.Scan(&id, &borrower, &principal, &rate, &loan.InstallmentCount,
		&frequency, &start, &status, &createdAt, &updatedAt)
	if err != nil {
		return loan, err
	}

	loan.ID = collection.LoanID(id)
	loan.BorrowerRef = borrower.String
	loan.Principal = collection.Money(principal)
	loan.Frequency = collection.Frequency(frequency)
	loan.Status = collection.LoanStatus(status)
	if loan.AnnualRatePercent, err = decimal.NewFromString(rate); err != nil {
		return loan, fmt.Errorf("loan %s: bad rate %q: %w", id, rate, err)
	}
	if loan.StartDate, err = collection.ParseDay(start); err != nil {
		return loan, fmt.Errorf("loan %s: %w", id, err)
	}
	loan.CreatedAt, _ = parseTime(createdAt)
	loan.UpdatedAt, _ = parseTime(updatedAt)
	return loan, nil
}

// --- Installments ---

const installmentColumns = `id, loan_id, sequence, due_date, principal, interest, total_due, amount_paid, status, assigned_agent, assigned_at, completed_at`

func (s *queries) InsertInstallments(ctx context.Context, insts []collection.Installment) error {
	for _, inst := range insts {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(inst.ID),
			string(inst.LoanID),
			inst.Sequence,
			inst.DueDate.String(),
			int64(inst.Principal),
			int64(inst.Interest),
			int64(inst.TotalDue),
			int64(inst.AmountPaid),
			string(inst.Status),
			nullString(string(inst.AssignedAgent)),
			nullTime(inst.AssignedAt),
			nullTime(inst.CompletedAt),
		)
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", collection.ErrDuplicateSchedule, inst.ID)
		}
		if err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *queries) LoadInstallments(ctx context.Context, loanID collection.LoanID) ([]collection.Installment, error) {
	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE loan_id = ? ORDER BY sequence
	`, string(loanID))
}

func (s *queries) GetInstallment(ctx context.Context, id collection.InstallmentID) (*collection.Installment, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, string(id))
	inst, err := scanInstallment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &inst, nil
}

func (s *queries) InstallmentsByAgent(ctx context.Context, agentID collection.AgentID) ([]collection.Installment, error) {
	if agentID == "" {
		return nil, nil
	}
	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE assigned_agent = ? ORDER BY due_date, loan_id, sequence
	`, string(agentID))
}

func (s *queries) AllInstallments(ctx context.Context) ([]collection.Installment, error) {
	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM installments
		ORDER BY due_date, loan_id, sequence
	`)
}

func (s *queries) UpdateInstallment(ctx context.Context, inst collection.Installment) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE installments
		SET amount_paid = ?, status = ?, assigned_agent = ?, assigned_at = ?, completed_at = ?
		WHERE id = ?
	`,
		int64(inst.AmountPaid),
		string(inst.Status),
		nullString(string(inst.AssignedAgent)),
		nullTime(inst.AssignedAt),
		nullTime(inst.CompletedAt),
		string(inst.ID),
	)
	if err != nil {
		return mapError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("installment %s not found", inst.ID)
	}
	return nil
}

func (s *queries) queryInstallments(ctx context.Context, query string, args ...any) ([]collection.Installment, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var insts []collection.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, mapError(rows.Err())
}

func scanInstallment(row scanner) (collection.Installment, error) {
	var (
		inst                                collection.Installment
		id, loanID, due, status             string
		principal, interest, totalDue, paid int64
		agent, assignedAt, completedAt      sql.NullString
	)
	err := row.Scan(&id, &loanID, &inst.Sequence, &due, &principal, &interest,
		&totalDue, &paid, &status, &agent, &assignedAt, &completedAt)
	if err != nil {
		return inst, err
	}

	inst.ID = collection.InstallmentID(id)
	inst.LoanID = collection.LoanID(loanID)
	inst.Principal = collection.Money(principal)
	inst.Interest = collection.Money(interest)
	inst.TotalDue = collection.Money(totalDue)
	inst.AmountPaid = collection.Money(paid)
	inst.Status = collection.InstallmentStatus(status)
	inst.AssignedAgent = collection.AgentID(agent.String)
	inst.AssignedAt = parseNullTime(assignedAt)
	inst.CompletedAt = parseNullTime(completedAt)
	if inst.DueDate, err = collection.ParseDay(due); err != nil {
		return inst, fmt.Errorf("installment %s: %w", id, err)
	}
	return inst, nil
}

// --- Ledger ---

const entryColumns = `id, installment_id, loan_id, agent_id, amount, method, collected_at, idempotency_key, override`

func (s *queries) AppendEntry(ctx context.Context, e collection.LedgerEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(e.ID),
		string(e.InstallmentID),
		string(e.LoanID),
		string(e.AgentID),
		int64(e.Amount),
		string(e.Method),
		formatTime(e.CollectedAt),
		nullString(e.IdempotencyKey),
		e.Override,
	)
	if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
		return fmt.Errorf("%w: %s", collection.ErrDuplicateIdempotencyKey, e.IdempotencyKey)
	}
	return mapError(err)
}

func (s *queries) EntryByIdempotencyKey(ctx context.Context, key string) (*collection.LedgerEntry, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE idempotency_key = ?`, key)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

func (s *queries) EntriesByInstallment(ctx context.Context, id collection.InstallmentID) ([]collection.LedgerEntry, error) {
	return s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE installment_id = ? ORDER BY seq
	`, string(id))
}

func (s *queries) QueryEntries(ctx context.Context, f collection.EntryFilter) ([]collection.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.LoanID != "" {
		where = append(where, "loan_id = ?")
		args = append(args, string(f.LoanID))
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, string(f.AgentID))
	}
	if f.From != nil {
		where = append(where, "collected_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "collected_at < ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY collected_at, seq`
	return s.queryEntries(ctx, query, args...)
}

func (s *queries) queryEntries(ctx context.Context, query string, args ...any) ([]collection.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []collection.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, mapError(rows.Err())
}

func scanEntry(row scanner) (collection.LedgerEntry, error) {
	var (
		e                                       collection.LedgerEntry
		id, instID, loanID, agentID, method, at string
		amount                                  int64
		key                                     sql.NullString
	)
	err := row.Scan(&id, &instID, &loanID, &agentID, &amount, &method, &at, &key, &e.Override)
	if err != nil {
		return e, err
	}

	e.ID = collection.EntryID(id)
	e.InstallmentID = collection.InstallmentID(instID)
	e.LoanID = collection.LoanID(loanID)
	e.AgentID = collection.AgentID(agentID)
	e.Amount = collection.Money(amount)
	e.Method = collection.PaymentMethod(method)
	e.IdempotencyKey = key.String
	if e.CollectedAt, err = parseTime(at); err != nil {
		return e, fmt.Errorf("entry %s: %w", id, err)
	}
	return e, nil
}

// --- Agents ---

func (s *queries) SaveAgent(ctx context.Context, a collection.Agent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO agents (id, name, active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active
	`, string(a.ID), a.Name, a.Active, formatTime(a.CreatedAt))
	return mapError(err)
}

func (s *queries) GetAgent(ctx context.Context, id collection.AgentID) (*collection.Agent, error) {
	row := s.q.QueryRowContext(ctx, `SELECT id, name, active, created_at FROM agents WHERE id = ?`, string(id))
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}

func (s *queries) ListAgents(ctx context.Context) ([]collection.Agent, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, active, created_at FROM agents ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var agents []collection.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, mapError(rows.Err())
}

func scanAgent(row scanner) (collection.Agent, error) {
	var (
		a             collection.Agent
		id, createdAt string
	)
	if err := row.Scan(&id, &a.Name, &a.Active, &createdAt); err != nil {
		return a, err
	}
	a.ID = collection.AgentID(id)
	a.CreatedAt, _ = parseTime(createdAt)
	return a, nil
}

// --- Assignment log ---

func (s *queries) AppendAssignment(ctx context.Context, ev collection.AssignmentEvent) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO assignment_events (installment_id, loan_id, agent_id, previous_agent, at)
		VALUES (?, ?, ?, ?, ?)
	`,
		string(ev.InstallmentID),
		string(ev.LoanID),
		nullString(string(ev.AgentID)),
		nullString(string(ev.PreviousAgent)),
		formatTime(ev.At),
	)
	return mapError(err)
}

func (s *queries) AssignmentHistory(ctx context.Context, id collection.InstallmentID) ([]collection.AssignmentEvent, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT installment_id, loan_id, agent_id, previous_agent, at
		FROM assignment_events WHERE installment_id = ? ORDER BY seq
	`, string(id))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []collection.AssignmentEvent
	for rows.Next() {
		var (
			ev              collection.AssignmentEvent
			instID, loanID  string
			agent, previous sql.NullString
			at              string
		)
		if err := rows.Scan(&instID, &loanID, &agent, &previous, &at); err != nil {
			return nil, err
		}
		ev.InstallmentID = collection.InstallmentID(instID)
		ev.LoanID = collection.LoanID(loanID)
		ev.AgentID = collection.AgentID(agent.String)
		ev.PreviousAgent = collection.AgentID(previous.String)
		ev.At, _ = parseTime(at)
		events = append(events, ev)
	}
	return events, mapError(rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// mapError marks lock contention, deadlines and cancellation as transient
// so the caller may retry the whole operation.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return collection.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return collection.Transient(err)
	}
	return err
}
