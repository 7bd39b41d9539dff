package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deptportal/internal/apperr"
	"deptportal/internal/student"
)

// ErrAccountNotFound is returned when no account has the given email.
var ErrAccountNotFound = errors.New("account not found")

// Account is a sign-in identity.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile links an account to a role and, for students, a roll number.
type Profile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	RollNumber string `json:"rollNumber,omitempty"`
}

// RosterEntry is one row of the verified allow-list.
type RosterEntry struct {
	RollNumber string
	Name       string
	Year       string
}

// Directory stores accounts, profiles and the verified roster.
type Directory interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
	Profile(ctx context.Context, userID string) (Profile, error)
	Eligible(ctx context.Context, e RosterEntry) (bool, error)
	// Register creates the account, a student profile and the pending student record together.
	// Nothing is left behind when any part fails.
	Register(ctx context.Context, acct Account, rec student.Record) (student.Record, error)
	CreateAdmin(ctx context.Context, acct Account) error
	// AddRosterEntries adds entries to the verified roster, skipping ones already present,
	// and returns how many were new.
	AddRosterEntries(ctx context.Context, entries []RosterEntry) (int, error)
}

func normalizeEntry(e RosterEntry) RosterEntry {
	return RosterEntry{
		RollNumber: student.NormalizeRoll(e.RollNumber),
		Name:       strings.TrimSpace(e.Name),
		Year:       strings.TrimSpace(e.Year),
	}
}

// PostgresDirectory is the Directory over the users, user_profiles and verified_students tables.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// AccountByEmail looks an account up by email.
func (d *PostgresDirectory) AccountByEmail(ctx context.Context, email string) (Account, error) {
	var a Account
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		student.NormalizeEmail(email),
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, apperr.Unavailable(err)
	}
	return a, nil
}

// Profile returns the profile row of a user.
func (d *PostgresDirectory) Profile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	var roll sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, email, role, roll_number FROM user_profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.Email, &p.Role, &roll)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, apperr.Unavailable(err)
	}
	p.RollNumber = roll.String
	return p, nil
}

// Eligible reports whether the triple is on the verified roster.
func (d *PostgresDirectory) Eligible(ctx context.Context, e RosterEntry) (bool, error) {
	e = normalizeEntry(e)
	var ok bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM verified_students
			WHERE upper(trim(roll_number)) = $1 AND trim(name) = $2 AND trim(year) = $3
		)`, e.RollNumber, e.Name, e.Year).Scan(&ok)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	return ok, nil
}

// Register runs the three inserts in one transaction.
func (d *PostgresDirectory) Register(ctx context.Context, acct Account, rec student.Record) (student.Record, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return student.Record{}, apperr.Unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAccount(ctx, tx, acct); err != nil {
		return student.Record{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_profiles (id, email, role, roll_number) VALUES ($1, $2, $3, $4)`,
		acct.ID, acct.Email, RoleStudent, rec.RollNumber,
	); err != nil {
		return student.Record{}, insertErr(err)
	}
	out, err := student.InsertWith(ctx, tx, rec)
	if err != nil {
		return student.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return student.Record{}, apperr.Unavailable(err)
	}
	return out, nil
}

// CreateAdmin creates an account with an admin profile.
func (d *PostgresDirectory) CreateAdmin(ctx context.Context, acct Account) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertAccount(ctx, tx, acct); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_profiles (id, email, role) VALUES ($1, $2, $3)`,
		acct.ID, acct.Email, RoleAdmin,
	); err != nil {
		return insertErr(err)
	}
	return apperr.Unavailable(tx.Commit())
}

// AddRosterEntries inserts the entries in one transaction.
func (d *PostgresDirectory) AddRosterEntries(ctx context.Context, entries []RosterEntry) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, e := range entries {
		e = normalizeEntry(e)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO verified_students (roll_number, name, year) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			e.RollNumber, e.Name, e.Year)
		if err != nil {
			return 0, apperr.Unavailable(err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Unavailable(err)
	}
	return added, nil
}

func insertAccount(ctx context.Context, tx *sql.Tx, acct Account) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		acct.ID, acct.Email, acct.PasswordHash, acct.CreatedAt,
	)
	return insertErr(err)
}

func insertErr(err error) error {
	if err == nil {
		return nil
	}
	if student.IsUniqueViolation(err) {
		return fmt.Errorf("%w: email already registered", student.ErrDuplicateKey)
	}
	return apperr.Unavailable(err)
}

// MemoryDirectory keeps accounts and the roster in memory. It shares the student
// repository so registration can check and insert under one lock.
type MemoryDirectory struct {
	mu       sync.Mutex
	students *student.MemoryRepository
	accounts map[string]Account
	profiles map[string]Profile
	roster   map[RosterEntry]struct{}
}

// NewMemoryDirectory creates a directory over repo.
func NewMemoryDirectory(repo *student.MemoryRepository) *MemoryDirectory {
	return &MemoryDirectory{
		students: repo,
		accounts: make(map[string]Account),
		profiles: make(map[string]Profile),
		roster:   make(map[RosterEntry]struct{}),
	}
}

// AddRosterEntry seeds the verified allow-list.
func (d *MemoryDirectory) AddRosterEntry(e RosterEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roster[normalizeEntry(e)] = struct{}{}
}

// AddRosterEntries seeds several entries at once.
func (d *MemoryDirectory) AddRosterEntries(_ context.Context, entries []RosterEntry) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	added := 0
	for _, e := range entries {
		key := normalizeEntry(e)
		if _, ok := d.roster[key]; ok {
			continue
		}
		d.roster[key] = struct{}{}
		added++
	}
	return added, nil
}

// PutProfile writes a profile row directly.
func (d *MemoryDirectory) PutProfile(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// DeleteProfile removes a profile row, leaving its account.
func (d *MemoryDirectory) DeleteProfile(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, userID)
}

// Accounts returns the number of stored accounts.
func (d *MemoryDirectory) Accounts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.accounts)
}

// AccountByEmail looks an account up by email.
func (d *MemoryDirectory) AccountByEmail(_ context.Context, email string) (Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.accounts[student.NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

// Profile returns a profile by user id.
func (d *MemoryDirectory) Profile(_ context.Context, userID string) (Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// Eligible reports roster membership.
func (d *MemoryDirectory) Eligible(_ context.Context, e RosterEntry) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.roster[normalizeEntry(e)]
	return ok, nil
}

// Register checks every uniqueness rule before writing anything.
func (d *MemoryDirectory) Register(ctx context.Context, acct Account, rec student.Record) (student.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[acct.Email]; ok {
		return student.Record{}, fmt.Errorf("%w: email already registered", student.ErrDuplicateKey)
	}
	if err := d.students.CheckUnique(rec.RollNumber, rec.Email); err != nil {
		return student.Record{}, err
	}
	out, err := d.students.Insert(ctx, rec)
	if err != nil {
		return student.Record{}, err
	}
	d.accounts[acct.Email] = acct
	d.profiles[acct.ID] = Profile{ID: acct.ID, Email: acct.Email, Role: RoleStudent, RollNumber: out.RollNumber}
	return out, nil
}

// CreateAdmin stores an admin account and profile.
func (d *MemoryDirectory) CreateAdmin(_ context.Context, acct Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[acct.Email]; ok {
		return fmt.Errorf("%w: email already registered", student.ErrDuplicateKey)
	}
	d.accounts[acct.Email] = acct
	d.profiles[acct.ID] = Profile{ID: acct.ID, Email: acct.Email, Role: RoleAdmin}
	return nil
}
