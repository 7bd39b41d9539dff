package student

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"deptportal/internal/apperr"
)

// Repository is the persistence contract for student records, keyed by roll number.
type Repository interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, roll string) (Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, roll string, patch Patch, now time.Time) (Record, error)
	Delete(ctx context.Context, roll string) error
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRepository persists student records in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, roll_number, name, email, phone, year, section, semester, cgpa, attendance, status,
	address, parent_name, parent_phone, emergency_contact, date_of_birth, blood_group, category,
	admission_date, hostel_details, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var r Record
	err := s.Scan(&r.ID, &r.RollNumber, &r.Name, &r.Email, &r.Phone, &r.Year, &r.Section, &r.Semester,
		&r.CGPA, &r.Attendance, &r.Status, &r.Address, &r.ParentName, &r.ParentPhone, &r.EmergencyContact,
		&r.DateOfBirth, &r.BloodGroup, &r.Category, &r.AdmissionDate, &r.HostelDetails, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// List returns every record, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM students ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, apperr.Unavailable(rows.Err())
}

// Get returns a single record by roll number.
func (r *PostgresRepository) Get(ctx context.Context, roll string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM students WHERE roll_number = $1`, NormalizeRoll(roll))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, apperr.Unavailable(err)
	}
	return rec, nil
}

// Insert writes a new record.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	return InsertWith(ctx, r.db, rec)
}

// InsertWith writes rec through q, which lets callers enlist the insert in their transaction.
func InsertWith(ctx context.Context, q Querier, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt

	row := q.QueryRowContext(ctx, `
		INSERT INTO students (id, roll_number, name, email, phone, year, section, semester, cgpa, attendance, status,
			address, parent_name, parent_phone, emergency_contact, date_of_birth, blood_group, category,
			admission_date, hostel_details, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING `+selectColumns,
		rec.ID, rec.RollNumber, rec.Name, rec.Email, rec.Phone, rec.Year, rec.Section, rec.Semester, rec.CGPA,
		rec.Attendance, rec.Status, rec.Address, rec.ParentName, rec.ParentPhone, rec.EmergencyContact,
		rec.DateOfBirth, rec.BloodGroup, rec.Category, rec.AdmissionDate, rec.HostelDetails, rec.CreatedAt, rec.UpdatedAt)
	out, err := scanRecord(row)
	if err != nil {
		return Record{}, classify(err)
	}
	return out, nil
}

// Update applies a partial patch and stamps updated_at.
func (r *PostgresRepository) Update(ctx context.Context, roll string, patch Patch, now time.Time) (Record, error) {
	query, args := updateStatement(roll, patch, now)
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, classify(err)
	}
	return rec, nil
}

// updateStatement builds the UPDATE for the set fields of patch. $1 is the roll number.
func updateStatement(roll string, patch Patch, now time.Time) (string, []any) {
	cols := patch.columns()
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	args = append(args, NormalizeRoll(roll))
	for _, c := range cols {
		args = append(args, c.value)
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))
	return `UPDATE students SET ` + strings.Join(sets, ", ") + ` WHERE roll_number = $1 RETURNING ` + selectColumns, args
}

// Delete removes a record permanently.
func (r *PostgresRepository) Delete(ctx context.Context, roll string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE roll_number = $1`, NormalizeRoll(roll))
	if err != nil {
		return apperr.Unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// classify maps driver errors onto the package's error kinds.
func classify(err error) error {
	if IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, constraintOf(err))
	}
	return apperr.Unavailable(err)
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
