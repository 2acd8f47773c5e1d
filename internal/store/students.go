package store

import (
	"context"
	"time"
)

// Student is one registered academy student.
type Student struct {
	SNo         int64
	Name        string
	FatherName  string
	DOB         time.Time
	Class       string
	AcademyJoin time.Time
	Contact     string
	PaymentID   string
	OrderID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const studentColumns = `sno, name, father_name, dob, class, academy_join, contact, payment_id, order_id, created_at, updated_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := row.Scan(&s.SNo, &s.Name, &s.FatherName, &s.DOB, &s.Class, &s.AcademyJoin, &s.Contact, &s.PaymentID, &s.OrderID, &s.CreatedAt, &s.UpdatedAt)
	return s, mapErr(err)
}

// CreateStudentParams holds a validated registration.
type CreateStudentParams struct {
	Name        string
	FatherName  string
	DOB         time.Time
	Class       string
	AcademyJoin time.Time
	Contact     string
	PaymentID   string
	OrderID     string
}

// CreateStudent inserts a student; the serial number is assigned by the database.
// A second registration for the same payment id yields ErrConflict.
func (q *Queries) CreateStudent(ctx context.Context, arg CreateStudentParams) (Student, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO students (name, father_name, dob, class, academy_join, contact, payment_id, order_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+studentColumns,
		arg.Name, arg.FatherName, arg.DOB, arg.Class, arg.AcademyJoin, arg.Contact, arg.PaymentID, arg.OrderID)
	return scanStudent(row)
}

// GetStudent loads a student by serial number.
func (q *Queries) GetStudent(ctx context.Context, sno int64) (Student, error) {
	row := q.db.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE sno = $1`, sno)
	return scanStudent(row)
}

// ListStudentsParams filters and pages the student list. Search matches name, father name or contact.
type ListStudentsParams struct {
	Search string
	Limit  int32
	Offset int32
}

// ListStudents returns one page of students ordered by serial number.
func (q *Queries) ListStudents(ctx context.Context, arg ListStudentsParams) ([]Student, error) {
	rows, err := q.db.Query(ctx, `
SELECT `+studentColumns+` FROM students
WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR father_name ILIKE '%' || $1 || '%' OR contact LIKE '%' || $1 || '%'
ORDER BY sno
LIMIT $2 OFFSET $3`, arg.Search, arg.Limit, arg.Offset)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

// CountStudents counts the students matching search.
func (q *Queries) CountStudents(ctx context.Context, search string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
SELECT count(*) FROM students
WHERE $1 = '' OR name ILIKE '%' || $1 || '%' OR father_name ILIKE '%' || $1 || '%' OR contact LIKE '%' || $1 || '%'`, search).Scan(&n)
	return n, mapErr(err)
}

// UpdateStudentParams replaces the editable columns of a student.
type UpdateStudentParams struct {
	SNo         int64
	Name        string
	FatherName  string
	DOB         time.Time
	Class       string
	AcademyJoin time.Time
	Contact     string
}

// UpdateStudent rewrites the editable columns. Payment binding is immutable.
func (q *Queries) UpdateStudent(ctx context.Context, arg UpdateStudentParams) (Student, error) {
	row := q.db.QueryRow(ctx, `
UPDATE students
SET name = $2, father_name = $3, dob = $4, class = $5, academy_join = $6, contact = $7, updated_at = now()
WHERE sno = $1
RETURNING `+studentColumns,
		arg.SNo, arg.Name, arg.FatherName, arg.DOB, arg.Class, arg.AcademyJoin, arg.Contact)
	return scanStudent(row)
}

// DeleteStudent removes a student by serial number.
func (q *Queries) DeleteStudent(ctx context.Context, sno int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM students WHERE sno = $1`, sno)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
