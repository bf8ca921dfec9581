package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"sms-server-go/models"
)

// listingBatch bounds the rows sent in one INSERT statement.
const listingBatch = 200

// Session is a unit of database work bound to a single connection or
// transaction.
type Session struct {
	idb     bun.IDB
	dialect Dialect
	inTx    bool

	once    sync.Once
	release func() error
}

// Release returns the connection to the pool. Safe to call more than once.
func (s *Session) Release() error {
	var err error
	s.once.Do(func() {
		if s.release != nil {
			err = s.release()
		}
	})
	return err
}

// Dialect reports the SQL flavour in use.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// RunInTx runs fn inside a transaction. fn receives a Session bound to the
// transaction; any error rolls back every write fn made. Nested calls reuse
// the outer transaction.
func (s *Session) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Session) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.idb.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Session{idb: tx, dialect: s.dialect, inTx: true})
	})
}

// Ping runs a trivial query on the session's connection.
func (s *Session) Ping(ctx context.Context) error {
	var n int
	if err := s.idb.QueryRowContext(ctx, "SELECT 1").Scan(&n); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func getByID[T any](ctx context.Context, idb bun.IDB, id int64) (*T, error) {
	row := new(T)
	err := idb.NewSelect().Model(row).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func list[T any](ctx context.Context, idb bun.IDB, skip, limit int) ([]T, error) {
	rows := make([]T, 0)
	if limit <= 0 {
		return rows, nil
	}
	if skip < 0 {
		skip = 0
	}
	err := idb.NewSelect().Model(&rows).OrderExpr("id ASC").Offset(skip).Limit(limit).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func deleteByID[T any](ctx context.Context, idb bun.IDB, id int64) (bool, error) {
	res, err := idb.NewDelete().Model((*T)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Students

func (s *Session) CreateStudent(ctx context.Context, in models.PersonInput) (*models.Student, error) {
	student := &models.Student{
		Name:      models.Name{FirstName: in.FirstName, LastName: in.LastName},
		CreatedAt: now(),
	}
	if _, err := s.idb.NewInsert().Model(student).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create student: %w", classify(err))
	}
	return student, nil
}

// CreateStudents inserts all rows in one transaction.
func (s *Session) CreateStudents(ctx context.Context, in []models.PersonInput) ([]models.Student, error) {
	students := make([]models.Student, 0, len(in))
	if len(in) == 0 {
		return students, nil
	}
	created := now()
	for _, p := range in {
		students = append(students, models.Student{
			Name:      models.Name{FirstName: p.FirstName, LastName: p.LastName},
			CreatedAt: created,
		})
	}
	err := s.RunInTx(ctx, func(ctx context.Context, tx *Session) error {
		for i := range students {
			if _, err := tx.idb.NewInsert().Model(&students[i]).Exec(ctx); err != nil {
				return classify(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create students: %w", err)
	}
	return students, nil
}

// GetStudent returns nil when no student has the given id.
func (s *Session) GetStudent(ctx context.Context, id int64) (*models.Student, error) {
	student, err := getByID[models.Student](ctx, s.idb, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get student %d: %w", id, err)
	}
	return student, nil
}

func (s *Session) ListStudents(ctx context.Context, skip, limit int) ([]models.Student, error) {
	students, err := list[models.Student](ctx, s.idb, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	return students, nil
}

// DeleteStudent removes the student and, by cascade, their enrollments.
func (s *Session) DeleteStudent(ctx context.Context, id int64) (bool, error) {
	ok, err := deleteByID[models.Student](ctx, s.idb, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete student %d: %w", id, err)
	}
	return ok, nil
}

// Teachers

func (s *Session) CreateTeacher(ctx context.Context, in models.PersonInput) (*models.Teacher, error) {
	teacher := &models.Teacher{
		Name:      models.Name{FirstName: in.FirstName, LastName: in.LastName},
		CreatedAt: now(),
	}
	if _, err := s.idb.NewInsert().Model(teacher).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create teacher: %w", classify(err))
	}
	return teacher, nil
}

func (s *Session) GetTeacher(ctx context.Context, id int64) (*models.Teacher, error) {
	teacher, err := getByID[models.Teacher](ctx, s.idb, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get teacher %d: %w", id, err)
	}
	return teacher, nil
}

func (s *Session) ListTeachers(ctx context.Context, skip, limit int) ([]models.Teacher, error) {
	teachers, err := list[models.Teacher](ctx, s.idb, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list teachers: %w", err)
	}
	return teachers, nil
}

// DeleteTeacher removes the teacher together with their courses and those
// courses' enrollments.
func (s *Session) DeleteTeacher(ctx context.Context, id int64) (bool, error) {
	ok, err := deleteByID[models.Teacher](ctx, s.idb, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete teacher %d: %w", id, err)
	}
	return ok, nil
}

// Courses

// CreateCourse applies models.DefaultCourseCapacity when no capacity is given.
// A duplicate title yields ErrUniqueViolation, an unknown teacher
// ErrForeignKeyViolation.
func (s *Session) CreateCourse(ctx context.Context, in models.CourseInput) (*models.Course, error) {
	capacity := models.DefaultCourseCapacity
	if in.Capacity != nil {
		capacity = *in.Capacity
	}
	course := &models.Course{
		Title:     in.Title,
		Capacity:  capacity,
		TeacherID: in.TeacherID,
	}
	if _, err := s.idb.NewInsert().Model(course).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create course: %w", classify(err))
	}
	return course, nil
}

func (s *Session) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	course, err := getByID[models.Course](ctx, s.idb, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get course %d: %w", id, err)
	}
	return course, nil
}

// GetCourseForEnrollment reads the course and, on postgres, locks its row
// until the surrounding transaction ends.
func (s *Session) GetCourseForEnrollment(ctx context.Context, id int64) (*models.Course, error) {
	course := new(models.Course)
	q := s.idb.NewSelect().Model(course).Where("id = ?", id)
	if s.dialect == DialectPostgres {
		q = q.For("UPDATE")
	}
	err := q.Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock course %d: %w", id, err)
	}
	return course, nil
}

func (s *Session) ListCourses(ctx context.Context, skip, limit int) ([]models.Course, error) {
	courses, err := list[models.Course](ctx, s.idb, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

// DeleteCourse removes the course and its enrollments.
func (s *Session) DeleteCourse(ctx context.Context, id int64) (bool, error) {
	ok, err := deleteByID[models.Course](ctx, s.idb, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete course %d: %w", id, err)
	}
	return ok, nil
}

// Enrollments

// InsertEnrollment writes the row as is; rule checks belong to the caller.
func (s *Session) InsertEnrollment(ctx context.Context, studentID, courseID int64) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{
		StudentID: studentID,
		CourseID:  courseID,
		CreatedAt: now(),
	}
	if _, err := s.idb.NewInsert().Model(enrollment).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", classify(err))
	}
	return enrollment, nil
}

func (s *Session) GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error) {
	enrollment, err := getByID[models.Enrollment](ctx, s.idb, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment %d: %w", id, err)
	}
	return enrollment, nil
}

func (s *Session) ListEnrollments(ctx context.Context, skip, limit int) ([]models.Enrollment, error) {
	enrollments, err := list[models.Enrollment](ctx, s.idb, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

func (s *Session) DeleteEnrollment(ctx context.Context, id int64) (bool, error) {
	ok, err := deleteByID[models.Enrollment](ctx, s.idb, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete enrollment %d: %w", id, err)
	}
	return ok, nil
}

// CountEnrollments returns how many students are enrolled in the course.
func (s *Session) CountEnrollments(ctx context.Context, courseID int64) (int, error) {
	n, err := s.idb.NewSelect().
		Model((*models.Enrollment)(nil)).
		Where("course_id = ?", courseID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count enrollments for course %d: %w", courseID, err)
	}
	return n, nil
}

// EnrollmentExists reports whether the pair is already enrolled.
func (s *Session) EnrollmentExists(ctx context.Context, studentID, courseID int64) (bool, error) {
	n, err := s.idb.NewSelect().
		Model((*models.Enrollment)(nil)).
		Where("student_id = ?", studentID).
		Where("course_id = ?", courseID).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return n > 0, nil
}

// Imported listings

// InsertListings stores the rows in one transaction and returns how many
// were written. Rows are stored as given; no deduplication.
func (s *Session) InsertListings(ctx context.Context, in []models.ListingInput) (int, error) {
	if len(in) == 0 {
		return 0, nil
	}
	created := now()
	rows := make([]models.ImportedListing, 0, len(in))
	for _, l := range in {
		rows = append(rows, models.ImportedListing{
			Source:           l.Source,
			Title:            l.Title,
			URL:              l.URL,
			CategoryOrAuthor: l.CategoryOrAuthor,
			Price:            l.Price,
			CreatedAt:        created,
		})
	}

	err := s.RunInTx(ctx, func(ctx context.Context, tx *Session) error {
		for start := 0; start < len(rows); start += listingBatch {
			end := min(start+listingBatch, len(rows))
			batch := rows[start:end]
			if _, err := tx.idb.NewInsert().Model(&batch).Exec(ctx); err != nil {
				return classify(err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert listings: %w", err)
	}
	return len(rows), nil
}

func (s *Session) GetListing(ctx context.Context, id int64) (*models.ImportedListing, error) {
	listing, err := getByID[models.ImportedListing](ctx, s.idb, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get listing %d: %w", id, err)
	}
	return listing, nil
}

func (s *Session) ListListings(ctx context.Context, skip, limit int) ([]models.ImportedListing, error) {
	listings, err := list[models.ImportedListing](ctx, s.idb, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, nil
}

func (s *Session) DeleteListing(ctx context.Context, id int64) (bool, error) {
	ok, err := deleteByID[models.ImportedListing](ctx, s.idb, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete listing %d: %w", id, err)
	}
	return ok, nil
}
