// Package enrollment enforces the enrollment rules: a student is enrolled in
// a course at most once, and a course never holds more students than its
// capacity.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sms-server-go/db"
	"sms-server-go/logger"
	"sms-server-go/models"
)

// Kind identifies which rule rejected an enrollment.
type Kind string

const (
	KindDuplicate       Kind = "duplicate_enrollment"
	KindCourseNotFound  Kind = "course_not_found"
	KindCapacity        Kind = "capacity_exceeded"
	KindStudentNotFound Kind = "student_not_found"
)

// RuleError is a business rule violation. Its message is safe to show to
// clients.
type RuleError struct {
	Kind    Kind
	Message string
}

func (e *RuleError) Error() string {
	return e.Message
}

var (
	ErrDuplicateEnrollment = &RuleError{Kind: KindDuplicate, Message: "Student already enrolled in this course"}
	ErrCourseNotFound      = &RuleError{Kind: KindCourseNotFound, Message: "Course not found"}
	ErrCapacityExceeded    = &RuleError{Kind: KindCapacity, Message: "Course capacity reached"}
	ErrStudentNotFound     = &RuleError{Kind: KindStudentNotFound, Message: "Student not found"}
)

// ErrCourseBusy is returned when the course lock could not be taken in time.
var ErrCourseBusy = errors.New("course is busy, try again")

// IsRuleViolation reports whether err is one of the rule errors above.
func IsRuleViolation(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// DefaultLockWait bounds how long Enroll waits for the course lock.
const DefaultLockWait = 5 * time.Second

// Engine validates and commits enrollments.
type Engine struct {
	locker   db.Locker
	lockWait time.Duration
}

// NewEngine creates an Engine. A nil locker means enrollments are only
// guarded by the store's transaction.
func NewEngine(locker db.Locker, lockWait time.Duration) *Engine {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Engine{locker: locker, lockWait: lockWait}
}

// Enroll enrolls the student in the course. Checks run in order: duplicate,
// course existence, capacity. The checks and the insert share one
// transaction, so a failure leaves no row behind.
func (e *Engine) Enroll(ctx context.Context, sess *db.Session, studentID, courseID int64) (*models.Enrollment, error) {
	if e.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, e.lockWait)
		unlock, err := e.locker.Lock(lockCtx, db.CourseLockKey(courseID))
		cancel()
		if err != nil {
			logger.LogWarn("Course lock not acquired", "course_id", courseID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrCourseBusy, err)
		}
		defer unlock()
	}

	var created *models.Enrollment
	err := sess.RunInTx(ctx, func(ctx context.Context, tx *db.Session) error {
		exists, err := tx.EnrollmentExists(ctx, studentID, courseID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEnrollment
		}

		course, err := tx.GetCourseForEnrollment(ctx, courseID)
		if err != nil {
			return err
		}
		if course == nil {
			return ErrCourseNotFound
		}

		taken, err := tx.CountEnrollments(ctx, courseID)
		if err != nil {
			return err
		}
		if taken >= course.Capacity {
			return ErrCapacityExceeded
		}

		created, err = tx.InsertEnrollment(ctx, studentID, courseID)
		switch {
		case errors.Is(err, db.ErrUniqueViolation):
			return ErrDuplicateEnrollment
		case errors.Is(err, db.ErrForeignKeyViolation):
			return ErrStudentNotFound
		}
		return err
	})
	if err != nil {
		if IsRuleViolation(err) {
			logger.LogInfo("Enrollment rejected", "student_id", studentID, "course_id", courseID, "reason", err.Error())
			return nil, err
		}
		return nil, fmt.Errorf("failed to enroll student %d in course %d: %w", studentID, courseID, err)
	}

	logger.LogInfo("Student enrolled", "enrollment_id", created.ID, "student_id", studentID, "course_id", courseID)
	return created, nil
}
