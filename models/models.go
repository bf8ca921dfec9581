package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Name is the name block shared by students and teachers.
type Name struct {
	FirstName string `json:"first_name" bun:"first_name,notnull"`
	LastName  string `json:"last_name" bun:"last_name,notnull"`
}

// FullName joins first and last name.
func (n Name) FullName() string {
	return n.FirstName + " " + n.LastName
}

// Student represents a student
type Student struct {
	bun.BaseModel `json:"-" bun:"table:students,alias:student"`

	ID int64 `json:"id" bun:"id,pk,autoincrement"`
	Name
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull"`
}

// Teacher represents a teacher
type Teacher struct {
	bun.BaseModel `json:"-" bun:"table:teachers,alias:teacher"`

	ID int64 `json:"id" bun:"id,pk,autoincrement"`
	Name
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull"`
}

// DefaultCourseCapacity is used when a course is created without a capacity.
const DefaultCourseCapacity = 30

// Course represents a course, optionally taught by a teacher
type Course struct {
	bun.BaseModel `json:"-" bun:"table:courses,alias:course"`

	ID        int64  `json:"id" bun:"id,pk,autoincrement"`
	Title     string `json:"title" bun:"title,notnull"`
	Capacity  int    `json:"capacity" bun:"capacity,notnull"`
	TeacherID *int64 `json:"teacher_id" bun:"teacher_id"`
}

// Enrollment is a committed (student, course) pairing
type Enrollment struct {
	bun.BaseModel `json:"-" bun:"table:enrollments,alias:enrollment"`

	ID        int64     `json:"id" bun:"id,pk,autoincrement"`
	StudentID int64     `json:"student_id" bun:"student_id,notnull"`
	CourseID  int64     `json:"course_id" bun:"course_id,notnull"`
	CreatedAt time.Time `json:"created_at" bun:"created_at,notnull"`
}

// Listing sources.
const (
	SourceBooks  = "books"
	SourceQuotes = "quotes"
)

// ImportedListing is a scraped book or quote stored for later use
type ImportedListing struct {
	bun.BaseModel `json:"-" bun:"table:scraped_resources,alias:listing"`

	ID               int64     `json:"id" bun:"id,pk,autoincrement"`
	Source           string    `json:"source" bun:"source,notnull"`
	Title            string    `json:"title" bun:"title,notnull"`
	URL              string    `json:"url" bun:"url,notnull"`
	CategoryOrAuthor string    `json:"category_or_author" bun:"category_or_author,notnull"`
	Price            *string   `json:"price" bun:"price"`
	CreatedAt        time.Time `json:"created_at" bun:"created_at,notnull"`
}

// --- Create payloads ---

// PersonInput is the create payload for students and teachers.
type PersonInput struct {
	FirstName string `json:"first_name" binding:"required,max=100"`
	LastName  string `json:"last_name" binding:"required,max=100"`
}

// CourseInput is the create payload for courses. A nil Capacity means
// DefaultCourseCapacity.
type CourseInput struct {
	Title     string `json:"title" binding:"required,max=200"`
	Capacity  *int   `json:"capacity" binding:"omitempty,min=0"`
	TeacherID *int64 `json:"teacher_id"`
}

// EnrollmentInput is the create payload for enrollments.
type EnrollmentInput struct {
	StudentID int64 `json:"student_id" binding:"required"`
	CourseID  int64 `json:"course_id" binding:"required"`
}

// ListingInput is one scraped record, the common shape produced by the
// scraper and accepted by the bulk import endpoint.
type ListingInput struct {
	Source           string  `json:"source"`
	Title            string  `json:"title"`
	URL              string  `json:"url"`
	CategoryOrAuthor string  `json:"category_or_author"`
	Price            *string `json:"price"`
}

// ListingImport is one element of the bulk import payload. The string
// fields are pointers so a missing key is rejected while "" is accepted.
type ListingImport struct {
	Source           *string `json:"source" binding:"required,max=50"`
	Title            *string `json:"title" binding:"required,max=300"`
	URL              *string `json:"url" binding:"required,max=500"`
	CategoryOrAuthor *string `json:"category_or_author" binding:"required,max=200"`
	Price            *string `json:"price" binding:"omitempty,max=50"`
}

// Listing converts a validated payload element into a ListingInput.
func (l ListingImport) Listing() ListingInput {
	return ListingInput{
		Source:           deref(l.Source),
		Title:            deref(l.Title),
		URL:              deref(l.URL),
		CategoryOrAuthor: deref(l.CategoryOrAuthor),
		Price:            l.Price,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
