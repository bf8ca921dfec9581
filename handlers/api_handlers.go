package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"sms-server-go/db"
	"sms-server-go/enrollment"
	"sms-server-go/logger"
	"sms-server-go/models"
)

// APIHandler holds the dependencies for API handlers
type APIHandler struct {
	Engine *enrollment.Engine
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(engine *enrollment.Engine) *APIHandler {
	return &APIHandler{Engine: engine}
}

type pageQuery struct {
	Skip  int `form:"skip,default=0" binding:"min=0"`
	Limit int `form:"limit,default=100" binding:"min=0"`
}

func internalError(c *gin.Context, msg string, err error) {
	logger.LogError(msg, err, "path", c.Request.URL.Path, "request_id", c.GetString(requestIDKey))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
}

func notFound(c *gin.Context, resource string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": resource + " not found"})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Invalid id: " + c.Param("id")})
		return 0, false
	}
	return id, true
}

// --- Generic read/delete handlers ---

func listRecords[T any](resource string, list func(*db.Session, context.Context, int, int) ([]T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q pageQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			badRequest(c, err)
			return
		}
		records, err := list(SessionFrom(c), c.Request.Context(), q.Skip, q.Limit)
		if err != nil {
			internalError(c, "Failed to list "+resource, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func getRecord[T any](resource string, get func(*db.Session, context.Context, int64) (*T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		record, err := get(SessionFrom(c), c.Request.Context(), id)
		if err != nil {
			internalError(c, "Failed to get "+resource, err)
			return
		}
		if record == nil {
			notFound(c, resource)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func deleteRecord(resource string, del func(*db.Session, context.Context, int64) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		deleted, err := del(SessionFrom(c), c.Request.Context(), id)
		if err != nil {
			internalError(c, "Failed to delete "+resource, err)
			return
		}
		if !deleted {
			notFound(c, resource)
			return
		}
		logger.LogInfo("Deleted record", "resource", resource, "id", id)
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// --- Student Handlers ---

// CreateStudent handles POST /students
func (h *APIHandler) CreateStudent(c *gin.Context) {
	var in models.PersonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	student, err := SessionFrom(c).CreateStudent(c.Request.Context(), in)
	if err != nil {
		internalError(c, "Failed to create student", err)
		return
	}
	c.JSON(http.StatusOK, student)
}

// ImportStudents handles POST /import/students
func (h *APIHandler) ImportStudents(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	logger.LogInfo("Received roster upload", "filename", header.Filename, "size", header.Size)

	res, err := SessionFrom(c).ImportStudents(c.Request.Context(), file)
	if errors.Is(err, db.ErrInvalidRoster) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if err != nil {
		internalError(c, "Failed to import students", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Teacher Handlers ---

// CreateTeacher handles POST /teachers
func (h *APIHandler) CreateTeacher(c *gin.Context) {
	var in models.PersonInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	teacher, err := SessionFrom(c).CreateTeacher(c.Request.Context(), in)
	if err != nil {
		internalError(c, "Failed to create teacher", err)
		return
	}
	c.JSON(http.StatusOK, teacher)
}

// --- Course Handlers ---

// CreateCourse handles POST /courses
func (h *APIHandler) CreateCourse(c *gin.Context) {
	var in models.CourseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	course, err := SessionFrom(c).CreateCourse(c.Request.Context(), in)
	switch {
	case errors.Is(err, db.ErrUniqueViolation):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"detail": "Course title already exists"})
		return
	case errors.Is(err, db.ErrForeignKeyViolation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Teacher not found"})
		return
	case err != nil:
		internalError(c, "Failed to create course", err)
		return
	}
	c.JSON(http.StatusOK, course)
}

// --- Enrollment Handlers ---

// CreateEnrollment handles POST /enrollments
func (h *APIHandler) CreateEnrollment(c *gin.Context) {
	var in models.EnrollmentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.Engine.Enroll(c.Request.Context(), SessionFrom(c), in.StudentID, in.CourseID)
	switch {
	case enrollment.IsRuleViolation(err):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	case errors.Is(err, enrollment.ErrCourseBusy):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": enrollment.ErrCourseBusy.Error()})
		return
	case err != nil:
		internalError(c, "Failed to create enrollment", err)
		return
	}
	c.JSON(http.StatusOK, created)
}

// --- Scraped Listing Handlers ---

// ImportListings handles POST /scraped/import
func (h *APIHandler) ImportListings(c *gin.Context) {
	var payload []models.ListingImport
	if err := c.ShouldBindJSON(&payload); err != nil {
		var sliceErr binding.SliceValidationError
		if errors.As(err, &sliceErr) {
			fes := itemErrors(payload)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": fes})
			return
		}
		badRequest(c, err)
		return
	}

	items := make([]models.ListingInput, 0, len(payload))
	for _, p := range payload {
		items = append(items, p.Listing())
	}
	n, err := SessionFrom(c).InsertListings(c.Request.Context(), items)
	if err != nil {
		internalError(c, "Failed to import listings", err)
		return
	}
	logger.LogInfo("Imported listings", "inserted", n)
	c.JSON(http.StatusOK, gin.H{"inserted": n})
}

// --- Ping Handler ---

// Ping handles GET /ping and checks the database through the request session.
func (h *APIHandler) Ping(c *gin.Context) {
	if err := SessionFrom(c).Ping(c.Request.Context()); err != nil {
		logger.LogError("Ping failed", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
