package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"sms-server-go/db"
	"sms-server-go/enrollment"
)

// NewRouter builds the gin engine with every route of the service.
func NewRouter(store *db.Store, engine *enrollment.Engine) *gin.Engine {
	useJSONFieldNames()

	h := NewAPIHandler(engine)

	router := gin.New()
	router.Use(RequestID(), AccessLog(), Recovery(), SessionScope(store))

	students := router.Group("/students")
	{
		students.POST("", h.CreateStudent)
		students.GET("", listRecords("students", (*db.Session).ListStudents))
		students.GET("/:id", getRecord("Student", (*db.Session).GetStudent))
		students.DELETE("/:id", deleteRecord("Student", (*db.Session).DeleteStudent))
	}

	teachers := router.Group("/teachers")
	{
		teachers.POST("", h.CreateTeacher)
		teachers.GET("", listRecords("teachers", (*db.Session).ListTeachers))
		teachers.GET("/:id", getRecord("Teacher", (*db.Session).GetTeacher))
		teachers.DELETE("/:id", deleteRecord("Teacher", (*db.Session).DeleteTeacher))
	}

	courses := router.Group("/courses")
	{
		courses.POST("", h.CreateCourse)
		courses.GET("", listRecords("courses", (*db.Session).ListCourses))
		courses.GET("/:id", getRecord("Course", (*db.Session).GetCourse))
		courses.DELETE("/:id", deleteRecord("Course", (*db.Session).DeleteCourse))
	}

	enrollments := router.Group("/enrollments")
	{
		enrollments.POST("", h.CreateEnrollment)
		enrollments.GET("", listRecords("enrollments", (*db.Session).ListEnrollments))
		enrollments.GET("/:id", getRecord("Enrollment", (*db.Session).GetEnrollment))
		enrollments.DELETE("/:id", deleteRecord("Enrollment", (*db.Session).DeleteEnrollment))
	}

	scraped := router.Group("/scraped")
	{
		scraped.POST("/import", h.ImportListings)
		scraped.GET("", listRecords("scraped resources", (*db.Session).ListListings))
		scraped.GET("/:id", getRecord("Scraped resource", (*db.Session).GetListing))
		scraped.DELETE("/:id", deleteRecord("Scraped resource", (*db.Session).DeleteListing))
	}

	router.POST("/import/students", h.ImportStudents)
	router.GET("/ping", h.Ping)

	return router
}

// WithCORS wraps h with a CORS policy for the given origins. "*" allows any.
func WithCORS(h http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         600,
	}).Handler(h)
}
