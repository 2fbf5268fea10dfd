package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/smartattend/internal/api/handlers"
	"github.com/yoockh/smartattend/internal/api/middleware"
	"github.com/yoockh/smartattend/internal/models"
)

type Deps struct {
	JWT        middleware.JWTConfig
	Session    *handlers.SessionHandler
	Attendance *handlers.AttendanceHandler
	Processing *handlers.ProcessingHandler
	WS         *handlers.WSHandler
	Metrics    http.Handler // optional
}

// operatorRoles may drive the kiosk and write attendance.
var operatorRoles = []string{string(models.RoleFaculty), string(models.RoleAdmin)}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.JWT))

	// processing backend used by remote kiosks
	if d.Processing != nil {
		auth.POST("/count-students", d.Processing.CountStudents)
		auth.POST("/process-rollcall", d.Processing.ProcessRollCall)
	}

	api := auth.Group("/api/v1")
	if d.Attendance != nil {
		api.GET("/semesters/:semester_id/students", d.Attendance.Students)
		api.GET("/attendance/:attendance_id", d.Attendance.Get)
		api.GET("/subjects/:subject_id/attendance", d.Attendance.ListBySubject)
		api.POST("/attendance", middleware.RequireRole(operatorRoles...), d.Attendance.Commit)
	}

	if d.Session != nil {
		kiosk := api.Group("/sessions", middleware.RequireRole(operatorRoles...))
		kiosk.POST("", d.Session.Open)
		kiosk.GET("/:session_id", d.Session.Get)
		kiosk.POST("/:session_id/camera", d.Session.StartCamera)
		kiosk.POST("/:session_id/capture", d.Session.Capture)
		kiosk.GET("/:session_id/capture/image", d.Session.CaptureImage)
		kiosk.POST("/:session_id/rollcall", d.Session.BeginRollCall)
		kiosk.POST("/:session_id/recording/start", d.Session.StartRecording)
		kiosk.POST("/:session_id/recording/stop", d.Session.StopRecording)
		kiosk.POST("/:session_id/recording/retry", d.Session.RetryTranscription)
		kiosk.POST("/:session_id/manual", d.Session.SubmitManual)
		kiosk.POST("/:session_id/students/:student_id/toggle", d.Session.Toggle)
		kiosk.POST("/:session_id/resolve", d.Session.Resolve)
		kiosk.POST("/:session_id/reset", d.Session.Reset)
		kiosk.POST("/:session_id/save", d.Session.Save)
		kiosk.DELETE("/:session_id", d.Session.Close)
	}

	// WebSocket
	if d.WS != nil {
		auth.GET("/ws/attendance/:session_id", middleware.RequireRole(operatorRoles...), d.WS.SessionWS)
	}
}
