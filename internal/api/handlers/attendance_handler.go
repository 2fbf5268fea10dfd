package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/utils"
)

type AttendanceHandler struct {
	attendance services.AttendanceService
	roster     services.RosterService
}

func NewAttendanceHandler(attendance services.AttendanceService, roster services.RosterService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, roster: roster}
}

// Commit saves a reviewed session. The operator is always the caller.
func (h *AttendanceHandler) Commit(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AttendanceHandler.Commit", "invalid request body", err))
		return
	}
	req.OperatorID = userID

	id, err := h.attendance.Commit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *AttendanceHandler) Get(c *gin.Context) {
	out, err := h.attendance.Get(c.Request.Context(), c.Param("attendance_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AttendanceHandler) ListBySubject(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, utils.E(utils.CodeInvalidArgument, "AttendanceHandler.ListBySubject", "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	out, err := h.attendance.ListBySubject(c.Request.Context(), c.Param("subject_id"), c.Query("date"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *AttendanceHandler) Students(c *gin.Context) {
	out, err := h.roster.GetStudentsBySemester(c.Request.Context(), c.Param("semester_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
