package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/smartattend/internal/engine"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/reconcile"
	"github.com/yoockh/smartattend/internal/utils"
)

// SessionHandler drives the kiosk attendance engine.
type SessionHandler struct {
	sessions *engine.Manager
}

func NewSessionHandler(sessions *engine.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type OpenSessionRequest struct {
	Course models.Course `json:"course" binding:"required"`
}

type ManualRequest struct {
	Text string `json:"text" binding:"required"`
}

type ResolveRequest struct {
	Resolution string `json:"resolution" binding:"required"` // retake|redo-voice|override
}

type RecognitionResponse struct {
	Result reconcile.Result `json:"result"`
	View   engine.View      `json:"view"`
}

// session loads the path session and checks it belongs to the caller.
func (h *SessionHandler) session(c *gin.Context, op string) (*engine.Session, bool) {
	userID, ok := requireUserID(c)
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Get(c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if s.OperatorID() != userID {
		writeError(c, utils.E(utils.CodeForbidden, op, "forbidden", nil))
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) Open(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Open", "invalid request body", err))
		return
	}

	s, err := h.sessions.Open(c.Request.Context(), req.Course, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.View())
}

func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.Get")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) StartCamera(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.StartCamera")
	if !ok {
		return
	}
	if err := s.StartCamera(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) Capture(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.Capture")
	if !ok {
		return
	}
	res, err := s.Capture(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": res.Count, "view": s.View()})
}

// CaptureImage serves the captured still.
func (h *SessionHandler) CaptureImage(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.CaptureImage")
	if !ok {
		return
	}
	art, found := s.Artifact()
	if !found {
		writeError(c, utils.E(utils.CodeNotFound, "SessionHandler.CaptureImage", "no capture yet", nil))
		return
	}
	c.Data(http.StatusOK, art.MimeType, art.Data)
}

func (h *SessionHandler) BeginRollCall(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.BeginRollCall")
	if !ok {
		return
	}
	if err := s.BeginRollCall(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) StartRecording(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.StartRecording")
	if !ok {
		return
	}
	if err := s.StartRecording(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) StopRecording(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.StopRecording")
	if !ok {
		return
	}
	res, err := s.StopRecording(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RecognitionResponse{Result: *res, View: s.View()})
}

func (h *SessionHandler) RetryTranscription(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.RetryTranscription")
	if !ok {
		return
	}
	res, err := s.RetryTranscription(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RecognitionResponse{Result: *res, View: s.View()})
}

func (h *SessionHandler) SubmitManual(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.SubmitManual")
	if !ok {
		return
	}
	var req ManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.SubmitManual", "invalid request body", err))
		return
	}
	res, err := s.SubmitManual(c.Request.Context(), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RecognitionResponse{Result: *res, View: s.View()})
}

func (h *SessionHandler) Toggle(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.Toggle")
	if !ok {
		return
	}
	st, err := s.Toggle(c.Param("student_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": st, "view": s.View()})
}

func (h *SessionHandler) Resolve(c *gin.Context) {
	const op = "SessionHandler.Resolve"

	s, ok := h.session(c, op)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	res, err := reconcile.ParseResolution(req.Resolution)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.Resolve(c.Request.Context(), res); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) Reset(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.Reset")
	if !ok {
		return
	}
	if err := s.Reset(c.Request.Context()); err != nil && !utils.IsCode(err, utils.CodeDeviceUnavailable) {
		writeError(c, err)
		return
	}
	// a camera failure after reset is part of the view
	c.JSON(http.StatusOK, s.View())
}

func (h *SessionHandler) Save(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.Save")
	if !ok {
		return
	}
	id, err := s.Save(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "view": s.View()})
}

func (h *SessionHandler) Close(c *gin.Context) {
	s, ok := h.session(c, "SessionHandler.Close")
	if !ok {
		return
	}
	s.Close()
	c.Status(http.StatusNoContent)
}
