package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/utils"
	"github.com/yoockh/smartattend/internal/voice"
)

const (
	maxImageBytes = 15 << 20
	maxAudioBytes = 50 << 20
)

// ProcessingHandler serves the head-count and roll-call endpoints used by
// remote kiosks.
type ProcessingHandler struct {
	headcounts services.HeadcountService
	rollCalls  services.RollCallService
}

func NewProcessingHandler(headcounts services.HeadcountService, rollCalls services.RollCallService) *ProcessingHandler {
	return &ProcessingHandler{headcounts: headcounts, rollCalls: rollCalls}
}

func (h *ProcessingHandler) CountStudents(c *gin.Context) {
	const op = "ProcessingHandler.CountStudents"

	data, mimeType, err := readUpload(c, "image", maxImageBytes)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "no image uploaded", err))
		return
	}
	res, err := h.headcounts.CountStudents(c.Request.Context(), data, mimeType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ProcessingHandler) ProcessRollCall(c *gin.Context) {
	const op = "ProcessingHandler.ProcessRollCall"

	data, mimeType, err := readUpload(c, "audio", maxAudioBytes)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "no audio uploaded", err))
		return
	}
	res, err := h.rollCalls.ProcessRollCall(c.Request.Context(), voice.AudioBlob{Data: data, MimeType: mimeType})
	if err != nil {
		writeError(c, err)
		return
	}
	if res.RollNumbers == nil {
		res.RollNumbers = []string{}
	}
	c.JSON(http.StatusOK, res)
}
