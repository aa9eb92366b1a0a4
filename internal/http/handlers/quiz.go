package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
	"github.com/yungbote/quizforge-backend/internal/http/response"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
	"github.com/yungbote/quizforge-backend/internal/services"
)

type QuizHandler struct {
	log           *logger.Logger
	publicBaseURL string
	gateway       qstash.Gateway
	generation    services.GenerationService
	quizzes       services.QuizService
}

func NewQuizHandler(
	log *logger.Logger,
	publicBaseURL string,
	gateway qstash.Gateway,
	generation services.GenerationService,
	quizService services.QuizService,
) *QuizHandler {
	return &QuizHandler{
		log:           log.With("handler", "QuizHandler"),
		publicBaseURL: publicBaseURL,
		gateway:       gateway,
		generation:    generation,
		quizzes:       quizService,
	}
}

type generateRequest struct {
	FileID   string         `json:"fileId"`
	FromPage int            `json:"fromPage,omitempty"`
	ToPage   int            `json:"toPage,omitempty"`
	Config   quizzes.Config `json:"config"`
}

func (h *QuizHandler) Generate(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_body", err))
		return
	}
	fileID, err := parseUUIDField(req.FileID, "fileId")
	if err != nil {
		response.RespondError(c, err)
		return
	}
	job, err := h.generation.RequestGeneration(c.Request.Context(), userID, fileID, req.FromPage, req.ToPage, req.Config)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"job": job})
}

func (h *QuizHandler) Process(c *gin.Context) {
	payload, ok := verifiedWebhookBody(c, h.gateway, h.publicBaseURL)
	if !ok {
		return
	}
	var body services.ProcessPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_payload", err))
		return
	}
	result, err := h.generation.Process(c.Request.Context(), body)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, result)
}

func (h *QuizHandler) JobStatus(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	jobID, ok := pathID(c, "jobId")
	if !ok {
		return
	}
	job, err := h.generation.GetJob(c.Request.Context(), userID, jobID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

func (h *QuizHandler) Get(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.quizzes.Get(c.Request.Context(), userID, quizID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

func (h *QuizHandler) UpdateMeta(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req services.QuizMetaUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_body", err))
		return
	}
	doc, err := h.quizzes.UpdateMeta(c.Request.Context(), userID, quizID, req)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

func (h *QuizHandler) UpdateQuestion(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var q quizzes.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_body", err))
		return
	}
	doc, err := h.quizzes.UpdateQuestion(c.Request.Context(), userID, quizID, c.Param("qid"), q)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

func (h *QuizHandler) AddQuestion(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var q quizzes.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_body", err))
		return
	}
	doc, err := h.quizzes.AddQuestion(c.Request.Context(), userID, quizID, q)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondCreated(c, doc)
}

func (h *QuizHandler) DeleteQuestion(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	doc, err := h.quizzes.DeleteQuestion(c.Request.Context(), userID, quizID, c.Param("qid"))
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, doc)
}

type reorderRequest struct {
	Order []int `json:"order"`
}

func (h *QuizHandler) Reorder(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	quizID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_body", err))
		return
	}
	doc, err := h.quizzes.Reorder(c.Request.Context(), userID, quizID, req.Order)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, doc)
}
