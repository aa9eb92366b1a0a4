package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/quizforge-backend/internal/domain/users"
	"github.com/yungbote/quizforge-backend/internal/http/response"
	"github.com/yungbote/quizforge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/parser"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
	"github.com/yungbote/quizforge-backend/internal/services"
)

type FileHandler struct {
	log           *logger.Logger
	publicBaseURL string
	gateway       qstash.Gateway
	uploads       services.UploadService
	files         services.FileService
	status        services.StatusService
	webhooks      services.ParseWebhookService
}

func NewFileHandler(
	log *logger.Logger,
	publicBaseURL string,
	gateway qstash.Gateway,
	uploads services.UploadService,
	files services.FileService,
	status services.StatusService,
	webhooks services.ParseWebhookService,
) *FileHandler {
	return &FileHandler{
		log:           log.With("handler", "FileHandler"),
		publicBaseURL: publicBaseURL,
		gateway:       gateway,
		uploads:       uploads,
		files:         files,
		status:        status,
		webhooks:      webhooks,
	}
}

func requestIdentity(c *gin.Context) (uuid.UUID, users.Tier, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, errs.ErrUnauthorized)
		return uuid.Nil, "", false
	}
	tier := users.Tier(rd.Tier)
	if tier == "" {
		tier = users.TierFree
	}
	return rd.UserID, tier, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil || id == uuid.Nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_id",
			fmt.Errorf("invalid %s %q", name, c.Param(name))))
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDField(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apierr.New(http.StatusBadRequest, "invalid_id",
			fmt.Errorf("invalid %s %q", name, raw))
	}
	return id, nil
}

func (h *FileHandler) Upload(c *gin.Context) {
	userID, tier, ok := requestIdentity(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "missing_file",
			fmt.Errorf("multipart field \"file\" is required")))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer src.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	result, err := h.uploads.Upload(c.Request.Context(), userID, tier, services.UploadInput{
		DisplayName:  fileHeader.Filename,
		MimeType:     mimeType,
		SizeBytes:    fileHeader.Size,
		Body:         src,
		Language:     c.PostForm("language"),
		Subject:      c.PostForm("subject"),
		DocumentType: c.PostForm("documentType"),
	})
	if err != nil {
		response.RespondError(c, err)
		return
	}
	if result.ParseFailure != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"data":    gin.H{"file": result.File, "mode": result.Mode},
			"error": gin.H{
				"code":      result.ParseFailure.Code,
				"message":   result.ParseFailure.Message,
				"retryable": result.ParseFailure.Retryable,
				"requestId": ctxutil.RequestID(c.Request.Context()),
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		})
		return
	}
	response.RespondCreated(c, result)
}

func (h *FileHandler) Get(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	fileID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.files.Get(c.Request.Context(), userID, fileID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FileHandler) List(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	list, err := h.files.List(c.Request.Context(), userID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"files": list})
}

func (h *FileHandler) Status(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	fileID, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.status.GetStatus(c.Request.Context(), userID, fileID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FileHandler) Download(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	fileID, ok := pathID(c, "id")
	if !ok {
		return
	}
	dl, err := h.files.Download(c.Request.Context(), userID, fileID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	defer dl.Body.Close()
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(dl.DisplayName))
	c.DataFromReader(http.StatusOK, dl.SizeBytes, dl.ContentType, dl.Body, nil)
}

// DownloadInternal serves the raw bytes without an ownership check so the
// local parser can fetch them. Mounted only in development.
func (h *FileHandler) DownloadInternal(c *gin.Context) {
	fileID, ok := pathID(c, "id")
	if !ok {
		return
	}
	dl, err := h.files.Open(c.Request.Context(), fileID)
	if err != nil {
		response.RespondError(c, err)
		return
	}
	defer dl.Body.Close()
	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(dl.DisplayName))
	c.DataFromReader(http.StatusOK, dl.SizeBytes, dl.ContentType, dl.Body, nil)
}

func (h *FileHandler) Delete(c *gin.Context) {
	userID, _, ok := requestIdentity(c)
	if !ok {
		return
	}
	fileID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.files.Delete(c.Request.Context(), userID, fileID); err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": fileID})
}

func (h *FileHandler) ParseComplete(c *gin.Context) {
	payload, ok := verifiedWebhookBody(c, h.gateway, h.publicBaseURL)
	if !ok {
		return
	}
	var result parser.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_payload", err))
		return
	}
	if err := h.webhooks.HandleComplete(c.Request.Context(), result); err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"acknowledged": true})
}

func (h *FileHandler) ParseFailed(c *gin.Context) {
	payload, ok := verifiedWebhookBody(c, h.gateway, h.publicBaseURL)
	if !ok {
		return
	}
	var body services.ParseFailedPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "invalid_payload", err))
		return
	}
	if err := h.webhooks.HandleFailure(c.Request.Context(), body); err != nil {
		response.RespondError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"acknowledged": true})
}
