package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/quizforge-backend/internal/http/response"
	"github.com/yungbote/quizforge-backend/internal/pkg/errs"
	"github.com/yungbote/quizforge-backend/internal/platform/apierr"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
)

const maxWebhookBody = 32 << 20

// verifiedWebhookBody authenticates an inbound queue callback and returns the
// decoded payload. Verification happens against the raw body before any
// parsing; the envelope is unwrapped only after the signature holds.
func verifiedWebhookBody(c *gin.Context, gateway qstash.Gateway, publicBaseURL string) ([]byte, bool) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.RespondError(c, apierr.New(http.StatusBadRequest, "unreadable_body", err))
		return nil, false
	}
	url := strings.TrimRight(publicBaseURL, "/") + c.Request.URL.Path
	signature := c.GetHeader(qstash.SignatureHeader)
	if !gateway.VerifySignature(signature, url, raw) {
		response.RespondError(c, apierr.New(http.StatusUnauthorized, "invalid_signature", errs.ErrUnauthorized))
		return nil, false
	}
	return qstash.DecodeEnvelope(raw), true
}
