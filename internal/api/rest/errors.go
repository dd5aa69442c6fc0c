package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/registry"
)

// errorResponse is the structured error body: the stable kind identifier
// plus a human-readable detail.
type errorResponse struct {
	Error  registry.ErrorKind `json:"error"`
	Detail string             `json:"detail,omitempty"`
}

// statusFor maps the closed error taxonomy to HTTP statuses: user-fixable
// kinds are 4xx, transport kinds are 502, internal kinds are 500.
func statusFor(kind registry.ErrorKind) int {
	switch kind {
	case registry.KindNotFound:
		return http.StatusNotFound
	case registry.KindAlreadyExists, registry.KindTickerTaken:
		return http.StatusConflict
	case registry.KindChainUnavailable, registry.KindProofUnavailable:
		return http.StatusBadGateway
	case registry.KindHookFailed, registry.KindIoError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// respondError converts a pipeline failure into the structured HTTP error
// body. Server-side failures are logged with their cause chain; the body
// only carries the kind for those.
func respondError(c *gin.Context, err error) {
	kind := registry.KindOf(err)
	status := statusFor(kind)

	detail := ""
	var rerr *registry.Error
	if status < http.StatusInternalServerError {
		if errors.As(err, &rerr) {
			detail = rerr.Detail
		}
	} else {
		logger.Error(err,
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString("request_id")),
		)
	}

	c.JSON(status, errorResponse{Error: kind, Detail: detail})
}
