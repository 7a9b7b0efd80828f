package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Kaping/blockshare/internal/service"
)

// HandleServiceError maps a service-layer error to the matching HTTP
// response, logging anything that isn't a recognized business error.
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomFull):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrSnapshotTooLarge):
		ErrorResponse(c, http.StatusRequestEntityTooLarge, err.Error())
	default:
		logrus.WithError(err).Error("unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "an unexpected error occurred")
	}
}
