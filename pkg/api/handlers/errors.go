package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/IRCAD/sight-sub083/pkg/api/response"
)

// writeContextError maps a lock or storage failure to a response. A request
// that ran out of time while waiting on locks gets a 504.
func writeContextError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.Error(w, http.StatusGatewayTimeout, response.ErrCodeGatewayTimeout, err.Error(), requestID)
	default:
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), requestID)
	}
}
