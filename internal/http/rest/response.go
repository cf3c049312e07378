package rest

import (
	"encoding/json"
	"net/http"

	"github.com/bwise1/quickpoll_api/util"
	"github.com/bwise1/quickpoll_api/util/tracing"
	"github.com/bwise1/quickpoll_api/util/values"
	"go.uber.org/zap"
)

type ServerResponse struct {
	Message    string      `json:"message"`
	Status     string      `json:"status"`
	StatusCode int         `json:"-"`
	Data       interface{} `json:"data,omitempty"`
	Err        error       `json:"-"`
}

// respondWithError logs err against the request and returns the envelope
// the client sees. err itself is never sent.
func respondWithError(err error, message, status string, tc *tracing.Context) *ServerResponse {
	code := util.StatusCode(status)
	fields := []zap.Field{zap.Error(err), zap.String("status", status)}
	if tc != nil {
		fields = append(fields, zap.String("request_id", tc.RequestID), zap.String("request_source", tc.RequestSource))
	}
	if code >= http.StatusInternalServerError {
		zap.L().Error(message, fields...)
	} else {
		zap.L().Debug(message, fields...)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: code,
		Err:        err,
	}
}

func writeJSONResponse(w http.ResponseWriter, body []byte, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

func writeErrorResponse(w http.ResponseWriter, err error, status, message string) {
	resp := respondWithError(err, message, status, nil)
	body, _ := json.Marshal(resp)
	writeJSONResponse(w, body, resp.StatusCode)
}

func respondOK(message string, data interface{}) *ServerResponse {
	return &ServerResponse{
		Message:    message,
		Status:     values.Success,
		StatusCode: util.StatusCode(values.Success),
		Data:       data,
	}
}
