package util

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bwise1/quickpoll_api/util/tracing"
	"github.com/bwise1/quickpoll_api/util/values"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// maxBodyBytes caps decoded request bodies. A full face descriptor is well
// under this.
const maxBodyBytes = 1 << 20

// StatusCode returns the status code represented
// by the specified status. Note that this function
// returns a status code of 200 by default
func StatusCode(status string) int {
	switch status {
	case values.Error:
		return http.StatusInternalServerError
	case values.Created:
		return http.StatusCreated
	case values.BadRequestBody:
		return http.StatusBadRequest
	case values.NotAllowed:
		return http.StatusForbidden
	case values.Conflict:
		return http.StatusConflict
	case values.NotFound:
		return http.StatusNotFound
	case values.TooManyRequests:
		return http.StatusTooManyRequests
	case values.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// DecodeJSONBody decodes one JSON document from body into target, rejecting
// unknown fields and anything past maxBodyBytes. tc only labels the error.
func DecodeJSONBody(tc tracing.Context, body io.ReadCloser, target interface{}) error {
	if body == nil {
		return errors.Errorf("missing request body for request: %v", tc)
	}
	defer func() {
		_ = body.Close()
	}()

	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errors.Wrapf(err, "Error parsing json body for request: %v", tc)
	}

	return nil
}

// ParseUUID parses a path or query identifier.
func ParseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "invalid id %q", s)
	}
	return id, nil
}
