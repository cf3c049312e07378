package rest

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bwise1/quickpoll_api/internal/admission"
	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/util"
	"github.com/bwise1/quickpoll_api/util/tracing"
	"github.com/bwise1/quickpoll_api/util/values"
	"github.com/go-chi/chi/v5"
)

const (
	// admissionTimeout bounds a submission once it reaches the pipeline. The
	// request context's cancellation is dropped so a client hanging up never
	// interrupts a write that is already under way.
	admissionTimeout = 15 * time.Second
)

var rejectionStatus = map[admission.Reason]string{
	admission.ReasonMissingIdentity:         values.BadRequestBody,
	admission.ReasonInvalidDescriptor:       values.BadRequestBody,
	admission.ReasonInvalidOption:           values.BadRequestBody,
	admission.ReasonPollNotFound:            values.NotFound,
	admission.ReasonPollClosed:              values.Conflict,
	admission.ReasonDuplicateVote:           values.Conflict,
	admission.ReasonRateLimited:             values.TooManyRequests,
	admission.ReasonVerificationRequired:    values.NotAllowed,
	admission.ReasonVerificationFailed:      values.NotAllowed,
	admission.ReasonVerificationUnavailable: values.Unavailable,
}

type rejectionBody struct {
	Reason            admission.Reason  `json:"reason"`
	Variant           admission.Variant `json:"variant,omitempty"`
	Limit             int               `json:"limit,omitempty"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	Retryable         bool              `json:"retryable"`
}

func (api *API) SubmitVote(w http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := tracing.From(r.Context())

	pollID, err := util.ParseUUID(chi.URLParam(r, "pollID"))
	if err != nil {
		return respondWithError(err, "invalid poll id", values.BadRequestBody, &tc)
	}

	var req model.CastVoteRequest
	if decodeErr := util.DecodeJSONBody(tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	if err := util.ValidateStruct(req); err != nil {
		return respondWithError(err, "invalid vote: "+err.Error(), values.BadRequestBody, &tc)
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = r.Header.Get(values.HeaderDeviceID)
	}
	if !util.NotBlank(deviceID) {
		return respondWithError(admission.ErrMissingIdentity, "device identity is required", values.BadRequestBody, &tc)
	}

	ip := api.Deps.Proxies.ClientIP(r)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), admissionTimeout)
	defer cancel()

	accepted, err := api.Deps.Admission.Submit(ctx, model.AdmissionRequest{
		PollID:            pollID,
		OptionIndex:       *req.OptionIndex,
		DeviceID:          deviceID,
		NetworkID:         util.HashIP(ip, api.Config.NetworkIDSalt),
		RemoteIP:          ip,
		UserAgent:         r.UserAgent(),
		VerificationToken: req.VerificationToken,
		Descriptor:        req.FaceDescriptor,
	})
	if err != nil {
		return api.respondWithRejection(w, err, &tc)
	}

	api.Deps.WebSocket.RefreshPollResults(pollID)

	return &ServerResponse{
		Message:    "Vote recorded",
		Status:     values.Created,
		StatusCode: util.StatusCode(values.Created),
		Data:       accepted,
	}
}

func (api *API) respondWithRejection(w http.ResponseWriter, err error, tc *tracing.Context) *ServerResponse {
	rej, ok := admission.AsRejection(err)
	if !ok {
		return respondWithError(err, "unable to record vote, please try again", values.Error, tc)
	}

	status, ok := rejectionStatus[rej.Reason]
	if !ok {
		status = values.Error
	}

	body := rejectionBody{
		Reason:    rej.Reason,
		Variant:   rej.Variant,
		Limit:     rej.Limit,
		Retryable: rej.Retryable(),
	}
	if rej.RetryAfter > 0 {
		body.RetryAfterSeconds = int(math.Ceil(rej.RetryAfter.Seconds()))
		w.Header().Set(values.HeaderRetryAfter, strconv.Itoa(body.RetryAfterSeconds))
	}

	resp := respondWithError(err, rej.Message, status, tc)
	resp.Data = body
	return resp
}
