package rest

import (
	"context"
	"net/http"

	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/bwise1/quickpoll_api/util"
	"github.com/bwise1/quickpoll_api/util/tracing"
	"github.com/bwise1/quickpoll_api/util/values"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (api *API) PollRoutes() chi.Router {
	mux := chi.NewRouter()

	// Browsers cannot set custom headers on a websocket handshake.
	mux.Get("/{pollID}/live", api.LiveResults)

	mux.Group(func(r chi.Router) {
		r.Use(RequestTracing)
		r.Method(http.MethodPost, "/", Handler(api.CreatePoll))
		r.Method(http.MethodGet, "/{pollID}", Handler(api.GetPoll))
		r.Method(http.MethodGet, "/{pollID}/results", Handler(api.GetResults))
		r.Method(http.MethodGet, "/{pollID}/has-voted", Handler(api.HasVoted))
		r.Method(http.MethodPost, "/{pollID}/votes", Handler(api.SubmitVote))
	})

	return mux
}

func (api *API) CreatePoll(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := tracing.From(r.Context())

	var req model.CreatePollRequest
	if decodeErr := util.DecodeJSONBody(tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	if req.CreatorDeviceID == "" {
		req.CreatorDeviceID = r.Header.Get(values.HeaderDeviceID)
	}
	if err := util.ValidateStruct(req); err != nil {
		return respondWithError(err, "invalid poll: "+err.Error(), values.BadRequestBody, &tc)
	}

	poll, err := api.Deps.Store.CreatePoll(r.Context(), req.Poll())
	if err != nil {
		return respondWithError(err, "unable to create poll", values.Error, &tc)
	}

	return &ServerResponse{
		Message:    "Poll created",
		Status:     values.Created,
		StatusCode: util.StatusCode(values.Created),
		Data:       poll,
	}
}

func (api *API) GetPoll(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := tracing.From(r.Context())

	pollID, err := util.ParseUUID(chi.URLParam(r, "pollID"))
	if err != nil {
		return respondWithError(err, "invalid poll id", values.BadRequestBody, &tc)
	}

	poll, resp := api.loadPoll(r.Context(), pollID, &tc)
	if resp != nil {
		return resp
	}
	return respondOK("Poll retrieved", poll)
}

func (api *API) GetResults(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := tracing.From(r.Context())

	pollID, err := util.ParseUUID(chi.URLParam(r, "pollID"))
	if err != nil {
		return respondWithError(err, "invalid poll id", values.BadRequestBody, &tc)
	}

	res, err := api.Deps.Results.Results(r.Context(), pollID)
	if errors.Is(err, storage.ErrPollNotFound) {
		return respondWithError(err, "Poll not found", values.NotFound, &tc)
	}
	if err != nil {
		return respondWithError(err, "unable to load results", values.Error, &tc)
	}
	return respondOK("Results retrieved", res)
}

func (api *API) HasVoted(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := tracing.From(r.Context())

	pollID, err := util.ParseUUID(chi.URLParam(r, "pollID"))
	if err != nil {
		return respondWithError(err, "invalid poll id", values.BadRequestBody, &tc)
	}

	deviceID := r.Header.Get(values.HeaderDeviceID)
	if deviceID == "" {
		deviceID = r.URL.Query().Get("device_id")
	}
	if !util.NotBlank(deviceID) {
		return respondWithError(errors.New("missing device id"), "device identity is required", values.BadRequestBody, &tc)
	}

	if _, resp := api.loadPoll(r.Context(), pollID, &tc); resp != nil {
		return resp
	}

	voted, err := api.Deps.Store.HasVoted(r.Context(), pollID, deviceID)
	if err != nil {
		return respondWithError(err, "unable to check vote", values.Error, &tc)
	}
	return respondOK("Vote status retrieved", model.HasVotedResponse{PollID: pollID, HasVoted: voted})
}

func (api *API) loadPoll(ctx context.Context, pollID uuid.UUID, tc *tracing.Context) (model.Poll, *ServerResponse) {
	poll, err := api.Deps.Store.GetPoll(ctx, pollID)
	if errors.Is(err, storage.ErrPollNotFound) {
		return model.Poll{}, respondWithError(err, "Poll not found", values.NotFound, tc)
	}
	if err != nil {
		return model.Poll{}, respondWithError(err, "unable to load poll", values.Error, tc)
	}
	return poll, nil
}
