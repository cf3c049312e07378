package rest

import (
	"net/http"

	"github.com/bwise1/quickpoll_api/internal/storage"
	"github.com/bwise1/quickpoll_api/util"
	"github.com/bwise1/quickpoll_api/util/values"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// LiveResults upgrades to a websocket that streams results_update messages
// for one poll, starting with the current results.
func (api *API) LiveResults(w http.ResponseWriter, r *http.Request) {
	pollID, err := util.ParseUUID(chi.URLParam(r, "pollID"))
	if err != nil {
		writeErrorResponse(w, err, values.BadRequestBody, "invalid poll id")
		return
	}

	res, err := api.Deps.Results.Results(r.Context(), pollID)
	if errors.Is(err, storage.ErrPollNotFound) {
		writeErrorResponse(w, err, values.NotFound, "Poll not found")
		return
	}
	if err != nil {
		writeErrorResponse(w, err, values.Error, "unable to load results")
		return
	}

	api.Deps.WebSocket.HandleConnections(w, r, pollID, res)
}
