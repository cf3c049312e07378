package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwise1/quickpoll_api/config"
	deps "github.com/bwise1/quickpoll_api/internal/debs"
	"github.com/bwise1/quickpoll_api/util/values"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultIdleTimeout  = time.Minute
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 15 * time.Second
)

type Handler func(w http.ResponseWriter, r *http.Request) *ServerResponse

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h(w, r)
	respByte, err := json.Marshal(resp)
	if err != nil {
		writeErrorResponse(w, err, values.Error, "unable to marshal server response")
		return
	}
	writeJSONResponse(w, respByte, resp.StatusCode)
}

type API struct {
	Server *http.Server
	Config *config.Config
	Deps   *deps.Dependencies
}

// Init builds the HTTP server. It must run before Serve and Shutdown are
// used from different goroutines.
func (api *API) Init() {
	api.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", api.Config.Port),
		IdleTimeout:  defaultIdleTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		Handler:      api.Routes(),
	}
}

func (api *API) Serve() error {
	if api.Server == nil {
		api.Init()
	}
	return api.Server.ListenAndServe()
}

func (api *API) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(api.RequestLogger)

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, []byte(`{"status":"success","message":"ok"}`), http.StatusOK)
	})
	mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(api.Deps.Registry, promhttp.HandlerOpts{}))

	mux.Mount("/polls", api.PollRoutes())

	return mux
}

func (api *API) Shutdown(ctx context.Context) error {
	if api.Server == nil {
		return nil
	}
	return api.Server.Shutdown(ctx)
}

func (api *API) logger() *zap.Logger {
	if api.Deps != nil && api.Deps.Logger != nil {
		return api.Deps.Logger
	}
	return zap.NewNop()
}
