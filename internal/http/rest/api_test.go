package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwise1/quickpoll_api/config"
	"github.com/bwise1/quickpoll_api/internal/admission"
	deps "github.com/bwise1/quickpoll_api/internal/debs"
	"github.com/bwise1/quickpoll_api/internal/metrics"
	"github.com/bwise1/quickpoll_api/internal/model"
	"github.com/bwise1/quickpoll_api/internal/results"
	"github.com/bwise1/quickpoll_api/internal/storage/memory"
	"github.com/bwise1/quickpoll_api/internal/verify"
	"github.com/bwise1/quickpoll_api/util"
	"github.com/bwise1/quickpoll_api/util/values"
	"github.com/bwise1/quickpoll_api/util/websockets"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	*httptest.Server
	api *API
}

func newTestServer(t *testing.T, verifier *verify.Client, opts ...func(*deps.Dependencies)) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	aggregator := results.New(store)

	d := &deps.Dependencies{
		Logger:    logger,
		Store:     store,
		Verifier:  verifier,
		Registry:  reg,
		Metrics:   m,
		Admission: admission.New(store, verifier, admission.WithMetrics(m)),
		Results:   aggregator,
		WebSocket: websockets.NewWebSocketManager(aggregator.Results, logger),
	}
	for _, opt := range opts {
		opt(d)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go d.WebSocket.Run(ctx)

	api := &API{Config: &config.Config{NetworkIDSalt: "test-salt"}, Deps: d}
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, api: api}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(values.HeaderRequestSource, "test")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func (s *testServer) createPoll(t *testing.T, body map[string]interface{}) model.Poll {
	t.Helper()
	resp, env := s.do(t, http.MethodPost, "/polls", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)
	var poll model.Poll
	require.NoError(t, json.Unmarshal(env.Data, &poll))
	return poll
}

func (s *testServer) vote(t *testing.T, pollID uuid.UUID, option int, device string, extra map[string]interface{}) (*http.Response, envelope) {
	t.Helper()
	body := map[string]interface{}{"option_index": option, "device_id": device}
	for k, v := range extra {
		body[k] = v
	}
	return s.do(t, http.MethodPost, "/polls/"+pollID.String()+"/votes", body, nil)
}

func decodeRejection(t *testing.T, env envelope) rejectionBody {
	t.Helper()
	var body rejectionBody
	require.NoError(t, json.Unmarshal(env.Data, &body))
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := http.Get(s.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	poll := s.createPoll(t, map[string]interface{}{"question": "Q?", "options": []string{"a", "b"}})
	s.vote(t, poll.ID, 0, "d1", nil)

	resp, err = http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `quickpoll_admissions_total{outcome="accepted"} 1`)
}

func TestRequestSourceRequired(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := http.Post(s.URL+"/polls", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndGetPoll(t *testing.T) {
	s := newTestServer(t, nil)

	poll := s.createPoll(t, map[string]interface{}{
		"question":              "Lunch?",
		"options":               []string{"pizza", "salad", "soup"},
		"max_votes_per_network": 5,
	})
	assert.NotEqual(t, uuid.Nil, poll.ID)
	assert.Equal(t, 5, poll.Settings.MaxVotesPerNetwork)

	resp, env := s.do(t, http.MethodGet, "/polls/"+poll.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, values.Success, env.Status)
	assert.NotEmpty(t, resp.Header.Get(values.HeaderRequestID))

	resp, _ = s.do(t, http.MethodGet, "/polls/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/polls/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreatePoll_Invalid(t *testing.T) {
	s := newTestServer(t, nil)

	testCases := []struct {
		name string
		body map[string]interface{}
	}{
		{"one option", map[string]interface{}{"question": "Q?", "options": []string{"a"}}},
		{"blank question", map[string]interface{}{"question": " ", "options": []string{"a", "b"}}},
		{"closes in past", map[string]interface{}{"question": "Q?", "options": []string{"a", "b"}, "closes_at": time.Now().Add(-time.Hour)}},
		{"unknown field", map[string]interface{}{"question": "Q?", "options": []string{"a", "b"}, "owner": "me"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := s.do(t, http.MethodPost, "/polls", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestVoteScenario(t *testing.T) {
	s := newTestServer(t, nil)
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}, "max_votes_per_network": 10})

	resp, env := s.vote(t, poll.ID, 0, "d1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, env.Message)
	var accepted model.Accepted
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	assert.NotEqual(t, uuid.Nil, accepted.VoteID)

	resp, env = s.vote(t, poll.ID, 1, "d1", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	rej := decodeRejection(t, env)
	assert.Equal(t, admission.ReasonDuplicateVote, rej.Reason)
	assert.Equal(t, admission.VariantIdentity, rej.Variant)

	resp, _ = s.vote(t, poll.ID, 1, "d2", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, env = s.do(t, http.MethodGet, "/polls/"+poll.ID.String()+"/results", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.PollResults
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.TotalVotes)
	require.Len(t, res.Options, 2)
	assert.Equal(t, 1, res.Options[0].Count)
	assert.Equal(t, 50.0, res.Options[0].Percentage)
	assert.Equal(t, 1, res.Options[1].Count)
	assert.Equal(t, 50.0, res.Options[1].Percentage)
}

func TestVote_DeviceFromHeader(t *testing.T) {
	s := newTestServer(t, nil)
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}})
	path := "/polls/" + poll.ID.String() + "/votes"

	resp, _ := s.do(t, http.MethodPost, path, map[string]interface{}{"option_index": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	headers := map[string]string{values.HeaderDeviceID: "header-device"}
	resp, _ = s.do(t, http.MethodPost, path, map[string]interface{}{"option_index": 0}, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, env := s.do(t, http.MethodGet, "/polls/"+poll.ID.String()+"/has-voted", nil, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hv model.HasVotedResponse
	require.NoError(t, json.Unmarshal(env.Data, &hv))
	assert.True(t, hv.HasVoted)

	resp, env = s.do(t, http.MethodGet, "/polls/"+poll.ID.String()+"/has-voted?device_id=someone-else", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &hv))
	assert.False(t, hv.HasVoted)

	resp, _ = s.do(t, http.MethodGet, "/polls/"+poll.ID.String()+"/has-voted", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/polls/"+uuid.NewString()+"/has-voted", nil, headers)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVote_RateLimited(t *testing.T) {
	s := newTestServer(t, nil)
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}, "max_votes_per_network": 1})

	resp, _ := s.vote(t, poll.ID, 0, "d1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same client address, different device.
	resp, env := s.vote(t, poll.ID, 0, "d2", nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	rej := decodeRejection(t, env)
	assert.Equal(t, admission.ReasonRateLimited, rej.Reason)
	assert.Equal(t, 1, rej.Limit)
	assert.Greater(t, rej.RetryAfterSeconds, 3500)
	assert.True(t, rej.Retryable)
	assert.NotEmpty(t, resp.Header.Get(values.HeaderRetryAfter))

	// Forwarding headers from a peer that is not a trusted proxy do not
	// change the network identity.
	for i := 0; i < 5; i++ {
		resp, _ = s.do(t, http.MethodPost, "/polls/"+poll.ID.String()+"/votes",
			map[string]interface{}{"option_index": 1, "device_id": fmt.Sprintf("forged-%d", i)},
			map[string]string{
				"X-Forwarded-For": fmt.Sprintf("10.0.0.%d", i),
				"X-Real-IP":       fmt.Sprintf("10.1.0.%d", i),
			})
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}
}

func TestVote_TrustedProxyForwardsClientAddress(t *testing.T) {
	s := newTestServer(t, nil, func(d *deps.Dependencies) {
		proxies, err := util.ParseTrustedProxies([]string{"127.0.0.0/8", "::1"})
		require.NoError(t, err)
		d.Proxies = proxies
	})
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}, "max_votes_per_network": 1})

	voteFrom := func(device, forwarded string) int {
		resp, _ := s.do(t, http.MethodPost, "/polls/"+poll.ID.String()+"/votes",
			map[string]interface{}{"option_index": 0, "device_id": device},
			map[string]string{"X-Forwarded-For": forwarded})
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusCreated, voteFrom("d1", "198.51.100.20"))
	assert.Equal(t, http.StatusCreated, voteFrom("d2", "198.51.100.21"))
	assert.Equal(t, http.StatusTooManyRequests, voteFrom("d3", "198.51.100.20"))
	// A hop prepended by the client does not hide the address the proxy saw.
	assert.Equal(t, http.StatusTooManyRequests, voteFrom("d4", "203.0.113.77, 198.51.100.21"))
}

func TestVote_Rejections(t *testing.T) {
	s := newTestServer(t, nil)
	open := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}})

	past := time.Now().Add(-time.Minute)
	closed, err := s.api.Deps.Store.CreatePoll(context.Background(), model.Poll{
		Question: "old",
		Options:  []string{"A", "B"},
		Settings: model.PollSettings{ClosesAt: &past},
	})
	require.NoError(t, err)

	testCases := []struct {
		name   string
		pollID uuid.UUID
		option int
		extra  map[string]interface{}
		code   int
		reason admission.Reason
	}{
		{"unknown poll", uuid.New(), 0, nil, http.StatusNotFound, admission.ReasonPollNotFound},
		{"closed poll", closed.ID, 0, nil, http.StatusConflict, admission.ReasonPollClosed},
		{"invalid option", open.ID, 7, nil, http.StatusBadRequest, admission.ReasonInvalidOption},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, env := s.vote(t, tc.pollID, tc.option, uuid.NewString(), tc.extra)
			require.Equal(t, tc.code, resp.StatusCode, env.Message)
			rej := decodeRejection(t, env)
			assert.Equal(t, tc.reason, rej.Reason)
			assert.False(t, rej.Retryable)
		})
	}

	resp, _ := s.vote(t, open.ID, 0, "d1", map[string]interface{}{"face_descriptor": []float64{1, 2, 3}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVote_BiometricDuplicate(t *testing.T) {
	s := newTestServer(t, nil)
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}, "max_votes_per_network": 10})

	face := make([]float64, 128)
	face[0] = 1
	resp, _ := s.vote(t, poll.ID, 0, "d1", map[string]interface{}{"face_descriptor": face})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	same := make([]float64, 128)
	same[0], same[1] = 0.99, 0.141
	resp, env := s.vote(t, poll.ID, 1, "d2", map[string]interface{}{"face_descriptor": same})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, admission.VariantBiometric, decodeRejection(t, env).Variant)
}

func TestVote_Verification(t *testing.T) {
	var success atomic.Bool
	siteverify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(verify.Outcome{Success: success.Load()})
	}))
	defer siteverify.Close()

	s := newTestServer(t, verify.New("s3cret", verify.WithURL(siteverify.URL)))
	poll := s.createPoll(t, map[string]interface{}{
		"question": "P", "options": []string{"A", "B"}, "require_verification": true, "max_votes_per_network": 10,
	})

	resp, env := s.vote(t, poll.ID, 0, "d1", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, admission.ReasonVerificationRequired, decodeRejection(t, env).Reason)

	resp, env = s.vote(t, poll.ID, 0, "d1", map[string]interface{}{"verification_token": "bad"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, admission.ReasonVerificationFailed, decodeRejection(t, env).Reason)

	success.Store(true)
	resp, _ = s.vote(t, poll.ID, 0, "d1", map[string]interface{}{"verification_token": "good"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestVote_VerificationUnavailable(t *testing.T) {
	siteverify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer siteverify.Close()

	s := newTestServer(t, verify.New("s3cret", verify.WithURL(siteverify.URL)))
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}, "require_verification": true})

	resp, env := s.vote(t, poll.ID, 0, "d1", map[string]interface{}{"verification_token": "tok"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, admission.ReasonVerificationUnavailable, decodeRejection(t, env).Reason)
}

func TestLiveResults(t *testing.T) {
	s := newTestServer(t, nil)
	poll := s.createPoll(t, map[string]interface{}{"question": "P", "options": []string{"A", "B"}})

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/polls/" + poll.ID.String() + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() model.PollResults {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg struct {
			Type string            `json:"type"`
			Data model.PollResults `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, websockets.MsgTypeResultsUpdate, msg.Type)
		return msg.Data
	}

	assert.Equal(t, 0, read().TotalVotes)
	require.Eventually(t, func() bool {
		return s.api.Deps.WebSocket.Subscribers(poll.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, _ := s.vote(t, poll.ID, 1, "d1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	update := read()
	assert.Equal(t, 1, update.TotalVotes)
	assert.Equal(t, 1, update.Options[1].Count)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/polls/"+uuid.NewString()+"/live", nil)
	assert.Error(t, err)
}
