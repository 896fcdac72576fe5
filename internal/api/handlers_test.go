package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"dcode.dev/mentor-hub/internal/auth"
	"dcode.dev/mentor-hub/internal/config"
	"dcode.dev/mentor-hub/internal/core"
	"dcode.dev/mentor-hub/internal/kv"
	"dcode.dev/mentor-hub/internal/store"
)

const testPassword = "password123"

type testServer struct {
	*httptest.Server
	sessions *SessionManager
	hub      *kv.MemoryHub
	requests *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithTTL(t, time.Hour)
}

func newTestServerWithTTL(t *testing.T, ttl time.Duration) *testServer {
	t.Helper()
	config.AppConfig.JWTSecret = "test-secret"
	logger := zaptest.NewLogger(t)

	hub := kv.NewMemoryHub()
	t.Cleanup(func() { hub.Close() })

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	seed, err := hub.Open(context.Background())
	require.NoError(t, err)
	require.True(t, store.NewAdapter(seed, logger).SaveUsers(context.Background(), []store.UserProfile{
		{ID: "mentor_ada", Name: "Ada", Role: store.RoleMentor, Skills: []string{"Go"}, Interests: []string{"Compilers"}, Password: hash, MentorStats: &store.MentorStats{}},
		{ID: "mentee_bob", Name: "Bob", Role: store.RoleMentee, Skills: []string{"React"}, Interests: []string{"Open Source"}, Password: hash},
	}))
	require.NoError(t, seed.Close())

	sessions := NewSessionManager(core.Deps{
		Opener:        hub,
		Gateway:       core.NewGateway(nil, logger),
		Communities:   core.NewCommunityService(logger),
		Bookings:      core.NewBookingService(logger),
		TypingTimeout: time.Minute,
		Logger:        logger,
	}, ttl, logger)
	t.Cleanup(func() { sessions.CloseAll(context.Background()) })

	// Websocket handlers can return after the test ends, so the handler logs
	// to an observer rather than to t.
	observed, requests := observer.New(zapcore.InfoLevel)
	srv := httptest.NewServer(NewRouter(NewAPIHandler(sessions, zap.New(observed))))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, sessions: sessions, hub: hub, requests: requests}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) login(t *testing.T, userID string) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: userID, Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[SessionResponse](t, resp).Token
}

func TestLoginHandler(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: "mentee_bob", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: "mentee_bob"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, srv.sessions.Count(), "failed logins leave no session behind")

	resp = srv.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: "mentee_bob", Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[SessionResponse](t, resp)
	assert.NotEmpty(t, got.Token)
	assert.Equal(t, "mentee_bob", got.User.ID)
	assert.Empty(t, got.User.Password, "hashes never leave the server")
	assert.Equal(t, core.ViewDashboard, got.State.View)

	resp = srv.do(t, http.MethodGet, "/api/state", got.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/state", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/state", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return srv.requests.FilterMessage("Request rejected").FilterField(zap.String("path", "/api/state")).Len() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSignupHandler(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodPost, "/api/signup", "", core.SignupInput{Name: "Grace", Role: store.RoleMentor, Password: "short", ConfirmPassword: "short", Skills: []string{"Go"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/signup", "", core.SignupInput{
		Name: "Grace", Role: store.RoleMentor, Password: testPassword, ConfirmPassword: testPassword,
		Skills: []string{"Go"}, Interests: []string{"Compilers"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decodeBody[SessionResponse](t, resp)
	assert.True(t, strings.HasPrefix(got.User.ID, "mentor_"))

	resp = srv.do(t, http.MethodGet, "/api/directory", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	users := decodeBody[[]store.UserProfile](t, resp)
	assert.Len(t, users, 3)
}

func TestConversationFlow(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")
	ada := srv.login(t, "mentor_ada")

	resp := srv.do(t, http.MethodPost, "/api/conversations", bob, StartChatRequest{ParticipantIDs: []string{"mentor_ada"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decodeBody[StartChatResponse](t, resp).ConversationID
	assert.Equal(t, "mentee_bob-mentor_ada", id)

	resp = srv.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", bob, TextRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/conversations/"+id+"/messages", bob, TextRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp := srv.do(t, http.MethodGet, "/api/state", ada, nil)
		return decodeBody[core.ViewState](t, resp).UnreadCount == 1
	}, time.Second, 10*time.Millisecond)

	resp = srv.do(t, http.MethodGet, "/api/conversations", ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summaries := decodeBody[[]core.ConversationSummary](t, resp)
	require.Len(t, summaries, 1)
	assert.Equal(t, "Bob", summaries[0].Title)

	resp = srv.do(t, http.MethodPost, "/api/conversations/"+id+"/open", ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeBody[core.ViewState](t, resp)
	assert.Equal(t, core.ViewChat, state.View)
	assert.Zero(t, state.UnreadCount)

	resp = srv.do(t, http.MethodGet, "/api/conversations/missing", ada, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/conversations", ada, StartChatRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestNavigateHandler(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")

	resp := srv.do(t, http.MethodPost, "/api/navigate", bob, NavigateRequest{View: core.ViewMentors})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.ViewMentors, decodeBody[core.ViewState](t, resp).View)

	resp = srv.do(t, http.MethodPost, "/api/navigate", bob, NavigateRequest{View: "nowhere"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMentorsAndBookingHandlers(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")

	resp := srv.do(t, http.MethodGet, "/api/mentors?skill=Go", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mentors := decodeBody[[]store.UserProfile](t, resp)
	require.Len(t, mentors, 1)
	assert.Equal(t, "mentor_ada", mentors[0].ID)

	resp = srv.do(t, http.MethodPost, "/api/mentors/mentor_ada/rating", bob, RateRequest{Rating: 6})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/mentors/mentor_ada/rating", bob, RateRequest{Rating: 5})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/mentors/mentor_ada/availability?date=tomorrow", bob, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/mentors/mentor_ghost/availability?date=2030-06-18", bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = srv.do(t, http.MethodGet, "/api/mentors/mentor_ada/availability?date=2030-06-18", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := decodeBody[map[string][]string](t, resp)["slots"]
	require.NotEmpty(t, slots)

	resp = srv.do(t, http.MethodPost, "/api/mentors/mentor_ada/bookings", bob, BookRequest{Date: "2030-06-18", Slot: slots[0]})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/mentors/mentor_ada/bookings", bob, BookRequest{Date: "2030-06-18", Slot: slots[0]})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/me/bookings", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.Booking](t, resp), 1)
}

func TestCommunityHandlers(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")

	resp := srv.do(t, http.MethodPost, "/api/communities", bob, CreateCommunityRequest{Name: "Gophers"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decodeBody[store.Community](t, resp)

	resp = srv.do(t, http.MethodPost, "/api/communities/"+c.ID+"/posts", bob, TextRequest{Text: "hello"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	post := decodeBody[store.CommunityPost](t, resp)

	resp = srv.do(t, http.MethodPost, "/api/communities/"+c.ID+"/posts/"+post.ID+"/replies", bob, TextRequest{Text: "reply"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = srv.do(t, http.MethodPost, "/api/communities/"+c.ID+"/posts/missing/replies", bob, TextRequest{Text: "reply"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/communities/"+c.ID, bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[store.Community](t, resp)
	require.Len(t, got.Posts, 1)
	assert.Len(t, got.Posts[0].Replies, 1)

	resp = srv.do(t, http.MethodGet, "/api/state", bob, nil)
	assert.Equal(t, c.ID, decodeBody[core.ViewState](t, resp).ActiveCommunityID)
}

func TestAssistantHandler(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")

	resp := srv.do(t, http.MethodPost, "/api/assistant/messages", bob, TextRequest{Text: "How do I start?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reply := decodeBody[store.ChatMessage](t, resp)
	assert.Equal(t, core.AssistantSenderID, reply.SenderID)

	resp = srv.do(t, http.MethodGet, "/api/assistant", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]store.ChatMessage](t, resp), 2)
}

func TestLogoutHandler(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")

	resp := srv.do(t, http.MethodPost, "/api/logout", bob, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, srv.sessions.Count())

	resp = srv.do(t, http.MethodGet, "/api/state", bob, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsHandler(t *testing.T) {
	srv := newTestServer(t)
	bob := srv.login(t, "mentee_bob")
	ada := srv.login(t, "mentor_ada")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?token=" + ada
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := srv.do(t, http.MethodPost, "/api/conversations", bob, StartChatRequest{ParticipantIDs: []string{"mentor_ada"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var e core.Event
		require.NoError(t, conn.ReadJSON(&e))
		if e.Type == core.EventConversationsReplaced {
			break
		}
	}

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	assert.Error(t, err, "the event stream needs a token")
}

func TestSessionManager_ExpiredSessionsAreClosed(t *testing.T) {
	srv := newTestServerWithTTL(t, 50*time.Millisecond)
	handles := srv.hub.Handles()
	bob := srv.login(t, "mentee_bob")
	require.Equal(t, 1, srv.sessions.Count())
	assert.Equal(t, handles+1, srv.hub.Handles())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, srv.sessions.Sweep(context.Background()))
	assert.Zero(t, srv.sessions.Count())
	assert.Equal(t, handles, srv.hub.Handles(), "the store handle is released")

	resp := srv.do(t, http.MethodGet, "/api/state", bob, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionManager_GetClosesExpiredSession(t *testing.T) {
	srv := newTestServerWithTTL(t, 50*time.Millisecond)
	resp := srv.do(t, http.MethodPost, "/api/login", "", LoginRequest{UserID: "mentee_bob", Password: testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := decodeBody[SessionResponse](t, resp).Token
	claims, err := auth.ValidateJWT(token)
	require.NoError(t, err)
	s, ok := srv.sessions.Get(claims.SessionID)
	require.True(t, ok)

	time.Sleep(80 * time.Millisecond)
	_, ok = srv.sessions.Get(claims.SessionID)
	assert.False(t, ok)
	assert.True(t, s.Closed())
	assert.Zero(t, srv.sessions.Count())
}

func TestSessionManager_Sweeper(t *testing.T) {
	srv := newTestServerWithTTL(t, 30*time.Millisecond)
	srv.sessions.StartSweeper(10 * time.Millisecond)
	srv.login(t, "mentee_bob")

	assert.Eventually(t, func() bool { return srv.sessions.Count() == 0 }, time.Second, 10*time.Millisecond)
}
