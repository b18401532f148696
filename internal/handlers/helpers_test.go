package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pingme/pingme-server/internal/boot"
	"github.com/pingme/pingme-server/internal/chatstore"
	"github.com/pingme/pingme-server/internal/hub"
	"github.com/pingme/pingme-server/internal/model"
	"github.com/pingme/pingme-server/internal/service/auth"
	"github.com/pingme/pingme-server/internal/service/ledger"
	"github.com/pingme/pingme-server/internal/service/presence"
	"github.com/pingme/pingme-server/internal/service/router"
	"github.com/pingme/pingme-server/internal/session"
)

const frameWait = 2 * time.Second
const silenceWait = 300 * time.Millisecond

type authService interface {
	AuthService
	Issue(user *model.User) (string, error)
}

type testServer struct {
	srv      *httptest.Server
	store    *chatstore.Store
	registry *hub.Registry
	tracker  *presence.Tracker
	auth     authService
	mediaDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	config := &boot.Config{
		DataDirectory:  t.TempDir(),
		MediaDirectory: t.TempDir(),
		JWTSecret:      "test-secret",
		TokenTTL:       time.Hour,
	}

	store, err := chatstore.New(config)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	authService := auth.New(config, store)
	tracker := presence.NewTracker(store)
	deliveryLedger := ledger.New(store)
	registry := hub.NewRegistry()
	messageRouter := router.New(store, registry)

	server := echo.New()
	deps := session.Deps{
		Validator: authService,
		Members:   store,
		Presence:  tracker,
		Ledger:    deliveryLedger,
		Router:    messageRouter,
		Registry:  registry,
		Logger:    server.Logger,
	}

	server.GET("/ws/echo", EchoSocket())
	server.GET("/ws/chat/:threadID", ChatSocket(deps))

	authGroup := server.Group("/api/auth")
	authGroup.POST("/register", Register(authService))
	authGroup.POST("/login", Login(authService))
	authGroup.GET("/me", Me(), RequireAuth(authService))
	authGroup.PATCH("/update", UpdateProfile(store), RequireAuth(authService))

	chatGroup := server.Group("/api/chat", RequireAuth(authService))
	chatGroup.GET("/", ListThreads(store, deliveryLedger))
	chatGroup.POST("/create", CreateThread(store, deliveryLedger))
	chatGroup.GET("/:threadID/messages/", ListMessages(store, deliveryLedger))
	chatGroup.POST("/:threadID/read", MarkThreadRead(store, deliveryLedger))
	chatGroup.POST("/:threadID/send", SendMessage(messageRouter))
	chatGroup.POST("/:threadID/media", UploadMedia(store, messageRouter, config.MediaDirectory))

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		store.Close()
	})

	return &testServer{
		srv:      srv,
		store:    store,
		registry: registry,
		tracker:  tracker,
		auth:     authService,
		mediaDir: config.MediaDirectory,
	}
}

func (ts *testServer) createUser(t *testing.T, handle string) (*model.User, string) {
	t.Helper()

	user, err := ts.auth.Register(&model.CreateUserParams{Handle: handle, Password: "password"})
	if err != nil {
		t.Fatalf("registering %s: %v", handle, err)
	}
	token, err := ts.auth.Issue(user)
	if err != nil {
		t.Fatalf("issuing token for %s: %v", handle, err)
	}
	return user, token
}

func (ts *testServer) dial(t *testing.T, threadID model.ThreadID, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/chat/" + string(threadID)
	if token != "" {
		url += "?token=" + token
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

// readFrame blocks for the next frame and decodes it.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(frameWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}

	frame := map[string]interface{}{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decoding frame %q: %v", data, err)
	}
	return frame
}

// expectSilence asserts no frame arrives within the silence window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(silenceWait))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %q", data)
	}
}

// expectClosed asserts the server has closed the connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(frameWait))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected closed connection, got frame %q", data)
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame interface{}) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("sending frame: %v", err)
	}
}
