package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pingme/pingme-server/internal/model"
	"github.com/pingme/pingme-server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// bearerToken reads the credential for a websocket handshake: the
// Authorization header takes precedence, the token query parameter is
// the fallback for clients that cannot set headers.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}

// ChatSocket upgrades the connection and hands it to a Session, which
// runs the authenticate/join/relay/leave machine until the peer goes
// away.
func ChatSocket(deps session.Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		threadID := model.ThreadID(c.Param("threadID"))

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		session.New(conn, token, threadID, deps).Run()
		return nil
	}
}

// EchoSocket is the unauthenticated connectivity probe.
func EchoSocket() echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		greeting, _ := json.Marshal(map[string]string{"msg": "Connected to PingMe Echo Server"})
		if err := conn.WriteMessage(websocket.TextMessage, greeting); err != nil {
			return nil
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return nil
			}
			reply, _ := json.Marshal(map[string]string{"echo": string(data)})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return nil
			}
		}
	}
}
