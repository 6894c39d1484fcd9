package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/opsdeck/opsdeck-backend/internal/bus"
	"github.com/opsdeck/opsdeck-backend/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers connect from the dashboard origin; CORS policy is enforced
	// by the HTTP middleware, the upgrade itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

// streamAuth validates the JWT from the Authorization header or, since
// browser websockets cannot set headers, from ?token=.
func streamAuth(c *gin.Context) bool {
	tokenString := c.Query("token")
	if tokenString == "" {
		auth := c.GetHeader("Authorization")
		parts := strings.Split(auth, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenString = parts[1]
		}
	}
	if tokenString == "" {
		return false
	}
	secret, err := utils.GetJwtSecretBytes()
	if err != nil {
		return false
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	return err == nil && token.Valid
}

// EventStream upgrades to a websocket and forwards every bus event (scan,
// agent run, alert) to the client as JSON.
func EventStream(c *gin.Context) {
	if !streamAuth(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "valid token required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	AddStreamClients(1)
	defer AddStreamClients(-1)
	defer conn.Close()

	// Events arrive from bus goroutines; a single writer goroutine owns the
	// connection, fed by this channel. Slow clients get dropped, not buffered
	// without bound.
	events := make(chan bus.Event, 64)
	var unsubs []func()
	for _, topic := range bus.Topics {
		unsub, err := evbus.Subscribe(topic, func(ctx context.Context, e bus.Event) {
			select {
			case events <- e:
			default:
			}
		})
		if err != nil {
			log.Printf("event stream subscribe %s failed: %v", topic, err)
			continue
		}
		unsubs = append(unsubs, unsub)
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	// Reader goroutine only detects disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case e := <-events:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
