package collab

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"collab-service/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// verifyTimeout bounds the identity check so a slow verifier rejects the
// connection instead of hanging the handshake.
const verifyTimeout = 3 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:3000",
			"https://localhost:3000",
			"http://127.0.0.1:3000",
		}
		if customOrigins := os.Getenv("ALLOWED_ORIGINS"); customOrigins != "" {
			for _, customOrigin := range strings.Split(customOrigins, ",") {
				allowedOrigins = append(allowedOrigins, strings.TrimSpace(customOrigin))
			}
		}

		for _, allowedOrigin := range allowedOrigins {
			if origin == allowedOrigin {
				return true
			}
		}

		// Non-browser clients send no Origin header.
		return origin == ""
	},
}

// Handler is the connection gate: it authenticates the handshake and hands
// accepted sockets to the hub.
type Handler struct {
	hub            *Hub
	verifier       auth.TokenVerifier
	cursorThrottle time.Duration
}

func NewHandler(hub *Hub, verifier auth.TokenVerifier, cursorThrottle time.Duration) *Handler {
	return &Handler{hub: hub, verifier: verifier, cursorThrottle: cursorThrottle}
}

// extractToken pulls the bearer credential from the handshake request,
// checking the token query parameter first, then the Authorization header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return strings.TrimPrefix(token, "Bearer ")
	}

	authHeader := r.Header.Get("Authorization")
	if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}

	return ""
}

// ServeWS upgrades an authenticated request to a collaboration connection.
// A missing or invalid credential terminates the handshake with a generic
// rejection; the reason is never leaked to the client.
func (h *Handler) ServeWS(c *gin.Context) {
	token := extractToken(c.Request)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
	defer cancel()

	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		slog.Warn("Connection rejected", "remoteAddr", c.Request.RemoteAddr, "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection",
			"remoteAddr", c.Request.RemoteAddr, "error", err)
		return
	}

	client := NewClient(h.hub, conn, *identity, h.cursorThrottle)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}
