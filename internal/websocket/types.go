package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Client represents a connected browser.
type Client struct {
	conn         *websocket.Conn
	send         chan []byte
	remoteAddr   string
	lastActivity time.Time
}

// Message types sent to browsers.
const (
	TypeReload = "reload"
	TypeError  = "error"
)

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
