package calib

import (
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // display clients run on the station LAN
	},
}

const (
	// keyPollInterval is how often WaitKeys checks the key queue.
	keyPollInterval = 10 * time.Millisecond
	// DefaultFrameRate paces Flip like a display refresh.
	DefaultFrameRate = 60
)

// RemoteFrame is what a RemoteDisplay sends to its clients on every Flip.
type RemoteFrame struct {
	Frame      int           `json:"frame"`
	Resolution Resolution    `json:"resolution"`
	Commands   []DrawCommand `json:"commands"`
	Timestamp  int64         `json:"timestamp"`
}

type keyMessage struct {
	Key string `json:"key"`
}

// RemoteDisplay is a Renderer whose screen is a browser on the other end of a
// websocket. Each Flip broadcasts the frame's draw commands as JSON; clients
// send back key presses as {"key":"c"} or a bare key string.
type RemoteDisplay struct {
	resolution    Resolution
	frameInterval time.Duration

	mu       sync.Mutex
	lastFlip time.Time
	clients  map[*websocket.Conn]bool
	pending  []DrawCommand
	frame    int
	last     []byte
	keys     []string
	err      error
}

// NewRemoteDisplay creates a remote display for a screen of the given size.
func NewRemoteDisplay(res Resolution) *RemoteDisplay {
	return &RemoteDisplay{
		resolution:    res,
		frameInterval: time.Second / DefaultFrameRate,
		clients:       make(map[*websocket.Conn]bool),
	}
}

// SetFrameRate changes how often Flip may present; zero or less disables
// pacing.
func (d *RemoteDisplay) SetFrameRate(fps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fps <= 0 {
		d.frameInterval = 0
		return
	}
	d.frameInterval = time.Second / time.Duration(fps)
}

// ServeHTTP upgrades the request to a websocket, sends the current frame and
// queues the keys the client sends until it disconnects.
func (d *RemoteDisplay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	d.mu.Lock()
	d.clients[conn] = true
	if d.last != nil {
		if err := conn.WriteMessage(websocket.TextMessage, d.last); err != nil {
			log.Printf("Error sending frame to %s: %v", conn.RemoteAddr(), err)
		}
	}
	count := len(d.clients)
	d.mu.Unlock()
	log.Printf("Display client connected from %s (%d connected)", conn.RemoteAddr(), count)

	defer func() {
		d.mu.Lock()
		delete(d.clients, conn)
		d.mu.Unlock()
		log.Printf("Display client %s disconnected", conn.RemoteAddr())
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if key := parseKeyMessage(msg); key != "" {
			d.PressKey(key)
		}
	}
}

func parseKeyMessage(msg []byte) string {
	var km keyMessage
	if err := json.Unmarshal(msg, &km); err == nil {
		return km.Key
	}
	return strings.TrimSpace(string(msg))
}

// PressKey queues a key as if a client had sent it.
func (d *RemoteDisplay) PressKey(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
}

// Draw queues cmd for the next Flip.
func (d *RemoteDisplay) Draw(cmd DrawCommand) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, cmd)
}

// Flip sends the queued commands to every connected client and blocks until
// the next refresh slot. Clients whose write fails are dropped; a frame with
// no clients is kept for the next one to connect.
func (d *RemoteDisplay) Flip() error {
	if wait := d.broadcast(); wait > 0 {
		time.Sleep(wait)
	}
	return d.flipErr()
}

func (d *RemoteDisplay) flipErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.err
	d.err = nil
	return err
}

// broadcast sends the pending frame and returns how long to wait before the
// next one.
func (d *RemoteDisplay) broadcast() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	var wait time.Duration
	now := time.Now()
	if d.frameInterval > 0 && !d.lastFlip.IsZero() {
		wait = d.frameInterval - now.Sub(d.lastFlip)
	}
	d.lastFlip = now.Add(max(wait, 0))

	d.frame++
	msg, err := json.Marshal(RemoteFrame{
		Frame:      d.frame,
		Resolution: d.resolution,
		Commands:   d.pending,
		Timestamp:  time.Now().UnixMilli(),
	})
	d.pending = nil
	if err != nil {
		d.err = err
		return wait
	}
	d.last = msg

	for conn := range d.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("Error sending frame to %s: %v", conn.RemoteAddr(), err)
			delete(d.clients, conn)
		}
	}
	return wait
}

// GetKeys drains the queue and returns the keys among candidates. Other keys
// are discarded, like presses a window ignores.
func (d *RemoteDisplay) GetKeys(candidates []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []string
	for _, k := range d.keys {
		if slices.Contains(candidates, k) {
			out = append(out, k)
		}
	}
	d.keys = nil
	return out
}

// WaitKeys polls until a candidate key arrives or timeout elapses. A zero
// timeout waits forever.
func (d *RemoteDisplay) WaitKeys(candidates []string, timeout time.Duration) []string {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if keys := d.GetKeys(candidates); len(keys) > 0 {
			return keys
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		time.Sleep(keyPollInterval)
	}
}

// Clients returns the number of connected display clients.
func (d *RemoteDisplay) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// LastFrame returns the most recent frame message, or nil before the first
// Flip.
func (d *RemoteDisplay) LastFrame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
