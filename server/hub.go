package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kumocha/censord/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // External clients are not browsers
	},
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames. FIFO order is the per-connection
	// reply order. Never closed; done signals the end of the connection.
	send chan []byte

	// Closed exactly once when the client is dropped, by the hub or by the
	// read loop ending. writePump exits on it and enqueue refuses after it.
	done     chan struct{}
	doneOnce sync.Once

	// Log correlation ID, assigned at upgrade time.
	uuid uuid.UUID

	// Identity presented in the last valid frame. Guarded by hub.mu.
	clientID string

	// Set once the first frame is processed successfully and the client
	// becomes eligible for broadcasts.
	registered bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
		uuid: uuid.New(),
	}
}

// shutdown marks the client dropped. Safe to call from any goroutine, any
// number of times.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// enqueue queues an outbound frame. Returns false if the client has been
// dropped; the frame is discarded in that case.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	}
}

// Hub maintains the set of active clients and pushes whitelist updates to
// them. Registration and broadcast fan-out are serialized in Run.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	config     *Config
	mu         sync.Mutex

	// OnWhitelistRequest receives the decoded payload of every
	// WHITELIST_REQUEST frame. Wired to the whitelist service at startup.
	OnWhitelistRequest func(model.WhitelistRequest) error
}

func NewHub(config *Config) *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		config:     config,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			client.shutdown()
		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// A saturated client must not stall delivery to the
					// rest; drop it.
					client.shutdown()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount reports the number of broadcast-eligible connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ClientIDs lists the identities of registered connections.
func (h *Hub) ClientIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.clients))
	for client := range h.clients {
		ids = append(ids, client.clientID)
	}
	return ids
}

// Kick disconnects every registered connection presenting the given
// identity. Returns true if any connection was dropped.
func (h *Hub) Kick(clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	kicked := false
	for client := range h.clients {
		if client.clientID == clientID {
			client.shutdown()
			client.conn.Close()
			delete(h.clients, client)
			kicked = true
		}
	}
	return kicked
}

// BroadcastUpdate pushes a WHITELIST_UPDATE frame, sent under the server's
// own identity, to every registered connection. Best effort; per-connection
// failures drop that connection only.
func (h *Hub) BroadcastUpdate(word string, isUsername bool) {
	response := model.RelayResponse{
		ID:        h.config.ServerID,
		Timestamp: serverTimestamp(),
		Message:   model.ResponseWhitelistUpdate,
		Data:      &model.UpdateData{Word: word, IsUsername: isUsername},
	}
	frame, err := json.Marshal(response)
	if err != nil {
		log.Printf("[WS] Broadcast marshal failed: %v", err)
		return
	}
	h.broadcast <- frame
	log.Printf("[WS] Broadcast {word: %q, is_username: %v}", word, isUsername)
}

// serverTimestamp is the fallback for frames that carry no timestamp of
// their own, unique per call at clock resolution.
func serverTimestamp() string {
	return fmt.Sprintf("servermsg_%d", time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.shutdown()
		c.conn.Close()
		log.Printf("[WS] Handler passed (%s)", c.uuid)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error (%s): %v", c.uuid, err)
			}
			break
		}

		if !c.processFrame(frame) {
			break
		}
	}
}

// processFrame runs the per-frame pipeline: parse, auth, function, dispatch,
// reply. Every frame is re-validated in full; a connection holds no standing
// trust beyond per-message checks. Returns false once the connection has
// been closed for a protocol violation.
func (c *Client) processFrame(frame []byte) bool {
	var msg model.RelayMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.closeWithViolation("Invalid JSON")
		return false
	}

	if !c.hub.config.IsAuthorizedClient(msg.ID) {
		c.closeWithViolation("Invalid Auth")
		return false
	}

	function, err := model.ParseFunction(msg.Function)
	if err != nil {
		c.closeWithViolation("Invalid Function")
		return false
	}

	timestamp := msg.Timestamp
	if timestamp == "" {
		timestamp = serverTimestamp()
	}

	responseType := model.ResponseComplete
	switch function {
	case model.FunctionAuth:
		log.Printf("[WS] Authed %s (%s)", msg.ID, c.uuid)
		responseType = model.ResponseAuthSuccess
	case model.FunctionWhitelistRequest:
		var request model.WhitelistRequest
		if len(msg.Data) > 0 {
			// Tolerant decode; absent fields stay zero-valued.
			if err := json.Unmarshal(msg.Data, &request); err != nil {
				log.Printf("[WS] Whitelist request data undecodable from %s: %v", msg.ID, err)
			}
		}
		log.Printf("[WS] Whitelist request from %s: %v", msg.ID, request.Requests)
		if c.hub.OnWhitelistRequest != nil {
			if err := c.hub.OnWhitelistRequest(request); err != nil {
				log.Printf("[WS] Whitelist request failed: %v", err)
			}
		}
	}

	response := model.RelayResponse{
		ID:        msg.ID,
		Timestamp: timestamp,
		Message:   responseType,
	}
	reply, err := json.Marshal(response)
	if err != nil {
		log.Printf("[WS] Reply marshal failed: %v", err)
		return true
	}
	if !c.enqueue(reply) {
		// Dropped by the hub while the frame was in flight.
		return false
	}

	c.hub.mu.Lock()
	c.clientID = msg.ID
	c.hub.mu.Unlock()
	if !c.registered {
		c.hub.register <- c
		c.registered = true
	}
	return true
}

// closeWithViolation ends the connection with close code 1003 and a reason
// naming the violation. Fatal for the connection, never for the process.
func (c *Client) closeWithViolation(reason string) {
	log.Printf("[WS] Closing %s: %s", c.uuid, reason)
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseUnsupportedData, reason), deadline)
	c.conn.Close()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// One websocket frame per logical message; queued frames are
			// never coalesced.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs handles websocket requests from external clients.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	client := newClient(hub, conn)

	// The client joins the registry only after its first valid frame; until
	// then it receives replies but no broadcasts.
	go client.writePump()
	go client.readPump()
}
