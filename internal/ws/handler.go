package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shared-code-editor/backend/internal/filetype"
	"github.com/shared-code-editor/backend/internal/model"
	"github.com/shared-code-editor/backend/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxMessageSize is the largest frame accepted from a peer.
	// File uploads travel inline, so this bounds the upload size.
	DefaultMaxMessageSize = 64 << 20
)

// HandlerConfig holds transport settings for the handler.
type HandlerConfig struct {
	MaxMessageSize int64
	SendBufferSize int

	// CheckOrigin validates the Origin header of upgrade requests.
	// Nil allows every origin.
	CheckOrigin func(r *http.Request) bool
}

// Handler runs the per-connection protocol: it binds connections to
// sessions on join, applies edits to the store and fans them out to the
// other connections of the same session.
type Handler struct {
	store      *session.Store
	hubManager *HubManager
	config     HandlerConfig
	upgrader   websocket.Upgrader

	onSessionCreated func(info model.SessionInfo)
	onActivity       func(sessionID string, msgType MessageType, detail string)
	mu               sync.RWMutex
}

// NewHandler creates a new WebSocket handler.
func NewHandler(store *session.Store, hubManager *HubManager, config HandlerConfig) *Handler {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultSendBufferSize
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		store:      store,
		hubManager: hubManager,
		config:     config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// SetOnSessionCreated sets the callback invoked when a join creates a session.
func (h *Handler) SetOnSessionCreated(callback func(info model.SessionInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSessionCreated = callback
}

// SetOnActivity sets the callback invoked after every applied protocol event.
func (h *Handler) SetOnActivity(callback func(sessionID string, msgType MessageType, detail string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onActivity = callback
}

func (h *Handler) sessionCreated(info model.SessionInfo) {
	h.mu.RLock()
	callback := h.onSessionCreated
	h.mu.RUnlock()

	if callback != nil {
		callback(info)
	}
}

func (h *Handler) activity(sessionID string, msgType MessageType, detail string) {
	h.mu.RLock()
	callback := h.onActivity
	h.mu.RUnlock()

	if callback != nil {
		callback(sessionID, msgType, detail)
	}
}

// HandleConnection upgrades the HTTP connection to WebSocket and serves it
// until the peer goes away.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, h.config.SendBufferSize)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// HandleMessage processes one inbound frame. Malformed frames are logged,
// incomplete ones and anything but join on an unjoined connection are
// ignored.
func (h *Handler) HandleMessage(client *Client, data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		log.Printf("Failed to unmarshal message from %s: %v", client.ID(), err)
		return
	}
	if err := msg.Validate(); err != nil {
		return
	}

	if msg.Type != MessageTypeJoin {
		if _, _, joined := client.Binding(); !joined {
			return
		}
	}

	switch msg.Type {
	case MessageTypeJoin:
		h.handleJoin(client, msg)
	case MessageTypeLeave:
		h.handleLeave(client, msg)
	case MessageTypeContentChange:
		h.handleContentChange(client, msg)
	case MessageTypeCursorChange:
		h.handleCursorChange(client, msg)
	case MessageTypeFileUpload:
		h.handleFileUpload(client, msg)
	case MessageTypeFileDelete:
		h.handleFileDelete(client, msg)
	}
}

// handleJoin binds the client to a session, creating the session if needed.
// The joining client gets the current content and file list; everyone else
// gets a user-update.
func (h *Handler) handleJoin(client *Client, msg *Message) {
	sessionID, user := msg.SessionID, msg.User

	if boundSession, boundUser, ok := client.Binding(); ok && (boundSession != sessionID || boundUser != user.ID) {
		h.leave(client)
	}

	hub := h.hubManager.Join(sessionID, client)

	var (
		snapshot *model.Session
		created  bool
	)
	hub.Do(func() {
		snapshot, created = h.store.Join(sessionID, user)
		client.bind(hub, sessionID, user.ID)

		h.sendTo(client, NewContentMessage(sessionID, "", snapshot.Content, snapshot.Language))
		h.sendTo(client, NewFileListMessage(sessionID, snapshot.FileList()))

		if err := hub.BroadcastMessage(NewUserUpdateMessage(sessionID, user), client); err != nil {
			log.Printf("Failed to marshal user update: %v", err)
		}

		if created {
			info := snapshot.Info()
			info.PeakParticipants = 1
			h.sessionCreated(info)
		}
		h.activity(sessionID, MessageTypeJoin, user.ID)
	})

	if created {
		log.Printf("Session %s created by %s", sessionID, user.ID)
	}
}

// handleLeave ends the client's binding if it names the bound user.
func (h *Handler) handleLeave(client *Client, msg *Message) {
	sessionID, userID, ok := client.Binding()
	if !ok || sessionID != msg.SessionID || userID != msg.UserID {
		return
	}
	h.leave(client)
}

// leave removes the client's participant from its session and announces it.
func (h *Handler) leave(client *Client) {
	hub, sessionID, userID, ok := client.unbind()
	if !ok {
		return
	}

	hub.Do(func() {
		h.store.RemoveParticipant(sessionID, userID)
		if err := hub.BroadcastMessage(NewLeaveMessage(sessionID, userID), client); err != nil {
			log.Printf("Failed to marshal leave: %v", err)
		}
		h.activity(sessionID, MessageTypeLeave, userID)
	})

	h.hubManager.Leave(sessionID, client)
}

// Disconnect handles the end of a connection, graceful or not. A joined
// connection leaves its session.
func (h *Handler) Disconnect(client *Client) {
	h.leave(client)
}

func (h *Handler) handleContentChange(client *Client, msg *Message) {
	hub, userID, ok := client.boundHub(msg.SessionID)
	if !ok {
		return
	}

	content := *msg.Content
	hub.Do(func() {
		if !h.store.UpdateContent(msg.SessionID, content) {
			return
		}
		if err := hub.BroadcastMessage(NewContentMessage(msg.SessionID, userID, content, msg.Language), client); err != nil {
			log.Printf("Failed to marshal content change: %v", err)
		}
		h.activity(msg.SessionID, MessageTypeContentChange, content)
	})
}

func (h *Handler) handleCursorChange(client *Client, msg *Message) {
	hub, userID, ok := client.boundHub(msg.SessionID)
	if !ok || userID != msg.UserID {
		return
	}

	cursor := *msg.Cursor
	hub.Do(func() {
		if !h.store.UpdateParticipantCursor(msg.SessionID, userID, cursor) {
			return
		}
		if err := hub.BroadcastMessage(NewCursorMessage(msg.SessionID, userID, cursor), client); err != nil {
			log.Printf("Failed to marshal cursor change: %v", err)
		}
	})
}

func (h *Handler) handleFileUpload(client *Client, msg *Message) {
	hub, userID, ok := client.boundHub(msg.SessionID)
	if !ok {
		return
	}

	file := annotateFile(msg.File, userID)
	hub.Do(func() {
		files, ok := h.store.AddFile(msg.SessionID, file)
		if !ok {
			return
		}
		if err := hub.BroadcastMessage(NewFileListMessage(msg.SessionID, files), nil); err != nil {
			log.Printf("Failed to marshal file list: %v", err)
		}
		h.activity(msg.SessionID, MessageTypeFileUpload, file.Name)
	})
}

func (h *Handler) handleFileDelete(client *Client, msg *Message) {
	hub, _, ok := client.boundHub(msg.SessionID)
	if !ok {
		return
	}

	hub.Do(func() {
		files, removed := h.store.RemoveFile(msg.SessionID, msg.FileID)
		if files == nil {
			return
		}
		if err := hub.BroadcastMessage(NewFileListMessage(msg.SessionID, files), nil); err != nil {
			log.Printf("Failed to marshal file list: %v", err)
		}
		if removed {
			h.activity(msg.SessionID, MessageTypeFileDelete, msg.FileID)
		}
	})
}

// annotateFile fills in the presentation metadata a client left out. The
// uploader and upload time default to the sender and now.
func annotateFile(file *model.File, userID string) *model.File {
	f := file.Clone()

	info := filetype.Classify(f.Name)
	if f.Category == "" {
		f.Category = info.Category
	}
	if f.CanPreview == nil {
		canPreview := info.CanPreview
		f.CanPreview = &canPreview
	}
	if f.Warning == "" {
		if check := filetype.CheckName(f.Name); !check.Safe {
			f.Warning = check.Warning()
		} else if info.Warning != "" {
			f.Warning = info.Warning
		}
	}
	if f.UploadedBy == "" {
		f.UploadedBy = userID
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now()
	}
	return f
}

func (h *Handler) sendTo(client *Client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}
	client.Send(data)
}

// readPump pumps frames from the WebSocket connection into the handler.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.Disconnect(client)
		client.Close()
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(h.config.MaxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.HandleMessage(client, message)
	}
}

// writePump pumps queued frames to the WebSocket connection and keeps it
// alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The client was closed
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One message per frame, so the browser can JSON.parse each one.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
