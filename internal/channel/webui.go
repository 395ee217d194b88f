package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/stellarlinkco/plusbot/internal/bus"
	"github.com/stellarlinkco/plusbot/internal/config"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName = "webui"
	webUIRoom        = "lobby"
)

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	// User is the display handle a client picks; it is optional.
	User string `json:"user,omitempty"`
	// Direct marks a private reply.
	Direct bool `json:"direct,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// WebUIChannel is a browser chat room served over a websocket. Every
// connected client shares one room; "@<bot name>" mentions the bot.
type WebUIChannel struct {
	BaseChannel
	host    string
	port    int
	botRef  string
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, botName string, b *bus.MessageBus) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	if botName == "" {
		botName = config.DefaultBotName
	}

	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		host:        gwCfg.Host,
		port:        port,
		botRef:      "@" + botName,
	}
	return ch, nil
}

// Handler serves the static page and the /ws endpoint.
func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	handler, err := w.Handler()
	if err != nil {
		return err
	}
	w.setContext(ctx)

	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[webui] listening on %s", w.server.Addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[webui] server error: %v", err)
		}
	}()

	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	log.Printf("[webui] client connected: %s", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Type != "message" || msg.Content == "" {
			continue
		}

		if !w.IsAllowed(clientID) {
			log.Printf("[webui] rejected message from %s", clientID)
			continue
		}

		w.publish(w.inbound(clientID, msg))
	}
}

func (w *WebUIChannel) inbound(clientID string, msg wsMessage) bus.InboundMessage {
	eventType := typeMessage
	if strings.Contains(strings.ToLower(msg.Content), strings.ToLower(w.botRef)) {
		eventType = typeAppMention
	}
	senderRef := "<@" + clientID + ">"
	user := strings.TrimPrefix(strings.TrimSpace(msg.User), "@")
	if user != "" {
		senderRef = "@" + user
	}
	return bus.InboundMessage{
		Type:       eventType,
		SenderID:   clientID,
		SenderName: user,
		SenderRef:  senderRef,
		ChatID:     webUIRoom,
		BotRef:     w.botRef,
		Content:    msg.Content,
		Timestamp:  time.Now(),
	}
}

// Send writes a direct reply to its user's socket and broadcasts everything else.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{
		Type:    "message",
		Content: msg.Content,
		Direct:  msg.Direct,
	})
	if err != nil {
		return err
	}

	target := msg.ChatID
	if msg.Direct {
		target = msg.UserID
	}
	client, ok := w.clients.Load(target)
	if !ok {
		if msg.Direct {
			return fmt.Errorf("webui client %q not connected", target)
		}
		w.clients.Range(func(key, value any) bool {
			c := value.(*wsClient)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			return true
		})
		return nil
	}

	c := client.(*wsClient)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
