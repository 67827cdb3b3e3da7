package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lanchat/internal/authutil"
	"lanchat/internal/message"
)

const (
	maxSendBytes   = 32 << 20
	maxImportBytes = 256 << 20
	wsWriteTimeout = 5 * time.Second
)

// TokenValidator resolves a bearer token to a user name.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type APIOptions struct {
	Addr    string
	Backend Backend
	// Auth guards every /api route and the websocket. Nil leaves them open.
	Auth    TokenValidator
	Metrics prometheus.Gatherer
	Logger  *zap.Logger
}

// APIServer exposes the chat service over HTTP and pushes sink events to
// websocket clients.
type APIServer struct {
	addr      string
	srv       *http.Server
	backend   Backend
	auth      TokenValidator
	log       *zap.Logger
	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
}

func NewAPIServer(opts APIOptions) *APIServer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	api := &APIServer{
		addr:    opts.Addr,
		backend: opts.Backend,
		auth:    opts.Auth,
		log:     opts.Logger,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	api.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           api.router(opts.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return api
}

// Handler returns the routed handler, wrapped in request logging.
func (a *APIServer) Handler() http.Handler {
	return a.srv.Handler
}

func (a *APIServer) router(metrics prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(a.authenticated)
		r.Get("/ws", a.handleWS)
		r.Route("/api", func(r chi.Router) {
			r.Get("/self", a.handleSelf)
			r.Get("/peers", a.handlePeers)
			r.Put("/active", a.handleActive)
			r.Get("/peers/{peerID}/messages", a.handleConversation)
			r.Post("/peers/{peerID}/messages", a.handleSend)
			r.Get("/peers/{peerID}/messages/{msgID}/attachment", a.handleAttachment)
			r.Get("/history/export", a.handleExport)
			r.Post("/history/import", a.handleImport)
		})
	})

	logger := httplog.NewLogger("lanchat-api", httplog.Options{JSON: true})
	return httplog.RequestLogger(logger)(r)
}

// Run serves until ctx is done.
func (a *APIServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		a.Close()
	}()
	a.log.Info("api listening", zap.String("addr", ln.Addr().String()))
	if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *APIServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.srv.Shutdown(ctx)
	a.clientsMu.Lock()
	for conn := range a.clients {
		_ = conn.Close()
		delete(a.clients, conn)
	}
	a.clientsMu.Unlock()
}

type ctxUserKey struct{}

func (a *APIServer) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			token = authutil.ParseBearer(r.Header.Get("Authorization"))
		}
		username, err := a.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserKey{}, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *APIServer) handleSelf(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.backend.Self())
}

func (a *APIServer) handlePeers(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.backend.PeerList(r.URL.Query().Get("q")))
}

func (a *APIServer) handleActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := a.backend.SetActive(req.PeerID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *APIServer) handleConversation(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.backend.Conversation(chi.URLParam(r, "peerID")))
}

type sendRequest struct {
	Kind     message.Kind `json:"kind"`
	Text     string       `json:"text,omitempty"`
	Data     []byte       `json:"data,omitempty"`
	FileName string       `json:"file_name,omitempty"`
}

type sendResponse struct {
	Message   message.Message `json:"message"`
	Delivered *bool           `json:"delivered,omitempty"`
}

// handleSend queues a message. With ?wait=1 the response carries the
// delivery outcome.
func (a *APIServer) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSendBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	payload := req.Data
	switch req.Kind {
	case "", message.Text:
		req.Kind = message.Text
		payload = []byte(req.Text)
	case message.Voice, message.Image, message.File:
	default:
		http.Error(w, "unknown kind", http.StatusBadRequest)
		return
	}
	msg, done, err := a.backend.SendMessage(chi.URLParam(r, "peerID"), req.Kind, payload, req.FileName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := sendResponse{Message: msg}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case ok := <-done:
			resp.Delivered = &ok
		case <-r.Context().Done():
			return
		}
	}
	a.writeJSON(w, http.StatusAccepted, resp)
}

func (a *APIServer) handleAttachment(w http.ResponseWriter, r *http.Request) {
	msg, ok := a.backend.Attachment(chi.URLParam(r, "peerID"), chi.URLParam(r, "msgID"))
	if !ok || len(msg.Payload) == 0 {
		http.NotFound(w, r)
		return
	}
	name := msg.FileName
	if name == "" {
		name = msg.ID
	}
	w.Header().Set("Content-Type", mimetype.Detect(msg.Payload).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(msg.Payload)))
	disposition := "inline"
	if strings.EqualFold(r.URL.Query().Get("download"), "1") {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=\"%s\"", disposition, url.PathEscape(name)))
	_, _ = w.Write(msg.Payload)
}

func (a *APIServer) handleExport(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := a.backend.Export(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="lanchat-history.zip"`)
	_, _ = w.Write(buf.Bytes())
}

func (a *APIServer) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		http.Error(w, "bundle too large", http.StatusRequestEntityTooLarge)
		return
	}
	n, err := a.backend.Import(bytes.NewReader(data), int64(len(data)))
	if err != nil && n == 0 {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"conversations": n})
}

func (a *APIServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Debug("ws upgrade", zap.Error(err))
		return
	}
	a.register(conn)
	a.sendEventTo(conn, apiEvent{Kind: "peers", Peers: a.backend.PeerList("")})
	go a.readLoop(conn)
}

func (a *APIServer) register(conn *websocket.Conn) {
	a.clientsMu.Lock()
	a.clients[conn] = struct{}{}
	a.clientsMu.Unlock()
}

func (a *APIServer) unregister(conn *websocket.Conn) {
	a.clientsMu.Lock()
	delete(a.clients, conn)
	a.clientsMu.Unlock()
	_ = conn.Close()
}

// readLoop feeds each text frame to the command line handler.
func (a *APIServer) readLoop(conn *websocket.Conn) {
	defer a.unregister(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		line := strings.TrimSpace(string(data))
		if line == "" {
			continue
		}
		a.backend.ProcessLine(line)
	}
}

func (a *APIServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Debug("json write", zap.Error(err))
	}
}

type apiEvent struct {
	Kind         string           `json:"kind"`
	PeerID       string           `json:"peer_id,omitempty"`
	Message      *message.Message `json:"message,omitempty"`
	Text         string           `json:"text,omitempty"`
	Peers        []Presence       `json:"peers,omitempty"`
	Notification *Notification    `json:"notification,omitempty"`
}

func (a *APIServer) sendEvent(evt apiEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		a.log.Warn("api event encode", zap.Error(err))
		return
	}
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	for conn := range a.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			a.log.Debug("ws send", zap.Error(err))
			delete(a.clients, conn)
			_ = conn.Close()
		}
	}
}

func (a *APIServer) sendEventTo(conn *websocket.Conn, evt apiEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (a *APIServer) ShowMessage(peerID string, msg message.Message) {
	a.sendEvent(apiEvent{Kind: "message", PeerID: peerID, Message: &msg})
}

func (a *APIServer) ShowSystem(text string) {
	a.sendEvent(apiEvent{Kind: "system", Text: text})
}

func (a *APIServer) UpdatePeers(peers []Presence) {
	a.sendEvent(apiEvent{Kind: "peers", Peers: peers})
}

func (a *APIServer) ShowNotification(n Notification) {
	a.sendEvent(apiEvent{Kind: "notification", PeerID: n.PeerID, Notification: &n})
}
