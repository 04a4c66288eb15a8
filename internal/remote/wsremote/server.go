package wsremote

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/remote"
)

// Server serves a Node to websocket clients.
type Server struct {
	node     *remote.Node
	log      *zap.SugaredLogger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewServer returns a server for node. The returned router can take extra
// routes such as /metrics before it is served.
func NewServer(node *remote.Node, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		node:  node,
		log:   log,
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/ws/users/{user}", s.handleUser).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// Router returns the server's router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// CloseConnections drops every open websocket. Clients see a transport
// error and redial.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Connections returns the number of open websockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := unescape(mux.Vars(r)["user"])
	if err != nil || user == "" {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("Websocket upgrade failed", "user", user, "error", err)
		return
	}
	s.track(conn, true)
	defer s.track(conn, false)
	defer conn.Close()

	s.log.Debugw("Client attached", "user", user, "remote_addr", r.RemoteAddr)

	var writeMu sync.Mutex
	send := func(f frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}

	sub := s.node.Subscribe(user)
	defer sub.Close()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for u := range sub.Updates() {
			f := frame{Type: typeDoc, Doc: u.Doc}
			if u.Err != nil {
				f = frame{Type: typeError, Error: u.Err.Error()}
			}
			if err := send(f); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugw("Client read ended", "user", user, "error", err)
			}
			break
		}
		if f.Type != typeWrite {
			continue
		}

		ack := frame{Type: typeAck, ID: f.ID}
		if err := s.node.Write(r.Context(), user, f.Path, f.Value); err != nil {
			ack.Error = err.Error()
			s.log.Infow("Write rejected", "user", user, "path", f.Path, "error", err)
		}
		if err := send(ack); err != nil {
			break
		}
	}

	sub.Close()
	<-pumpDone
	s.log.Debugw("Client detached", "user", user)
}

func (s *Server) track(c *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}
