package webchat

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Router mounts the relay handlers on a ServeMux.
type Router struct {
	relay    RelayService
	pool     *ConnectionPool
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

type RouterOption func(*Router)

func WithUpgrader(u websocket.Upgrader) RouterOption {
	return func(r *Router) {
		r.upgrader = u
	}
}

func NewRouter(svc RelayService, pool *ConnectionPool, opts ...RouterOption) (*Router, error) {
	if svc == nil {
		return nil, errors.New("webchat: relay service is nil")
	}
	if pool == nil {
		pool = NewConnectionPool("ws")
	}
	r := &Router{
		relay: svc,
		pool:  pool,
		// Any origin may connect, matching the CORS policy of the HTTP routes.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.mux.HandleFunc("POST /{$}", NewChatHTTPHandler(r.relay))
	r.mux.HandleFunc("POST /reset", NewResetHTTPHandler(r.relay))
	r.mux.HandleFunc("GET /transcript", NewTranscriptHTTPHandler(r.relay))
	r.mux.HandleFunc("GET /ws", NewWSHTTPHandler(r.pool, r.upgrader))
	return r, nil
}

func (r *Router) Pool() *ConnectionPool { return r.pool }

// Handler returns the mux wrapped in the request id and CORS middleware.
func (r *Router) Handler() http.Handler {
	return WithRequestID(WithCORS(r.mux))
}
