package webchat

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
	"github.com/go-go-golems/dsa-tutor/pkg/persistence/chatstore"
)

const (
	ConsumerWSBroadcast = "ws-broadcast"
	ConsumerTurnArchive = "turn-archive"

	defaultShutdownTimeout = 30 * time.Second
)

// Server drives the HTTP server and the event consumers feeding the websocket pool and the
// turn archive.
type Server struct {
	router          *Router
	bus             *events.Bus
	archive         chatstore.TurnStore
	httpSrv         *http.Server
	shutdownTimeout time.Duration
}

type ServerOption func(*Server)

// WithArchive records every transcript event in store.
func WithArchive(store chatstore.TurnStore) ServerOption {
	return func(s *Server) {
		s.archive = store
	}
}

func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

func NewServer(addr string, r *Router, bus *events.Bus, opts ...ServerOption) (*Server, error) {
	if r == nil {
		return nil, errors.New("webchat: router is nil")
	}
	if bus == nil {
		return nil, errors.New("webchat: event bus is nil")
	}
	s := &Server{
		router: r,
		bus:    bus,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           r.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) HTTPServer() *http.Server {
	if s == nil {
		return nil
	}
	return s.httpSrv
}

// Run listens on the configured address and serves until ctx is done or the process receives
// SIGINT/SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.httpSrv.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil || s.httpSrv == nil {
		return errors.New("server is not initialized")
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Consumers stay subscribed until the HTTP server has drained, so events published by
	// in-flight requests are still delivered.
	consumerCtx, stopConsumers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopConsumers()

	wsConsumer, err := s.bus.Subscribe(consumerCtx, ConsumerWSBroadcast)
	if err != nil {
		_ = ln.Close()
		return err
	}
	var archiveConsumer *events.Consumer
	if s.archive != nil {
		archiveConsumer, err = s.bus.Subscribe(consumerCtx, ConsumerTurnArchive)
		if err != nil {
			_ = ln.Close()
			return err
		}
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		wsConsumer.Run(s.router.Pool().HandleEvent)
		return nil
	})
	if archiveConsumer != nil {
		eg.Go(func() error {
			archiveConsumer.Run(chatstore.Handler(s.archive))
			return nil
		})
	}

	serveErr := make(chan error, 1)
	eg.Go(func() error {
		log.Info().Str("component", "webchat").Str("addr", ln.Addr().String()).Msg("starting relay server")
		err := s.httpSrv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server listen error")
			serveErr <- err
			return err
		}
		return nil
	})

	eg.Go(func() error {
		defer stopConsumers()
		select {
		case <-sigCtx.Done():
			log.Info().Msg("shutting down relay server...")
		case err := <-serveErr:
			return errors.Wrap(err, "http server stopped")
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.router.Pool().CloseAll()
		log.Info().Msg("server shutdown complete")
		return nil
	})

	return eg.Wait()
}
