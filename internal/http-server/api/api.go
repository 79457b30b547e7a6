package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"clanity/internal/config"
	"clanity/internal/http-server/handlers/entitlement"
	"clanity/internal/http-server/handlers/errors"
	"clanity/internal/http-server/handlers/paymenthook"
	"clanity/internal/http-server/handlers/promocode"
	"clanity/internal/http-server/handlers/subscription"
	"clanity/internal/http-server/middleware/authenticate"
	"clanity/internal/http-server/middleware/timeout"
	"clanity/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	subscription.Core
	entitlement.Core
	promocode.Core
	paymenthook.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) *Server {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(5))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, handler))
		rootApi.Route("/subscriptions", func(sub chi.Router) {
			sub.Post("/link", subscription.Link(log, handler))
			sub.Get("/check/{id}", subscription.Check(log, handler))
		})
		rootApi.Route("/entitlement", func(ent chi.Router) {
			ent.Get("/{id}", entitlement.Get(log, handler))
			ent.Post("/require", entitlement.Require(log, handler))
		})
		rootApi.Post("/promocodes/redeem", promocode.Redeem(log, handler))
	})
	router.Route("/webhook", func(rootWH chi.Router) {
		rootWH.Post("/payment", paymenthook.Event(log, handler))
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &server
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIp, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", serverAddress))

	return s.httpServer.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
