// Package server runs the vault over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/config"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/plug"
	"github.com/vinceanalytics/vault/internal/store"
	"github.com/vinceanalytics/vault/internal/system"
	"github.com/vinceanalytics/vault/internal/transport"
	"github.com/vinceanalytics/vault/internal/vault"
	"golang.org/x/sync/errgroup"
)

// MessagePath is where the vault accepts messages.
const MessagePath = "/vault/message"

type ResourceList []io.Closer

func (r ResourceList) Close() error {
	e := make([]error, 0, len(r))
	for i := len(r) - 1; i >= 0; i-- {
		e = append(e, r[i].Close())
	}
	return errors.Join(e...)
}

type shutdown interface {
	Shutdown(context.Context) error
}

func (r ResourceList) CloseWithGrace(ctx context.Context) error {
	e := make([]error, 0, len(r))
	for i := len(r) - 1; i >= 0; i-- {
		if shut, ok := r[i].(shutdown); ok {
			e = append(e, shut.Shutdown(ctx))
		} else {
			e = append(e, r[i].Close())
		}
	}
	return errors.Join(e...)
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// dispatcher feeds messages received over HTTP to the vault. At most
// Options.Concurrency messages are dispatched at once.
type dispatcher struct {
	inbox  transport.Inbox
	cancel context.CancelFunc
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	return &dispatcher{inbox: make(transport.Inbox), done: make(chan struct{})}
}

// start runs the listen loop of v until the dispatcher is closed. Shutting
// down ctx does not stop it, in flight requests are drained by the http
// server first.
func (d *dispatcher) start(ctx context.Context, v *vault.Vault) {
	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(d.done)
		v.Listen(ctx, d.inbox)
	}()
}

func (d *dispatcher) Close() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	<-d.done
	return nil
}

// Server holds every long running component of the vault process.
type Server struct {
	Options   *config.Options
	Store     *store.Badger
	Vault     *vault.Vault
	HTTP      *http.Server
	Listener  net.Listener
	inbox     *dispatcher
	resources ResourceList
}

// Serve configures the vault from o and runs it until ctx is done or the
// process is interrupted.
func Serve(ctx context.Context, o *config.Options) error {
	s, err := Configure(ctx, o)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

func Configure(ctx context.Context, o *config.Options) (*Server, error) {
	s := &Server{Options: o}
	// we start listeners early to make sure we can actually bind to the network.
	ls, err := net.Listen("tcp", o.Listen)
	if err != nil {
		return nil, err
	}
	s.Listener = ls

	path := o.Data
	if o.InMemory {
		path = ""
	}
	db, err := store.Open(path, o.Retention)
	if err != nil {
		ls.Close()
		return nil, err
	}
	s.Store = db
	s.resources = append(s.resources, db)

	v, err := vault.New(o, db)
	if err != nil {
		s.resources.Close()
		ls.Close()
		return nil, err
	}
	s.Vault = v
	s.resources = append(s.resources, closeFunc(v.Close))
	s.inbox = newDispatcher()
	s.resources = append(s.resources, s.inbox)

	s.HTTP = &http.Server{
		Handler:           Handle(o, s.inbox.inbox),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return ctx
		},
	}
	s.resources = append(s.resources, s.HTTP)
	return s, nil
}

func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	log := logger.Component(ctx, "server")

	s.Store.Start(ctx)
	s.inbox.start(ctx, s.Vault)
	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		err := s.HTTP.Serve(s.Listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		// Ensure we close the servers.
		<-ctx.Done()
		log.Debug("shutting down gracefully")
		grace, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return s.resources.CloseWithGrace(grace)
	})
	log.WithFields(logrus.Fields{
		"address": s.Listener.Addr().String(),
	}).Info("started serving http traffic")
	return g.Wait()
}

func Handle(o *config.Options, d transport.Dispatcher) http.Handler {
	message := transport.Handler(d, o.AllowedOrigins)
	pipe := plug.Pipeline{
		plug.RequestID,
		plug.API().Prefix(MessagePath, message.ServeHTTP),
		plug.Pipeline{}.PathGET("/metrics", promhttp.Handler().ServeHTTP),
		plug.Browser().PathGET("/healthz", health),
		plug.Ok(o.EnableProfile, plug.Pipeline{}.Prefix("/debug/pprof/", profile)),
	}
	return pipe.Pass(plug.NotFound)
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(system.Read())
}

func profile(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/debug/pprof/cmdline":
		pprof.Cmdline(w, r)
	case "/debug/pprof/profile":
		pprof.Profile(w, r)
	case "/debug/pprof/symbol":
		pprof.Symbol(w, r)
	case "/debug/pprof/trace":
		pprof.Trace(w, r)
	default:
		pprof.Index(w, r)
	}
}
