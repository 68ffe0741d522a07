package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/testground/feedbench/pkg/logging"
	"github.com/testground/feedbench/pkg/simnet"
)

const (
	HeaderPostageBatchID = "Swarm-Postage-Batch-Id"
	HeaderTag            = "Swarm-Tag"
	HeaderFeedIndex      = "Swarm-Feed-Index"
	HeaderFeedIndexNext  = "Swarm-Feed-Index-Next"
)

type Server struct {
	server *http.Server
	l      net.Listener
	node   *simnet.Node
	doneCh chan struct{}
}

// New creates a Server exposing node and attaches the following handlers:
//
// * POST /feeds/{owner}/{topic}: uploads the next update of a feed.
// * GET /feeds/{owner}/{topic}: looks up the latest update of a feed.
// * GET /tags/{uid}: returns the replication status of an upload.
// * POST /replicas: stores a replica pushed by a peer node.
// * GET /health: liveness check.
//
// A type-safe client for this server can be found in the `pkg/client` package.
func New(listenAddr string, node *simnet.Node) (srv *Server, err error) {
	srv = &Server{
		node:   node,
		doneCh: make(chan struct{}),
	}

	srv.server = &http.Server{
		Handler:      srv.Handler(),
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	srv.l, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	return srv, nil
}

// Handler returns the routes of the server, for mounting elsewhere.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/feeds/{owner}/{topic}", loggingHandler(s.uploadFeedHandler)).Methods("POST")
	r.HandleFunc("/feeds/{owner}/{topic}", loggingHandler(s.lookupFeedHandler)).Methods("GET")
	r.HandleFunc("/tags/{uid}", loggingHandler(s.tagHandler)).Methods("GET")
	r.HandleFunc("/replicas", loggingHandler(s.replicaHandler)).Methods("POST")
	r.HandleFunc("/health", loggingHandler(s.healthHandler)).Methods("GET")
	return r
}

// Serve starts the server and blocks until the server is closed, either
// explicitly via Shutdown, or due to a fault condition. It propagates the
// non-nil err return value from http.Serve.
func (s *Server) Serve() error {
	select {
	case <-s.doneCh:
		return fmt.Errorf("tried to reuse a stopped server")
	default:
	}

	logging.S().Infow("node listening", "addr", s.Addr(), "node", s.node.Name())
	return s.server.Serve(s.l)
}

func (s *Server) Addr() string {
	return s.l.Addr().String()
}

func (s *Server) Port() int {
	return s.l.Addr().(*net.TCPAddr).Port
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.doneCh)
	return s.server.Shutdown(ctx)
}

func loggingHandler(f func(w http.ResponseWriter, r *http.Request, log *zap.SugaredLogger)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.S().With("ruid", uuid.New().String()[:8])
		log.Debugw("request", "method", r.Method, "path", r.URL.Path)

		f(w, r, log)
	}
}
