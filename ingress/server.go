package ingress

// Server is the receipt-ingress HTTP adapter of spec.md §6: "HTTP POST
// /subgraphs/id/{deploymentId} with a header carrying a 264-hex receipt
// blob." It sits in front of the receipt store and an external query proxy
// (graph-node), which is this package's only out-of-core collaborator.
//
// Built on chi rather than gorilla/mux: this is the hot ingress path (one
// receipt per query), and the teacher's go.mod pulls in chi as a direct
// dependency for exactly this kind of lean per-request routing, distinct
// from the management API's gorilla/mux adapter.

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"indexer-core/core"
)

const receiptHeader = "X-Graph-Receipt"

// QueryProxy forwards a subgraph query to graph-node once payment has been
// accepted. It is an out-of-core collaborator (spec.md §1).
type QueryProxy interface {
	Proxy(w http.ResponseWriter, r *http.Request, deploymentID string) error
}

type Server struct {
	router  chi.Router
	http    *http.Server
	receipt *core.ReceiptStore
	proxy   QueryProxy
	network core.ProtocolNetwork
	log     *zap.Logger
}

func NewServer(addr string, receipt *core.ReceiptStore, proxy QueryProxy, network core.ProtocolNetwork, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{receipt: receipt, proxy: proxy, network: network, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Post("/subgraphs/id/{deploymentId}", s.handleQuery)
	s.router = r
	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentId")

	receiptHex := r.Header.Get(receiptHeader)
	if receiptHex == "" {
		http.Error(w, "missing receipt", http.StatusPaymentRequired)
		return
	}

	ack, err := s.receipt.Add(r.Context(), s.network, receiptHex)
	if err != nil {
		switch {
		case core.IsKind(err, core.KindSchema):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case core.IsKind(err, core.KindAuth):
			http.Error(w, "invalid receipt", http.StatusPaymentRequired)
		default:
			s.log.Error("receipt ingress failure", zap.Error(err), zap.String("deployment", deploymentID))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.log.Debug("receipt accepted",
		zap.String("deployment", deploymentID),
		zap.String("allocation", ack.AllocationID.Hex()),
		zap.Uint64("receiptId", ack.ID))

	if err := s.proxy.Proxy(w, r, deploymentID); err != nil {
		s.log.Error("query proxy failure", zap.Error(err), zap.String("deployment", deploymentID))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
}

func loggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("ingress request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
