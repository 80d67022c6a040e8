package webserver

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/events"
	"github.com/zsprackett/cursor-balance/internal/messages"
)

const maxBodyBytes = 8 << 20 // page snapshots carry a whole DOM

// static holds the browser popup served at /.
//
//go:embed static
var static embed.FS

type Config struct {
	Enabled   bool
	Port      int
	Host      string
	JWTSecret string
}

// Dispatcher handles one message. *messages.Dispatcher implements it.
type Dispatcher interface {
	Handle(ctx context.Context, m messages.Message) messages.Reply
}

// BadgeSource reports the badge currently shown. *badge.Current implements it.
type BadgeSource interface {
	Get() badge.Badge
}

type Server struct {
	dispatcher Dispatcher
	badges     BadgeSource
	gatherer   prometheus.Gatherer
	hub        *events.Hub
	cfg        Config
	logger     *slog.Logger
}

func New(d Dispatcher, badges BadgeSource, gatherer prometheus.Gatherer, cfg Config, logger *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		dispatcher: d,
		badges:     badges,
		gatherer:   gatherer,
		hub:        events.NewHub(),
		cfg:        cfg,
		logger:     logger.With("component", "webserver"),
	}
}

// Broadcast implements events.Broadcaster.
func (s *Server) Broadcast(e events.Event) {
	s.hub.Broadcast(e)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/messages", s.protect(http.HandlerFunc(s.handleMessage)))
	mux.HandleFunc("GET /api/balance", s.handleAlias(messages.TypeGetBalance, false))
	mux.Handle("POST /api/balance", s.protect(s.handleAlias(messages.TypeBalanceData, true)))
	mux.Handle("POST /api/page", s.protect(s.handleAlias(messages.TypePageSnapshot, true)))
	mux.Handle("POST /api/refresh", s.protect(s.handleAlias(messages.TypeRefresh, false)))
	mux.Handle("POST /api/logout", s.protect(s.handleAlias(messages.TypeLogout, false)))
	mux.Handle("GET /ws", s.protect(http.HandlerFunc(s.handleWS)))
	mux.Handle("GET /events", s.protect(http.HandlerFunc(s.handleSSE)))
	mux.HandleFunc("GET /badge", s.handleBadge)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	popup, _ := fs.Sub(static, "static")
	mux.Handle("GET /", http.FileServer(http.FS(popup)))
	return mux
}

func (s *Server) protect(next http.Handler) http.Handler {
	if s.cfg.JWTSecret == "" {
		return next
	}
	return jwtMiddleware(s.cfg.JWTSecret, next)
}

// Start listens and serves until ctx is done. Bind errors are returned
// before Start goes to the background.
func (s *Server) Start(ctx context.Context) (net.Addr, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return ln.Addr(), nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m messages.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&m); err != nil {
		writeReply(w, messages.Failure(fmt.Errorf("decode message: %w", err)))
		return
	}
	s.logger.Debug("message", "type", m.Type, "subject", Subject(r.Context()))
	writeReply(w, s.dispatcher.Handle(r.Context(), m))
}

// handleAlias maps a REST route onto a message. When withBody is set the
// request body becomes the message data.
func (s *Server) handleAlias(typ string, withBody bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := messages.Message{Type: typ}
		if withBody {
			data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeReply(w, messages.Failure(err))
				return
			}
			m.Data = data
		}
		writeReply(w, s.dispatcher.Handle(r.Context(), m))
	}
}

func writeReply(w http.ResponseWriter, reply messages.Reply) {
	w.Header().Set("Content-Type", "application/json")
	if reply.Error != "" {
		w.WriteHeader(http.StatusBadRequest)
	}
	json.NewEncoder(w).Encode(reply)
}

func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	b := badge.Unknown
	if s.badges != nil {
		b = s.badges.Get()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

func (s *Server) snapshot(ctx context.Context) events.Event {
	e := events.Event{Type: events.TypeSnapshot}
	b := badge.Unknown
	if s.badges != nil {
		b = s.badges.Get()
	}
	e.Badge = &b
	if reply := s.dispatcher.Handle(ctx, messages.Message{Type: messages.TypeGetBalance}); reply.Record != nil {
		e.Record = reply.Record
	}
	return e
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", 500)
		return
	}

	ch, release := s.hub.Subscribe(16)
	defer release()

	writeSSE(w, flusher, s.snapshot(r.Context()))

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-ch:
			writeSSE(w, flusher, e)
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, f http.Flusher, e events.Event) {
	data, _ := json.Marshal(e)
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}
