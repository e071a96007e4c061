package server

import (
	"context"
	"fmt"
	"github.com/Geniuskaa/team_registration/internal/config"
	"github.com/Geniuskaa/team_registration/pkg/metrics"
	"github.com/Geniuskaa/team_registration/pkg/session"
	"github.com/Geniuskaa/team_registration/pkg/wizard"
	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"net"
	"net/http"
	"strconv"
	"time"
)

const READ_HEADER_TIMEOUT = time.Second * 10

type Server struct {
	ctx      context.Context
	logger   *zap.Logger
	mux      *chi.Mux
	serv     *http.Server
	cfg      *config.Entity
	sessions *session.Manager
	wizard   *wizard.Service
	metrics  *metrics.Wizard
}

func NewServer(ctx context.Context, logger *zap.Logger, mux *chi.Mux, conf *config.Entity,
	sessions *session.Manager, wiz *wizard.Service, m *metrics.Wizard) *Server {
	return &Server{ctx: ctx, logger: logger, mux: mux, cfg: conf, sessions: sessions, wizard: wiz, metrics: m}
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.mux.ServeHTTP(writer, request)
}

func (s *Server) Init(atom zap.AtomicLevel, reg *prometheus.Registry) {
	s.mux.Use(middleware.RequestID, s.instrument, s.recoverer, s.limitBody, s.sessions.Middleware)

	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.routes()

	if s.cfg.File == "" {
		return
	}
	// Log level can be changed without a restart by editing the config file.
	viper.OnConfigChange(func(e fsnotify.Event) {
		s.logger.Info(fmt.Sprintf("Config file changed: %s", e.Name))
		level := viper.GetString(config.LOG_LEVEL)
		if err := atom.UnmarshalText([]byte(level)); err != nil {
			s.logger.Warn("unknown log level in config", zap.String("level", level))
			return
		}
		s.logger.Info("log level changed", zap.String("level", atom.Level().String()))
	})
	viper.WatchConfig()
}

func (s *Server) Start(addr string) error {
	s.serv = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: READ_HEADER_TIMEOUT,
		BaseContext: func(_ net.Listener) context.Context {
			return s.ctx
		},
	}

	s.logger.Info("Service successfully started", zap.String("addr", addr))
	return s.serv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.serv == nil {
		return nil
	}
	return s.serv.Shutdown(ctx)
}

// limitBody rejects requests above the upload limit. Bodies without a
// declared length are cut off while being read.
func (s *Server) limitBody(next http.Handler) http.Handler {
	limit := s.cfg.App.UploadLimit()
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.ContentLength > limit {
			http.Error(writer, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		request.Body = http.MaxBytesReader(writer, request.Body, limit)
		next.ServeHTTP(writer, request)
	})
}

func (s *Server) instrument(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(writer, request.ProtoMajor)
		handler.ServeHTTP(ww, request)

		route := "unmatched"
		if rctx := chi.RouteContext(request.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		s.metrics.RequestTiming.WithLabelValues(request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		s.logger.Debug("request served",
			zap.String("request_id", middleware.GetReqID(request.Context())),
			zap.String("method", request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed))
	})
}

func (s *Server) recoverer(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				writer.WriteHeader(http.StatusInternalServerError)
				writer.Write([]byte("Something going wrong..."))
				s.logger.Error("panic occurred", zap.Any("panic", err), zap.Stack("stack"))
			}
		}()
		handler.ServeHTTP(writer, request)
	})
}
