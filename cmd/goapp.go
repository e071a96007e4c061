package main

import (
	"context"
	"errors"
	"github.com/Geniuskaa/team_registration/internal/config"
	"github.com/Geniuskaa/team_registration/pkg/database"
	"github.com/Geniuskaa/team_registration/pkg/mail"
	"github.com/Geniuskaa/team_registration/pkg/metrics"
	"github.com/Geniuskaa/team_registration/pkg/server"
	"github.com/Geniuskaa/team_registration/pkg/session"
	"github.com/Geniuskaa/team_registration/pkg/wizard"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

const (
	service         = "team-registration"
	environment     = "production"
	id              = 1
	SHUTDOWN_PERIOD = time.Second * 15
)

func main() {

	conf, err := config.NewConfig()
	if err != nil {
		panic("Error with reading config: " + err.Error())
	}

	if err := execute(net.JoinHostPort(conf.App.Host, conf.App.Port), conf); err != nil {
		os.Exit(1)
	}

}

func execute(addr string, conf *config.Entity) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	logger, atom := loggerInit(conf.Log)

	if conf.Jag.Dsn != "" {
		tp, err := tracerProvider(conf.Jag.Dsn)
		if err != nil {
			panic("Error when setting up tracer")
		}

		otel.SetTracerProvider(tp)

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	pool := database.PoolCreation(ctx, logger, conf) // Panics if something gone wrong

	db := database.NewPostgres(pool)
	if err := db.Migrate(ctx); err != nil {
		logger.Error("schema migration failed", zap.Error(err))
		return err
	}

	var store session.Store = session.NewInMemoryStore()
	if conf.Redis.URL != "" {
		rdb, err := session.NewRedisClient(ctx, conf.Redis.URL)
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		defer rdb.Close()
		store = session.NewRedisStore(rdb)
	} else {
		logger.Warn("REDIS_URL is empty, sessions are kept in memory")
	}

	var notifier wizard.Notifier
	if conf.Mail.Enabled() {
		notifier = mail.NewService(conf.Mail, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWizard(reg)

	wiz := wizard.NewService(db, notifier, logger, m)
	sessions := session.NewManager(store, db, conf.Session, logger)

	defer func() {
		cancel()
		wiz.Wait()
		pool.Close()
		logger.Sync()
	}()

	mux := chi.NewRouter()
	application := server.NewServer(ctx, logger, mux, conf, sessions, wiz, m)
	application.Init(atom, reg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start(addr)
	}()

	select {
	case err = <-errCh:
		logger.Error("server stopped", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), SHUTDOWN_PERIOD)
	defer stop()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loggerInit(conf config.Log) (*zap.Logger, zap.AtomicLevel) {

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC1123Z)
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	if err := os.MkdirAll(filepath.Dir(conf.File), 0755); err != nil {
		panic("Error with creating log directory")
	}
	file, err := os.OpenFile(conf.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)

	if err != nil {
		panic("Error with creating or opening file")
	}

	writeSyncer := zapcore.AddSync(file)
	atom := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if err := atom.UnmarshalText([]byte(conf.Level)); err != nil {
		panic("Unknown LOG_LEVEL: " + conf.Level)
	}
	core := zapcore.NewTee(
		zapcore.NewCore(fileEncoder, writeSyncer, atom),
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), atom),
	)

	logger := zap.New(core)

	return logger, atom
}

func tracerProvider(url string) (*tracesdk.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(url)))
	if err != nil {
		return nil, err
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(service),
			attribute.String("environment", environment),
			attribute.Int64("ID", id),
		)),
	)
	return tp, nil
}
