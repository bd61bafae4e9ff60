package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/transport"
	"courier/pkg/bootstrap"
	"courier/pkg/health"
	"courier/pkg/metrics"
	"courier/pkg/middleware"
	"courier/pkg/ratelimit"
)

type App struct {
	*bootstrap.Base
	broker *broker.Broker
	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitQueue(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue backend: %w", err)
	}

	commonName, err := certificateCommonName(a.Config.TLS.CertFile)
	if err != nil {
		return fmt.Errorf("failed to read broker certificate: %w", err)
	}

	a.broker = broker.New(a.Config.Broker, a.Queue, commonName, a.Logger)

	metrics.RegisterBrokerMetrics()

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initHTTPServer(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(a.Logger))

	wsHandler := transport.NewHandler(ctx, a.broker, a.Config.WebSocket, a.Config.RateLimit.Session, a.Logger)
	router.GET(a.Config.WebSocket.Path, gin.WrapH(wsHandler))

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewFuncChecker("queue", a.Queue.Ping))

	ops := router.Group("/")
	ops.Use(middleware.RequestID())
	ops.Use(middleware.RequestLogger(a.Logger))
	ops.Use(ratelimit.Middleware(ratelimit.Config{
		RPS:             a.Config.RateLimit.Ops.RPS,
		Burst:           a.Config.RateLimit.Ops.Burst,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}))

	ops.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	ops.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ops.GET("/inventory", func(c *gin.Context) {
		patterns := c.QueryArray("q")
		if len(patterns) == 0 {
			patterns = []string{a.Config.Broker.Scheme + "://*/*"}
		}
		c.JSON(http.StatusOK, gin.H{
			"uris": a.broker.Inventory().Find(patterns),
		})
	})

	tlsConfig, err := a.serverTLSConfig()
	if err != nil {
		return err
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		TLSConfig:    tlsConfig,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}

	return nil
}

// serverTLSConfig requires and verifies client certificates; the verified
// peer common name becomes the session identity.
func (a *App) serverTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(a.Config.TLS.CertFile, a.Config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server keypair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}

	if a.Config.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(a.Config.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates parsed from CA bundle %s", a.Config.TLS.CAFile)
		}
		cfg.ClientCAs = pool
	}

	return cfg, nil
}

// certificateCommonName extracts the CN that seeds the broker's own URI.
func certificateCommonName(certFile string) (string, error) {
	pemData, err := os.ReadFile(certFile)
	if err != nil {
		return "", err
	}

	for {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			return "", fmt.Errorf("no certificate found in %s", certFile)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		parsed, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return "", err
		}
		return parsed.Subject.CommonName, nil
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTPS server starting",
			"port", a.Config.Server.Port,
			"websocket_path", a.Config.WebSocket.Path,
		)
		if err := a.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTPS server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.broker.Start(gCtx); err != nil {
			return fmt.Errorf("broker start error: %w", err)
		}
		<-gCtx.Done()
		return gCtx.Err()
	})

	// Unblock the listener when the run context ends.
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTPS server shutdown error: %w", err))
			}
		}

		if a.broker != nil {
			a.broker.Shutdown()
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
