package cmd

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/psantana5/sentiment-pulse/pkg/api"
	"github.com/psantana5/sentiment-pulse/pkg/auth"
	"github.com/psantana5/sentiment-pulse/pkg/logging"
	"github.com/psantana5/sentiment-pulse/pkg/metrics"
	"github.com/psantana5/sentiment-pulse/pkg/poller"
	"github.com/psantana5/sentiment-pulse/pkg/ratelimit"
	"github.com/psantana5/sentiment-pulse/pkg/session"
	"github.com/psantana5/sentiment-pulse/pkg/shutdown"
	tlsutil "github.com/psantana5/sentiment-pulse/pkg/tls"
	"github.com/psantana5/sentiment-pulse/pkg/tracing"
	"github.com/spf13/cobra"
)

var serveGenerateToken bool

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web dashboard",
	Long: `Serve the dashboard of a single session over HTTP. The page submits topics,
shows progress while the analysis is polled and renders the charts, narrative
and post preview once it completes. Prometheus metrics are exposed on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from config or :8090)")
	serveCmd.Flags().Bool("tls", false, "serve over HTTPS")
	serveCmd.Flags().BoolVar(&serveGenerateToken, "generate-token", false, "require a freshly generated access token")
	v.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	v.BindPFlag("serve.tls.enabled", serveCmd.Flags().Lookup("tls"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	shutdownMgr := shutdown.New(30*time.Second, logger)

	tracer, err := newTracer(cmd.Context(), "pulse-dashboard")
	if err != nil {
		return err
	}
	shutdownMgr.Register("tracer", tracer.Shutdown)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	client, err := newBackendClient()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	shutdownMgr.Register("history store", shutdown.CloseResource(st))

	p := poller.New(client, poller.Config{Interval: cfg.Poll.Interval, MaxWait: cfg.Poll.MaxWait},
		poller.WithLogger(logger),
		poller.WithRecorder(recorder),
		poller.WithTracer(tracer),
	)
	ctrl := session.New(client, p,
		session.WithRenderer(session.NewLogRenderer(logger)),
		session.WithStore(st),
		session.WithLogger(logger),
		session.WithRecorder(recorder),
		session.WithTracer(tracer),
	)
	shutdownMgr.Register("session", shutdown.CloseResource(ctrl))

	limiter := ratelimit.NewLimiter(cfg.Serve.RateLimit, cfg.Serve.RateBurst)
	go cleanupLimiters(shutdownMgr.Done(), limiter, logger)

	handler := api.NewHandler(ctrl,
		api.WithStore(st),
		api.WithBackend(client),
		api.WithRateLimit(limiter),
		api.WithGatherer(reg),
		api.WithLogger(logger),
	)

	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tracer))

	tokens := auth.NewTokens()
	tokens.Add(cfg.Serve.Token, "config")
	if serveGenerateToken {
		token, err := tokens.Generate("generated")
		if err != nil {
			return err
		}
		logger.Info("Dashboard access token generated, open /?token=<token> once", logging.Fields{"token": token})
	}
	if tokens.Len() > 0 {
		router.Use(auth.Middleware(tokens, "/health", "/metrics"))
	}
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Serve.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Serve.TLS.Enabled {
		files := tlsutil.Files{Cert: cfg.Serve.TLS.CertFile, Key: cfg.Serve.TLS.KeyFile, CA: cfg.Serve.TLS.CAFile}
		host, _, _ := net.SplitHostPort(cfg.Serve.Addr)
		generated, err := tlsutil.EnsureSelfSigned(files, host)
		if err != nil {
			return err
		}
		if generated {
			logger.Info("Generated self-signed certificate", logging.Fields{"cert": files.Cert})
		}
		srv.TLSConfig, err = tlsutil.ServerConfig(files)
		if err != nil {
			return err
		}
	} else if tokens.Len() > 0 {
		logger.Warn("TLS disabled, access tokens are sent in clear text")
	}

	shutdownMgr.Register("http server", shutdown.StopHTTPServer(srv))

	go func() {
		logger.Info("Dashboard listening", logging.Fields{
			"addr":    cfg.Serve.Addr,
			"tls":     cfg.Serve.TLS.Enabled,
			"backend": cfg.BackendURL,
		})

		var err error
		if cfg.Serve.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", logging.Fields{"error": err.Error()})
			shutdownMgr.Trigger()
		}
	}()

	return shutdownMgr.WaitWithContext(cmd.Context())
}

func cleanupLimiters(done <-chan struct{}, limiter *ratelimit.Limiter, logger *logging.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := limiter.CleanupOldLimiters(10 * time.Minute); n > 0 {
				logger.Debug("Removed idle rate limiters", logging.Fields{"count": n, "remaining": limiter.Len()})
			}
		}
	}
}
