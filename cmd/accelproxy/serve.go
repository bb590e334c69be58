package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"accelproxy/internal/access"
	"accelproxy/internal/cidr"
	"accelproxy/internal/ghproxy"
	"accelproxy/internal/hubapi"
	"accelproxy/internal/platform/config"
	"accelproxy/internal/platform/logger"
	phttp "accelproxy/internal/platform/net/http"
	"accelproxy/internal/platform/net/middleware"
	"accelproxy/internal/ratelimit"
	"accelproxy/internal/registry"
	"accelproxy/internal/staticsite"
)

var (
	configPath   string
	addrFlag     string
	logLevelFlag string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy HTTP server (default when no subcommand is given)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	startedAt := time.Now()

	logOpts := logger.FromEnv()
	if logLevelFlag != "" {
		logOpts.Level = logLevelFlag
	}
	logger.Init(logOpts)
	log := logger.Named("accelproxy")

	settings, err := config.Load(configPath)
	if err != nil {
		log.Panic().Err(err).Str("path", configPath).Msg("config load failed")
	}

	policy := buildPolicy(settings)
	limiter := buildLimiter(settings, log)
	table := buildRegistryTable(settings)
	metrics := phttp.NewMetrics(prometheus.DefaultRegisterer)
	client := buildUpstreamClient(settings, log)

	registryProxy := registry.NewProxy(table, policy, client).WithMetrics(metrics)
	githubProxy := ghproxy.NewProxy(policy, client, settings.Server.FileSize).WithMetrics(metrics)
	hubProxy := hubapi.NewProxy(client)
	site := staticsite.NewSite()

	stop := make(chan struct{})
	defer close(stop)
	go limiter.Run(stop)

	watcher := config.NewWatcher(configPath, settings, func(updated config.Settings) {
		policy.UpdateLists(updated.Access.WhiteList, updated.Access.BlackList, updated.Access.WhiteList, updated.Access.BlackList)
		limiter.UpdateLists(parseCIDRList(updated.Security.WhiteList, log), parseCIDRList(updated.Security.BlackList, log))
	})
	watchStop := make(chan struct{})
	defer close(watchStop)
	go func() {
		if err := watcher.Run(watchStop); err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	addr := addrFlag
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	}
	// phttp.NewServer reads its bind address from the API_PORT env var; bridge
	// the config.toml-resolved address through it unless an operator already
	// pinned API_PORT directly, which still wins.
	if os.Getenv("API_PORT") == "" {
		_ = os.Setenv("API_PORT", addr)
	}

	envCfg := config.New()
	srv := phttp.NewServer(envCfg)
	r := srv.Router()
	mountMiddleware(r, limiter, metrics)
	mountRoutes(r, site, hubProxy, registryProxy, githubProxy, startedAt)
	phttp.MountProfiler(r, "/debug", envCfg.MayBool("PROFILER", false))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	log.Info().Str("addr", addr).Msg("accelproxy listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

// mountMiddleware wires the JSON-aware panic recoverer, request id/real ip,
// the access log, and rate limiting ahead of every route. Unlike
// middleware.Defaults() this deliberately skips Timeout and Compress: blob
// and release-asset downloads can be large and slow, and compressing an
// already-compressed download wastes CPU for no benefit.
func mountMiddleware(r phttp.Router, limiter *ratelimit.Limiter, metrics *phttp.Metrics) {
	r.Use(
		func(next http.Handler) http.Handler { return middleware.RecoverJSON(next) },
		middleware.RequestID(),
		middleware.RealIP(),
		middleware.AccessLogZerolog(middleware.AccessLogOptions{Slow: 5 * time.Second}),
		middleware.RateLimit(limiter, metrics),
	)
}

// serviceName identifies this binary in the readiness payload.
const serviceName = "accelproxy"

// readyResponse is the JSON body returned by GET /ready.
type readyResponse struct {
	Ready         bool   `json:"ready"`
	Service       string `json:"service"`
	StartTimeUnix int64  `json:"start_time_unix"`
	UptimeSec     int64  `json:"uptime_sec"`
	UptimeHuman   string `json:"uptime_human"`
}

func mountRoutes(r phttp.Router, site *staticsite.Site, hub *hubapi.Proxy, reg *registry.Proxy, gh *ghproxy.Proxy, startedAt time.Time) {
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		uptime := time.Since(startedAt)
		phttp.JSON(w, http.StatusOK, readyResponse{
			Ready:         true,
			Service:       serviceName,
			StartTimeUnix: startedAt.Unix(),
			UptimeSec:     int64(uptime / time.Second),
			UptimeHuman:   uptime.Round(time.Second).String(),
		})
	})

	r.Get("/", site.ServeHome)
	r.Get("/search.html", site.ServeSearchPage)
	r.Get("/favicon.ico", site.ServeFavicon)
	r.Get("/public/*", site.Public())

	r.Get("/search", hub.ServeSearch)
	r.Get("/tags", hub.ServeTags)
	r.Get("/tags/{namespace}/*", func(w http.ResponseWriter, req *http.Request) {
		hub.ServeTagsPath(w, req, chi.URLParam(req, "namespace"), chi.URLParam(req, "*"))
	})

	// Registry and token routes accept any HTTP method (HEAD is routine for
	// blob-existence checks); chi's Handle matches all methods on a pattern.
	r.Handle("/v2", http.HandlerFunc(reg.ServeV2))
	r.Handle("/v2/*", http.HandlerFunc(reg.ServeV2))
	r.Handle("/token", http.HandlerFunc(reg.ServeToken))
	r.Handle("/token/*", http.HandlerFunc(reg.ServeToken))

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		phttp.Handler(prometheus.DefaultGatherer).ServeHTTP(w, req)
	})

	// Catch-all GitHub/HuggingFace fallback, any method. Chi matches static
	// and parameterized segments ahead of a bare wildcard regardless of
	// registration order, so this never shadows the routes above it.
	r.Handle("/*", http.HandlerFunc(gh.ServeHTTP))
}

func buildPolicy(s config.Settings) *access.Policy {
	return &access.Policy{
		GitHubAllow: s.Access.WhiteList,
		GitHubDeny:  s.Access.BlackList,
		DockerAllow: s.Access.WhiteList,
		DockerDeny:  s.Access.BlackList,
	}
}

func buildLimiter(s config.Settings, log *logger.Logger) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		RequestLimit: s.RateLimit.RequestLimit,
		PeriodHours:  s.RateLimit.PeriodHours,
		Allow:        parseCIDRList(s.Security.WhiteList, log),
		Deny:         parseCIDRList(s.Security.BlackList, log),
	})
}

func parseCIDRList(entries []string, log *logger.Logger) []cidr.Block {
	blocks := make([]cidr.Block, 0, len(entries))
	for _, e := range entries {
		b, ok := cidr.ParseCIDR(e)
		if !ok {
			log.Warn().Str("cidr", e).Msg("skipping unparseable CIDR entry")
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func buildRegistryTable(s config.Settings) *registry.Table {
	descs := registry.DefaultDescriptors()
	for host, rs := range s.Registries {
		descs = append(descs, registry.Descriptor{
			Host:         host,
			Upstream:     rs.Upstream,
			AuthEndpoint: rs.AuthHost,
			AuthDialect:  registry.AuthDialect(rs.AuthType),
			Enabled:      rs.Enabled,
		})
	}
	return registry.NewTable(descs)
}

// buildUpstreamClient builds the shared client used by the registry, GitHub
// and Hub proxies. CheckRedirect is pinned to ErrUseLastResponse so 3xx
// responses come back to the caller raw instead of being silently followed
// by net/http: both registry.Proxy.dispatch and ghproxy.Proxy.walk run
// their own bounded manual redirect loop on top of this client. There is no
// overall Timeout since blob and release-asset downloads can be large and
// slow; each proxy applies its own per-call deadline to control requests.
func buildUpstreamClient(s config.Settings, log *logger.Logger) *http.Client {
	transport := &http.Transport{}
	if s.Access.Proxy != "" {
		u, err := url.Parse(s.Access.Proxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", s.Access.Proxy).Msg("ignoring invalid access.proxy URL")
		} else {
			transport.Proxy = http.ProxyURL(u)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
