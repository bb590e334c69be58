package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"accelproxy/internal/platform/logger"
	phttp "accelproxy/internal/platform/net/http"
	"accelproxy/internal/ttlcache"
)

const tokenCacheCapacity = 500
const tokenDefaultTTL = 20 * time.Minute
const tokenFetchTTL = 15 * time.Minute

// tokenResponse covers both shapes bearer token servers use in the wild.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

func (t tokenResponse) value() string {
	if t.Token != "" {
		return t.Token
	}
	return t.AccessToken
}

func scopeFor(imageName string) string {
	return "repository:" + imageName + ":pull"
}

func cacheKey(registryHost, scope string) string {
	host := registryHost
	if host == "" {
		host = "dockerhub"
	}
	return host + "|" + scope
}

// authURL builds the token endpoint URL for scope. The scope's ':' and '/'
// are left unescaped so the query string reads exactly
// "scope=repository:<image>:pull" as auth servers expect to see it; the
// charset classify.ParseRegistryPath produces for image names never
// contains characters that would need percent-encoding in a query value.
func authURL(d Descriptor, scope string) string {
	q := scope
	switch d.AuthDialect {
	case DialectDockerHub:
		return "https://auth.docker.io/token?service=registry.docker.io&scope=" + q
	case DialectGitHub:
		return "https://ghcr.io/token?scope=" + q
	case DialectGoogle:
		return "https://gcr.io/v2/token?scope=" + q
	case DialectQuay:
		return "https://quay.io/v2/auth?scope=" + q
	case DialectGeneric:
		return d.AuthEndpoint + "?scope=" + q
	default: // DialectAnonymous and anything unrecognized
		return ""
	}
}

// tokenAcquirer fetches and caches bearer tokens. A cache miss does a
// single HTTP round trip to the dialect-appropriate auth endpoint; a
// non-2xx response or transport failure degrades to an empty token rather
// than an error, per spec.md §7 ("token acquisition failure is degraded,
// not fatal").
type tokenAcquirer struct {
	client  *http.Client
	cache   *ttlcache.Map[string, string]
	log     *logger.Logger
	metrics *phttp.Metrics
}

func newTokenAcquirer(client *http.Client) *tokenAcquirer {
	return &tokenAcquirer{
		client: client,
		cache:  ttlcache.New[string, string](tokenCacheCapacity, tokenDefaultTTL),
		log:    logger.Named("registry.token"),
	}
}

// Acquire returns a bearer token for desc+imageName, or "" when the
// dialect is anonymous or the auth server could not be reached.
func (a *tokenAcquirer) Acquire(ctx context.Context, d Descriptor, imageName string) string {
	scope := scopeFor(imageName)
	key := cacheKey(d.Host, scope)

	if tok, ok := a.cache.Get(key); ok {
		if a.metrics != nil {
			a.metrics.TokenCacheResults.WithLabelValues("hit").Inc()
		}
		return tok
	}
	if a.metrics != nil {
		a.metrics.TokenCacheResults.WithLabelValues("miss").Inc()
	}
	if d.AuthDialect == DialectAnonymous {
		return ""
	}
	u := authURL(d, scope)
	if u == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, controlCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		a.log.Warn().Err(err).Str("url", u).Msg("token request build failed")
		return ""
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("dialect", string(d.AuthDialect)).Msg("token fetch transport error, proceeding unauthenticated")
		return ""
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log.Debug().Int("status", resp.StatusCode).Str("scope", scope).Msg("token endpoint returned non-2xx, proceeding unauthenticated")
		return ""
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		a.log.Warn().Err(err).Msg("token response decode failed")
		return ""
	}
	tok := tr.value()
	if tok == "" {
		return ""
	}
	a.cache.Set(key, tok, tokenFetchTTL)
	return tok
}
