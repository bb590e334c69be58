// Package registry implements the OCI Distribution (Docker Registry v2)
// reverse proxy: bearer token acquisition per upstream auth dialect,
// upstream dispatch with a bounded manual redirect walk, and
// WWW-Authenticate realm rewriting so clients re-authenticate through the
// proxy instead of the origin.
package registry

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"accelproxy/internal/access"
	"accelproxy/internal/classify"
	perr "accelproxy/internal/platform/errors"
	"accelproxy/internal/platform/logger"
	phttp "accelproxy/internal/platform/net/http"
	"accelproxy/internal/proxyutil"
)

const maxRedirects = 20
const controlCallTimeout = 30 * time.Second

var manifestAcceptHeader = strings.Join([]string{
	"application/vnd.docker.distribution.manifest.v2+json",
	"application/vnd.docker.distribution.manifest.list.v2+json",
	"application/vnd.oci.image.manifest.v1+json",
	"application/vnd.oci.image.index.v1+json",
}, ",")

// Proxy serves the /v2/* and /token* surfaces.
type Proxy struct {
	table   *Table
	policy  *access.Policy
	tokens  *tokenAcquirer
	client  *http.Client
	log     *logger.Logger
	metrics *phttp.Metrics
}

// NewProxy builds a Proxy over table using client for upstream dispatch.
// client should have no overall Timeout (blob downloads can be large and
// slow); per-call deadlines are applied internally for control calls.
func NewProxy(table *Table, policy *access.Policy, client *http.Client) *Proxy {
	return &Proxy{
		table:  table,
		policy: policy,
		tokens: newTokenAcquirer(client),
		client: client,
		log:    logger.Named("registry"),
	}
}

// WithMetrics attaches Prometheus collectors; nil disables recording.
func (p *Proxy) WithMetrics(m *phttp.Metrics) *Proxy {
	p.metrics = m
	p.tokens.metrics = m
	return p
}

// ServeV2 handles GET/HEAD (and, for completeness, other methods passed
// through verbatim) under /v2 and /v2/*.
func (p *Proxy) ServeV2(w http.ResponseWriter, r *http.Request) {
	afterV2 := strings.TrimPrefix(r.URL.Path, "/v2")
	afterV2 = strings.TrimPrefix(afterV2, "/")

	parsed := classify.ParseRegistryPathWithHosts(afterV2, p.table.KnownHosts())

	if parsed.ApiKind == classify.KindBase && parsed.ImageName == "" {
		p.serveBaseProbe(w, r)
		return
	}

	desc, ok := p.table.Lookup(parsed.RegistryHost)
	if !ok {
		writeJSONError(w, perr.Newf(perr.ErrorCodeNotFound, "unknown or disabled registry %q", parsed.RegistryHost))
		return
	}

	subject := parsed.ImageName
	if parsed.RegistryHost != "" {
		subject = parsed.RegistryHost + "/" + parsed.ImageName
	}
	if d := p.policy.CheckDocker(subject); !d.Allowed {
		if p.metrics != nil {
			p.metrics.AccessDenials.WithLabelValues("docker").Inc()
		}
		writeJSONError(w, perr.Newf(perr.ErrorCodeForbidden, "access denied: %s", d.Reason))
		return
	}

	targetPath := "/v2/" + parsed.ImageName
	switch parsed.ApiKind {
	case classify.KindManifests:
		targetPath += "/manifests/" + parsed.Reference
	case classify.KindBlobs:
		targetPath += "/blobs/" + parsed.Reference
	case classify.KindTags:
		targetPath += "/tags/list"
	}

	token := p.tokens.Acquire(r.Context(), desc, parsed.ImageName)

	ctx := r.Context()
	if parsed.ApiKind != classify.KindBlobs {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, controlCallTimeout)
		defer cancel()
	}

	resp, hops, err := p.dispatch(ctx, r, desc.scheme()+"://"+desc.Upstream+targetPath, token, parsed.ApiKind == classify.KindManifests)
	if err != nil {
		p.log.Warn().Err(err).Str("target", targetPath).Msg("upstream dispatch failed")
		writeJSONError(w, perr.Wrapf(err, perr.ErrorCodeBadGateway, "upstream request failed"))
		return
	}
	defer resp.Body.Close()
	if p.metrics != nil {
		p.metrics.RedirectHops.WithLabelValues("registry").Observe(float64(hops))
	}

	p.writeUpstreamResponse(w, r, resp)
}

func (p *Proxy) serveBaseProbe(w http.ResponseWriter, r *http.Request) {
	desc, _ := p.table.Lookup("")
	ctx, cancel := context.WithTimeout(r.Context(), controlCallTimeout)
	defer cancel()
	resp, _, err := p.dispatch(ctx, r, desc.scheme()+"://"+desc.Upstream+"/v2/", "", false)
	if err != nil {
		writeJSONError(w, perr.Wrapf(err, perr.ErrorCodeBadGateway, "upstream probe failed"))
		return
	}
	defer resp.Body.Close()
	p.writeUpstreamResponse(w, r, resp)
}

// dispatch issues the upstream request and follows redirects manually, up
// to maxRedirects hops, without content gating (registry blob fetches
// routinely redirect to CDN storage). It returns the number of redirect
// hops followed before the final response.
func (p *Proxy) dispatch(ctx context.Context, r *http.Request, target, token string, wantManifestAccept bool) (*http.Response, int, error) {
	url := target
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}
	for hop := 0; ; hop++ {
		if hop > maxRedirects {
			return nil, hop, perr.Newf(perr.ErrorCodeRedirectLoop, "exceeded %d redirects", maxRedirects)
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, url, body)
		if err != nil {
			return nil, hop, err
		}
		proxyutil.CopyHeaderExcept(req.Header, r.Header, map[string]bool{})
		proxyutil.StripHopHeaders(req.Header)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if req.Header.Get("Accept") == "" && wantManifestAccept {
			req.Header.Set("Accept", manifestAcceptHeader)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, hop, perr.Wrapf(err, perr.ErrorCodeBadGateway, "upstream transport error")
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if loc == "" {
				return nil, hop, perr.Newf(perr.ErrorCodeBadGateway, "redirect with no Location header")
			}
			url = loc
			body = nil // redirect hops keep the method but carry no request body
			continue
		}
		return resp, hop, nil
	}
}

var realmPattern = regexp.MustCompile(`realm="[^"]*"`)

func (p *Proxy) writeUpstreamResponse(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	hdr := w.Header()
	proxyutil.CopyHeaderExcept(hdr, resp.Header, map[string]bool{"www-authenticate": true})
	proxyutil.StripHopHeaders(hdr)

	if wa := resp.Header.Get("Www-Authenticate"); wa != "" {
		rewritten := rewriteWWWAuthenticateRealm(wa, proxyutil.ClientBase(r)+"/token")
		hdr.Set("Www-Authenticate", rewritten)
	}

	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, resp.Body)
	if p.metrics != nil {
		p.metrics.BytesStreamed.WithLabelValues("registry").Add(float64(n))
	}
}

// rewriteWWWAuthenticateRealm replaces the realm="..." argument of a
// WWW-Authenticate header with newRealm, leaving every other parameter
// (service, scope, error) untouched.
func rewriteWWWAuthenticateRealm(header, newRealm string) string {
	return realmPattern.ReplaceAllString(header, `realm="`+newRealm+`"`)
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := perr.HTTPStatus(err)
	msg := err.Error()
	if e, ok := perr.As(err); ok {
		msg = e.ToWire().Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + jsonEscape(msg) + `"}`))
}

func jsonEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(s)
}
