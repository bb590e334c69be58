// Package ghproxy implements the GitHub/HuggingFace file-download
// accelerator: URL classification, a bounded manual redirect walk,
// content-type and size gating, and the install-script URL rewrite.
package ghproxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"accelproxy/internal/access"
	"accelproxy/internal/classify"
	perr "accelproxy/internal/platform/errors"
	"accelproxy/internal/platform/logger"
	phttp "accelproxy/internal/platform/net/http"
	"accelproxy/internal/proxyutil"
)

const maxRedirects = 20

var blockedContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/xml":              true,
	"application/xml":       true,
}

var browserPolicyHeaders = []string{
	"Content-Security-Policy",
	"Referrer-Policy",
	"Strict-Transport-Security",
}

var scriptURLPattern = regexp.MustCompile(`https?://(?:github\.com|raw\.githubusercontent\.com)/\S+`)

// Proxy serves the catch-all GitHub/HF fallback route.
type Proxy struct {
	policy   *access.Policy
	client   *http.Client
	maxBytes int64
	log      *logger.Logger
	metrics  *phttp.Metrics
}

// NewProxy builds a Proxy. maxBytes is the Content-Length cap (spec.md's
// "fileSize" server setting); responses over it are rejected with 413.
func NewProxy(policy *access.Policy, client *http.Client, maxBytes int64) *Proxy {
	return &Proxy{
		policy:   policy,
		client:   client,
		maxBytes: maxBytes,
		log:      logger.Named("ghproxy"),
	}
}

// WithMetrics attaches Prometheus collectors; nil disables recording.
func (p *Proxy) WithMetrics(m *phttp.Metrics) *Proxy {
	p.metrics = m
	return p
}

// ServeHTTP handles the catch-all "/*" route: everything after the
// leading slash of the request URI is the target URL.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()
	log := p.log.With().Str("trace_id", traceID).Logger()

	tail := strings.TrimPrefix(r.URL.RequestURI(), "/")
	rawURL := classify.NormalizeRawURL(tail)

	m, ok := classify.MatchGitHub(rawURL)
	if !ok {
		writeProxyError(w, perr.Newf(perr.ErrorCodeForbidden, "invalid input"))
		return
	}

	if d := p.policy.CheckGitHub(m.Subject); !d.Allowed {
		if p.metrics != nil {
			p.metrics.AccessDenials.WithLabelValues("github").Inc()
		}
		writeProxyError(w, perr.Newf(perr.ErrorCodeForbidden, "access denied: %s", d.Reason))
		return
	}

	// No artificial deadline here: unlike the registry's manifest/tag
	// control calls, every fetch on this path can be an arbitrarily large
	// file download, so the only bound is the client's own context
	// (canceled on disconnect).
	resp, hops, err := p.walk(r.Context(), r, m.RewrittenURL)
	if err != nil {
		log.Warn().Err(err).Str("url", m.RewrittenURL).Msg("redirect walk failed")
		writeProxyError(w, err)
		return
	}
	defer resp.Body.Close()
	log.Debug().Int("hops", hops).Int("status", resp.StatusCode).Msg("upstream fetch complete")
	if p.metrics != nil {
		p.metrics.RedirectHops.WithLabelValues("github").Observe(float64(hops))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if blockedContentTypes[primaryContentType(resp.Header.Get("Content-Type"))] {
			writeProxyError(w, perr.Newf(perr.ErrorCodeForbidden, "content type not allowed: webpages are not proxied"))
			return
		}
		if p.maxBytes > 0 && resp.ContentLength > p.maxBytes {
			writeProxyError(w, perr.Newf(perr.ErrorCodeTooLarge, "response exceeds the %d byte cap", p.maxBytes))
			return
		}
	}

	if isScriptPath(r.URL.Path) {
		p.writeRewrittenScript(w, r, resp)
		return
	}
	p.writeStreamed(w, resp)
}

// walk performs the manual redirect-following loop bounded at
// maxRedirects hops. Redirect responses are re-dispatched verbatim with
// no content gating; gating only ever applies to the final 2xx response.
func (p *Proxy) walk(ctx context.Context, r *http.Request, startURL string) (*http.Response, int, error) {
	url := startURL
	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}

	for hop := 0; ; hop++ {
		if hop > maxRedirects {
			return nil, hop, perr.Newf(perr.ErrorCodeRedirectLoop, "too many redirects")
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, url, body)
		if err != nil {
			return nil, hop, perr.Wrapf(err, perr.ErrorCodeBadGateway, "request build failed")
		}
		proxyutil.CopyHeaderExcept(req.Header, r.Header, map[string]bool{})
		proxyutil.StripHopHeaders(req.Header)

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
			body = nil // redirect hops keep the original method but carry no request body
			continue
		}
		return resp, hop, nil
	}
}

func primaryContentType(h string) string {
	ct, _, _ := strings.Cut(h, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

func isScriptPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".sh") || strings.HasSuffix(lower, ".ps1")
}

func (p *Proxy) copyResponseHeaders(dst, src http.Header) {
	except := map[string]bool{}
	for _, h := range browserPolicyHeaders {
		except[strings.ToLower(h)] = true
	}
	proxyutil.CopyHeaderExcept(dst, src, except)
	proxyutil.StripHopHeaders(dst)
}

func (p *Proxy) writeStreamed(w http.ResponseWriter, resp *http.Response) {
	p.copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, resp.Body)
	if p.metrics != nil {
		p.metrics.BytesStreamed.WithLabelValues("github").Add(float64(n))
	}
}

// writeRewrittenScript buffers the entire body and rewrites every github.com/
// raw.githubusercontent.com URL to route back through this proxy, so a
// downloaded install script's own curl/wget calls are also accelerated.
// The only size bound is ServeHTTP's maxBytes check, which applies to a
// declared Content-Length; a body without one is read in full.
func (p *Proxy) writeRewrittenScript(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeProxyError(w, perr.Wrapf(err, perr.ErrorCodeBadGateway, "failed reading script body"))
		return
	}

	base := proxyutil.ClientBase(r)
	rewritten := scriptURLPattern.ReplaceAllFunc(body, func(match []byte) []byte {
		return []byte(base + "/" + string(match))
	})

	hdr := w.Header()
	p.copyResponseHeaders(hdr, resp.Header)
	hdr.Del("Content-Length")
	w.WriteHeader(resp.StatusCode)
	n, _ := io.Copy(w, bytes.NewReader(rewritten))
	if p.metrics != nil {
		p.metrics.BytesStreamed.WithLabelValues("github").Add(float64(n))
	}
}

func writeProxyError(w http.ResponseWriter, err error) {
	status := perr.HTTPStatus(err)
	msg := err.Error()
	if e, ok := perr.As(err); ok {
		msg = e.ToWire().Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(msg) + `"}`))
}
