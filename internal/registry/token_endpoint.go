package registry

import (
	"context"
	"io"
	"net/http"

	perr "accelproxy/internal/platform/errors"
	"accelproxy/internal/proxyutil"
)

const dockerAuthHost = "https://auth.docker.io/token"

// ServeToken proxies /token and /token/* straight through to Docker Hub's
// token issuer, passing all query parameters and defaulting "service" to
// "registry.docker.io" when absent.
func (p *Proxy) ServeToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("service") == "" {
		q.Set("service", "registry.docker.io")
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dockerAuthHost+"?"+q.Encode(), nil)
	if err != nil {
		writeJSONError(w, perr.Wrapf(err, perr.ErrorCodeBadGateway, "token request build failed"))
		return
	}
	proxyutil.CopyHeaderExcept(req.Header, r.Header, map[string]bool{})
	proxyutil.StripHopHeaders(req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		writeJSONError(w, perr.Wrapf(err, perr.ErrorCodeBadGateway, "token endpoint unreachable"))
		return
	}
	defer resp.Body.Close()

	hdr := w.Header()
	proxyutil.CopyHeaderExcept(hdr, resp.Header, map[string]bool{})
	proxyutil.StripHopHeaders(hdr)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
