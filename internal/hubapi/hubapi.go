// Package hubapi passes Docker Hub's search and tags JSON APIs through
// the proxy, fronted by a bounded TTL cache (spec.md's SearchCache) so
// repeated queries don't round-trip to Hub on every request.
package hubapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"accelproxy/internal/platform/logger"
	"accelproxy/internal/platform/net/http/bind"
	"accelproxy/internal/ttlcache"
)

const searchCacheCapacity = 1000
const searchCacheTTL = 30 * time.Minute
const controlCallTimeout = 30 * time.Second

const hubBase = "https://hub.docker.com/v2"

// searchQuery validates the /search endpoint's parameters.
type searchQuery struct {
	Query    string `validate:"required"`
	Page     int    `validate:"omitempty,min=1"`
	PageSize int    `validate:"omitempty,min=1,max=100"`
}

// tagsQuery validates the /tags endpoint's parameters.
type tagsQuery struct {
	Namespace string `validate:"required"`
	Name      string `validate:"required"`
	Page      int    `validate:"omitempty,min=1"`
	PageSize  int    `validate:"omitempty,min=1,max=100"`
}

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// Proxy serves /search and /tags (both query and path forms).
type Proxy struct {
	client *http.Client
	cache  *ttlcache.Map[string, cachedResponse]
	log    *logger.Logger

	// base overrides hubBase; empty means the real Hub API. Tests point
	// this at a local httptest server.
	base string
}

// NewProxy builds a Proxy using client for upstream calls to Hub.
func NewProxy(client *http.Client) *Proxy {
	return &Proxy{
		client: client,
		cache:  ttlcache.New[string, cachedResponse](searchCacheCapacity, searchCacheTTL),
		log:    logger.Named("hubapi"),
		base:   hubBase,
	}
}

// NewProxyWithBase builds a Proxy against a non-default Hub API base URL.
func NewProxyWithBase(client *http.Client, base string) *Proxy {
	p := NewProxy(client)
	p.base = base
	return p
}

// ServeSearch handles GET /search?q=|query=[&page][&page_size].
func (p *Proxy) ServeSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := q.Get("q")
	if term == "" {
		term = q.Get("query")
	}
	sq := searchQuery{
		Query:    term,
		Page:     atoiOr(q.Get("page"), 0),
		PageSize: atoiOr(q.Get("page_size"), 0),
	}
	if err := bind.Get().Validator.Struct(sq); err != nil {
		_, msg := bind.ValidationFieldAndMessage(err)
		writeValidationError(w, msg)
		return
	}

	upstreamQuery := url.Values{}
	upstreamQuery.Set("query", sq.Query)
	if sq.Page > 0 {
		upstreamQuery.Set("page", strconv.Itoa(sq.Page))
	}
	if sq.PageSize > 0 {
		upstreamQuery.Set("page_size", strconv.Itoa(sq.PageSize))
	}
	p.servePassthrough(w, r, p.base+"/search/repositories/?"+upstreamQuery.Encode(), "search|"+upstreamQuery.Encode())
}

// ServeTags handles GET /tags?namespace=&name=[&page][&page_size].
func (p *Proxy) ServeTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tq := tagsQuery{
		Namespace: q.Get("namespace"),
		Name:      q.Get("name"),
		Page:      atoiOr(q.Get("page"), 0),
		PageSize:  atoiOr(q.Get("page_size"), 0),
	}
	if err := bind.Get().Validator.Struct(tq); err != nil {
		_, msg := bind.ValidationFieldAndMessage(err)
		writeValidationError(w, msg)
		return
	}
	p.serveTags(w, r, tq.Namespace, tq.Name, tq.Page, tq.PageSize)
}

// ServeTagsPath handles GET /tags/:namespace/*name, the path-form
// variant. It carries a documented compatibility wart: when namespace is
// "library" (the implicit Docker Hub namespace) and name itself contains
// a slash, the first path segment of name is treated as the real
// namespace and the remainder as the image name. This reproduces a
// heuristic from the original tool bit-exact rather than "fixing" it.
func (p *Proxy) ServeTagsPath(w http.ResponseWriter, r *http.Request, namespace, name string) {
	if namespace == "library" && strings.Contains(name, "/") {
		parts := strings.SplitN(name, "/", 2)
		namespace, name = parts[0], parts[1]
	}
	q := r.URL.Query()
	p.serveTags(w, r, namespace, name, atoiOr(q.Get("page"), 0), atoiOr(q.Get("page_size"), 0))
}

func (p *Proxy) serveTags(w http.ResponseWriter, r *http.Request, namespace, name string, page, pageSize int) {
	if namespace == "" || name == "" {
		writeValidationError(w, "namespace and name are required")
		return
	}
	upstreamQuery := url.Values{}
	if page > 0 {
		upstreamQuery.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		upstreamQuery.Set("page_size", strconv.Itoa(pageSize))
	}
	target := p.base + "/namespaces/" + url.PathEscape(namespace) + "/repositories/" + url.PathEscape(name) + "/tags"
	if len(upstreamQuery) > 0 {
		target += "?" + upstreamQuery.Encode()
	}
	p.servePassthrough(w, r, target, "tags|"+namespace+"|"+name+"|"+upstreamQuery.Encode())
}

func (p *Proxy) servePassthrough(w http.ResponseWriter, r *http.Request, target, cacheKey string) {
	if cr, ok := p.cache.Get(cacheKey); ok {
		writeResponse(w, cr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		writeValidationError(w, "failed to build upstream request")
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("target", target).Msg("hub upstream call failed")
		http.Error(w, `{"error":"hub api unreachable"}`, http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, `{"error":"failed reading hub response"}`, http.StatusInternalServerError)
		return
	}
	cr := cachedResponse{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: body}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.cache.Set(cacheKey, cr)
	}
	writeResponse(w, cr)
}

func writeResponse(w http.ResponseWriter, cr cachedResponse) {
	if cr.contentType != "" {
		w.Header().Set("Content-Type", cr.contentType)
	}
	w.WriteHeader(cr.status)
	_, _ = w.Write(cr.body)
}

func writeValidationError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"error":"` + strings.ReplaceAll(msg, `"`, `'`) + `"}`))
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
