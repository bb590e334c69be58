// Package staticsite serves the proxy's own thin web surface: a home
// page, a search page backed by internal/hubapi, a favicon, and the
// /public/* asset tree, all bundled into the binary via embed.FS.
package staticsite

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed assets/index.html assets/search.html assets/favicon.ico assets/public
var assetsFS embed.FS

// Site serves the embedded static assets.
type Site struct {
	root   fs.FS
	public http.Handler
}

// NewSite builds a Site from the embedded asset tree.
func NewSite() *Site {
	root, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		// assetsFS is compiled in; a missing "assets" subtree is a build
		// defect, not a runtime condition to recover from.
		panic("staticsite: assets subtree missing: " + err.Error())
	}
	publicRoot, err := fs.Sub(root, "public")
	if err != nil {
		panic("staticsite: public subtree missing: " + err.Error())
	}
	return &Site{
		root:   root,
		public: http.StripPrefix("/public/", http.FileServer(http.FS(publicRoot))),
	}
}

// ServeHome handles GET /.
func (s *Site) ServeHome(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, "index.html", "text/html; charset=utf-8")
}

// ServeSearchPage handles GET /search.html.
func (s *Site) ServeSearchPage(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, "search.html", "text/html; charset=utf-8")
}

// ServeFavicon handles GET /favicon.ico.
func (s *Site) ServeFavicon(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, "favicon.ico", "image/x-icon")
}

// Public returns the handler for GET /public/*, serving the embedded
// asset tree rooted at assets/public.
func (s *Site) Public() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.public.ServeHTTP(w, r)
	}
}

func (s *Site) serveFile(w http.ResponseWriter, name, contentType string) {
	data, err := fs.ReadFile(s.root, name)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}
