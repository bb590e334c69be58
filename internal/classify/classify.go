// Package classify recognizes which upstream ecosystem a request targets:
// the GitHub/HuggingFace file-download family, matched against an ordered
// pattern table, or the OCI Registry v2 path shape under /v2/.
package classify

import (
	"regexp"
	"strings"
)

// Match is the result of matching a GitHub/HF URL against the pattern
// table: the owner/repo-ish subject used for access control, and the
// rewritten URL (blob->raw applied where relevant).
type Match struct {
	Subject      string
	RewrittenURL string
}

type githubPattern struct {
	re      *regexp.Regexp
	subject func(groups []string) string
	rewrite bool // blob -> raw first-occurrence rewrite
}

// githubPatterns is deliberately ordered: the first matching entry wins.
var githubPatterns = []githubPattern{
	{
		re:      regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/(?:releases|archive)/.+$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/(?:blob|raw)/.+$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
		rewrite: true,
	},
	{
		re:      regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/(?:info/.+|git-.+)$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://raw\.githubusercontent\.com/([^/]+)/([^/]+)/.+$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://raw\.github\.com/([^/]+)/([^/]+)/.+$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://gist\.github(?:usercontent)?\.com/([^/]+)/.+$`),
		subject: func(g []string) string { return g[1] },
	},
	{
		re:      regexp.MustCompile(`^https?://api\.github\.com/repos/([^/]+)/([^/]+)/.+$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://huggingface\.co/(?:spaces/)?([^/]+)/(.+)$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://cdn-lfs\.hf\.co/(?:spaces/)?([^/]+)/([^/]+).*$`),
		subject: func(g []string) string { return g[1] + "/" + g[2] },
	},
	{
		re:      regexp.MustCompile(`^https?://download\.docker\.com/([^/]+)/.+\.(?:tgz|zip)$`),
		subject: func(g []string) string { return g[1] },
	},
	{
		re:      regexp.MustCompile(`^https?://github\.githubassets\.com/([^/]+)/.+$`),
		subject: func(g []string) string { return g[1] },
	},
	{
		re:      regexp.MustCompile(`^https?://opengraph\.githubassets\.com/([^/]+)/.+$`),
		subject: func(g []string) string { return g[1] },
	},
}

// MatchGitHub runs the ordered GitHub/HF pattern table against a
// normalized absolute URL. ok is false if no pattern matched.
func MatchGitHub(normalizedURL string) (Match, bool) {
	for _, p := range githubPatterns {
		g := p.re.FindStringSubmatch(normalizedURL)
		if g == nil {
			continue
		}
		url := normalizedURL
		if p.rewrite {
			url = rewriteBlobToRaw(url)
		}
		return Match{Subject: p.subject(g), RewrittenURL: url}, true
	}
	return Match{}, false
}

// rewriteBlobToRaw replaces the first occurrence of "/blob/" with "/raw/".
func rewriteBlobToRaw(url string) string {
	return strings.Replace(url, "/blob/", "/raw/", 1)
}

// ApiKind identifies the shape of a registry path under /v2/.
type ApiKind int

// Registry path shapes, per spec.md §4.4.
const (
	KindBase ApiKind = iota
	KindManifests
	KindBlobs
	KindTags
)

// ParsedRegistryPath is the result of classifying a request path under
// /v2/. RegistryHost is empty for Docker Hub.
type ParsedRegistryPath struct {
	RegistryHost string
	ImageName    string
	ApiKind      ApiKind
	Reference    string
}

// defaultKnownHosts is the built-in registry host list used by
// ParseRegistryPath: a leading known host is stripped from imageName and
// recorded as RegistryHost. Configured [registries.<host>] entries are not
// in this list; callers pass them to ParseRegistryPathWithHosts instead.
var defaultKnownHosts = []string{"ghcr.io", "gcr.io", "quay.io", "registry.k8s.io"}

// ParseRegistryPath classifies the portion of a request path following
// "/v2/" using the built-in default registry host table.
func ParseRegistryPath(afterV2 string) ParsedRegistryPath {
	return ParseRegistryPathWithHosts(afterV2, defaultKnownHosts)
}

// ParseRegistryPathWithHosts is ParseRegistryPath parameterized by the
// set of known registry hostnames configured for this deployment (the
// built-in defaults plus any [registries.<host>] entries).
func ParseRegistryPathWithHosts(afterV2 string, knownHosts []string) ParsedRegistryPath {
	p := strings.Trim(afterV2, "/")
	if p == "" {
		return ParsedRegistryPath{ApiKind: KindBase}
	}

	image := p
	kind := KindBase
	reference := ""

	switch {
	case strings.Contains(p, "/manifests/"):
		idx := strings.LastIndex(p, "/manifests/")
		image = p[:idx]
		reference = p[idx+len("/manifests/"):]
		kind = KindManifests
	case strings.Contains(p, "/blobs/"):
		idx := strings.LastIndex(p, "/blobs/")
		image = p[:idx]
		reference = p[idx+len("/blobs/"):]
		kind = KindBlobs
	case strings.HasSuffix(p, "/tags/list"):
		image = strings.TrimSuffix(p, "/tags/list")
		kind = KindTags
	}

	registryHost := ""
	for _, host := range knownHosts {
		if image == host || strings.HasPrefix(image, host+"/") {
			registryHost = host
			image = strings.TrimPrefix(image, host)
			image = strings.TrimPrefix(image, "/")
			break
		}
	}

	// Docker Hub: unscoped single-segment images get the implicit
	// "library/" namespace (e.g. "nginx" -> "library/nginx").
	if registryHost == "" && image != "" && !strings.Contains(image, "/") {
		image = "library/" + image
	}

	return ParsedRegistryPath{
		RegistryHost: registryHost,
		ImageName:    image,
		ApiKind:      kind,
		Reference:    reference,
	}
}

// NormalizeRawURL turns the trailing portion of the original request URI
// (everything after the leading "/") into an absolute URL: duplicate
// leading slashes are collapsed and a scheme is prepended if neither
// "http://" nor "https://" is already present.
func NormalizeRawURL(rawTail string) string {
	s := strings.TrimLeft(rawTail, "/")
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		s = "https://" + s
	}
	return s
}
