// Package access implements the repo/image allow-and-deny gate: glob
// pattern matching against GitHub "owner/repo" subjects and Docker
// "[registry/]image" subjects.
package access

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Policy holds independent allow/deny pattern pairs for GitHub and Docker
// subjects. An empty allow list means allow-all; deny is always checked.
// Patterns are compiled lazily and cached, so the zero Policy is usable.
type Policy struct {
	GitHubAllow []string
	GitHubDeny  []string
	DockerAllow []string
	DockerDeny  []string

	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// CheckGitHub gates a "owner/repo[.git]" reference.
func (p *Policy) CheckGitHub(ownerRepo string) Decision {
	subject := strings.TrimSuffix(ownerRepo, ".git")
	p.mu.Lock()
	allow, deny := p.GitHubAllow, p.GitHubDeny
	p.mu.Unlock()
	return p.check(subject, allow, deny)
}

// CheckDocker gates a "[registry/]image" reference.
func (p *Policy) CheckDocker(image string) Decision {
	p.mu.Lock()
	allow, deny := p.DockerAllow, p.DockerDeny
	p.mu.Unlock()
	return p.check(image, allow, deny)
}

// UpdateLists swaps the allow/deny pattern lists in place, for config
// hot-reload of the [access] table. Already-compiled patterns stay cached
// since pattern strings that recur across reloads compile identically.
func (p *Policy) UpdateLists(githubAllow, githubDeny, dockerAllow, dockerDeny []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GitHubAllow = githubAllow
	p.GitHubDeny = githubDeny
	p.DockerAllow = dockerAllow
	p.DockerDeny = dockerDeny
}

func (p *Policy) check(subject string, allow, deny []string) Decision {
	if len(allow) > 0 && !p.matchesAny(subject, allow) {
		return Decision{Allowed: false, Reason: "not in allow list"}
	}
	if p.matchesAny(subject, deny) {
		return Decision{Allowed: false, Reason: "in deny list"}
	}
	return Decision{Allowed: true}
}

func (p *Policy) matchesAny(subject string, patterns []string) bool {
	for _, pat := range patterns {
		if p.compile(pat).MatchString(subject) {
			return true
		}
	}
	return false
}

func (p *Policy) compile(pattern string) *regexp.Regexp {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		p.cache = make(map[string]*regexp.Regexp)
	}
	if re, ok := p.cache[pattern]; ok {
		return re
	}
	re := wildcardToRegexp(pattern)
	p.cache[pattern] = re
	return re
}

// wildcardMatch reports whether pattern matches str under the proxy's glob
// rules: "*" matches any run of characters including "/", "?" matches any
// single character, matching is anchored and case-insensitive.
func wildcardMatch(pattern, str string) bool {
	return wildcardToRegexp(pattern).MatchString(str)
}

func wildcardToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		// Unreachable: every rune is either a wildcard or escaped via
		// QuoteMeta, so the built expression is always valid.
		panic(fmt.Sprintf("access: invalid generated pattern for %q: %v", pattern, err))
	}
	return re
}
