// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cookies is the client's cookie jar. Unlike net/http/cookiejar
// it can enumerate and export every cookie it holds, which is what
// session persistence (AppState) needs, and it lets the request layer
// mirror a cookie onto a second site.
//
// Cookies are keyed by (domain, path, name). Domains are stored without
// a leading dot and match the domain itself and every subdomain.
package cookies

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie is one stored cookie.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string

	// Expires is zero for session cookies.
	Expires time.Time

	Secure   bool
	HTTPOnly bool
}

type key struct {
	domain string
	path   string
	name   string
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[key]*entry
	next    uint64
}

type entry struct {
	cookie Cookie
	// sequence preserves first-insertion order for Export.
	sequence uint64
}

// NewStore returns an empty Store. now may be nil, in which case
// time.Now is used to evaluate expiry.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, entries: make(map[key]*entry)}
}

// NormalizeDomain lower-cases domain and strips a leading dot and any
// port.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, ".")
	if host, _, found := strings.Cut(domain, ":"); found {
		domain = host
	}
	return domain
}

// Set stores cookie, replacing any cookie with the same domain, path
// and name. A cookie whose expiry has passed deletes the stored one.
func (s *Store) Set(cookie Cookie) error {
	cookie.Domain = NormalizeDomain(cookie.Domain)
	if cookie.Domain == "" {
		return fmt.Errorf("cookies: %q has no domain", cookie.Name)
	}
	if cookie.Name == "" {
		return fmt.Errorf("cookies: cookie for %s has no name", cookie.Domain)
	}
	if suffix, _ := publicsuffix.PublicSuffix(cookie.Domain); suffix == cookie.Domain {
		return fmt.Errorf("cookies: refusing cookie %q on public suffix %s", cookie.Name, cookie.Domain)
	}
	if cookie.Path == "" || cookie.Path[0] != '/' {
		cookie.Path = "/"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{cookie.Domain, cookie.Path, cookie.Name}
	if !cookie.Expires.IsZero() && !cookie.Expires.After(s.now()) {
		delete(s.entries, k)
		return nil
	}
	if existing, ok := s.entries[k]; ok {
		existing.cookie = cookie
		return nil
	}
	s.next++
	s.entries[k] = &entry{cookie: cookie, sequence: s.next}
	return nil
}

// SetFromResponse stores every Set-Cookie header in header as if it
// was received from requestURL. Cookies without a Domain attribute are
// scoped to the request host. Malformed headers are skipped.
func (s *Store) SetFromResponse(requestURL *url.URL, header http.Header) []Cookie {
	var stored []Cookie
	for _, line := range header.Values("Set-Cookie") {
		parsed, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		cookie := fromHTTP(parsed, requestURL.Hostname(), s.now())
		if !domainMatch(requestURL.Hostname(), cookie.Domain) {
			continue
		}
		if err := s.Set(cookie); err == nil {
			stored = append(stored, cookie)
		}
	}
	return stored
}

func fromHTTP(parsed *http.Cookie, host string, now time.Time) Cookie {
	cookie := Cookie{
		Name:     parsed.Name,
		Value:    parsed.Value,
		Domain:   parsed.Domain,
		Path:     parsed.Path,
		Expires:  parsed.Expires,
		Secure:   parsed.Secure,
		HTTPOnly: parsed.HttpOnly,
	}
	if cookie.Domain == "" {
		cookie.Domain = host
	}
	switch {
	case parsed.MaxAge < 0:
		cookie.Expires = now.Add(-time.Second)
	case parsed.MaxAge > 0:
		cookie.Expires = now.Add(time.Duration(parsed.MaxAge) * time.Second)
	}
	return cookie
}

// Get returns the cookie called name that would be sent to domain.
func (s *Store) Get(domain, name string) (Cookie, bool) {
	for _, cookie := range s.ForHost(NormalizeDomain(domain), "/") {
		if cookie.Name == name {
			return cookie, true
		}
	}
	return Cookie{}, false
}

// ForHost returns the unexpired cookies that apply to host and path,
// most specific path first.
func (s *Store) ForHost(host, path string) []Cookie {
	host = NormalizeDomain(host)
	if path == "" {
		path = "/"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var matched []*entry
	for k, e := range s.entries {
		if !e.cookie.Expires.IsZero() && !e.cookie.Expires.After(now) {
			delete(s.entries, k)
			continue
		}
		if domainMatch(host, k.domain) && pathMatch(path, k.path) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if len(matched[i].cookie.Path) != len(matched[j].cookie.Path) {
			return len(matched[i].cookie.Path) > len(matched[j].cookie.Path)
		}
		return matched[i].sequence < matched[j].sequence
	})

	cookies := make([]Cookie, len(matched))
	for index, e := range matched {
		cookies[index] = e.cookie
	}
	return cookies
}

// Header renders the Cookie request header for target. Secure cookies
// are only sent over https and wss.
func (s *Store) Header(target *url.URL) string {
	secure := target.Scheme == "https" || target.Scheme == "wss"
	var builder strings.Builder
	for _, cookie := range s.ForHost(target.Hostname(), target.EscapedPath()) {
		if cookie.Secure && !secure {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("; ")
		}
		builder.WriteString(cookie.Name)
		builder.WriteByte('=')
		builder.WriteString(cookie.Value)
	}
	return builder.String()
}

// All returns every unexpired cookie in first-insertion order.
func (s *Store) All() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entries := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		if !e.cookie.Expires.IsZero() && !e.cookie.Expires.After(now) {
			delete(s.entries, k)
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sequence < entries[j].sequence })

	cookies := make([]Cookie, len(entries))
	for index, e := range entries {
		cookies[index] = e.cookie
	}
	return cookies
}

// Len returns the number of stored cookies, including any that have
// expired but not yet been swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func domainMatch(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == cookiePath || cookiePath == "/" {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}
