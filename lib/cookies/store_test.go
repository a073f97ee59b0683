// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cookies

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return parsed
}

func TestSetAndHeaderDomainMatching(t *testing.T) {
	store := NewStore(fixedNow)
	if err := store.Set(Cookie{Name: "c_user", Value: "100001", Domain: ".facebook.com"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(Cookie{Name: "xs", Value: "secret", Domain: "facebook.com", Secure: true}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(Cookie{Name: "locale", Value: "en_US", Domain: "messenger.com"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	header := store.Header(mustURL(t, "https://www.facebook.com/ajax/presence"))
	if header != "c_user=100001; xs=secret" {
		t.Errorf("Header = %q", header)
	}
	if header := store.Header(mustURL(t, "http://www.facebook.com/")); header != "c_user=100001" {
		t.Errorf("insecure Header = %q, secure cookie leaked", header)
	}
	if header := store.Header(mustURL(t, "https://www.messenger.com/")); header != "locale=en_US" {
		t.Errorf("messenger Header = %q", header)
	}
	if header := store.Header(mustURL(t, "https://notfacebook.com/")); header != "" {
		t.Errorf("unrelated host got cookies: %q", header)
	}
}

func TestSetReplacesAndExpires(t *testing.T) {
	store := NewStore(fixedNow)
	store.Set(Cookie{Name: "fr", Value: "one", Domain: "facebook.com"})
	store.Set(Cookie{Name: "fr", Value: "two", Domain: "facebook.com"})
	if cookie, _ := store.Get("www.facebook.com", "fr"); cookie.Value != "two" {
		t.Errorf("fr = %q, want replaced value", cookie.Value)
	}

	store.Set(Cookie{Name: "fr", Value: "", Domain: "facebook.com", Expires: now.Add(-time.Hour)})
	if _, ok := store.Get("facebook.com", "fr"); ok {
		t.Error("expired cookie should delete the stored one")
	}
}

func TestSetRejectsPublicSuffix(t *testing.T) {
	store := NewStore(fixedNow)
	if err := store.Set(Cookie{Name: "x", Value: "1", Domain: "com"}); err == nil {
		t.Error("cookie on a public suffix should be rejected")
	}
	if err := store.Set(Cookie{Name: "", Value: "1", Domain: "facebook.com"}); err == nil {
		t.Error("cookie without a name should be rejected")
	}
}

func TestSetFromResponse(t *testing.T) {
	store := NewStore(fixedNow)
	header := http.Header{}
	header.Add("Set-Cookie", "datr=abc; Domain=.facebook.com; Path=/; Max-Age=3600; Secure; HttpOnly")
	header.Add("Set-Cookie", "sb=xyz; Path=/")
	header.Add("Set-Cookie", "evil=1; Domain=example.org")

	stored := store.SetFromResponse(mustURL(t, "https://www.facebook.com/login/"), header)
	if len(stored) != 2 {
		t.Fatalf("stored %d cookies, want 2: %+v", len(stored), stored)
	}
	datr, ok := store.Get("facebook.com", "datr")
	if !ok || !datr.Secure || !datr.HTTPOnly || !datr.Expires.Equal(now.Add(time.Hour)) {
		t.Errorf("datr = %+v", datr)
	}
	if sb, ok := store.Get("www.facebook.com", "sb"); !ok || sb.Domain != "www.facebook.com" {
		t.Errorf("host-only cookie = %+v, %v", sb, ok)
	}
	if _, ok := store.Get("example.org", "evil"); ok {
		t.Error("cookie for a foreign domain was accepted")
	}
}

func TestPathMatching(t *testing.T) {
	store := NewStore(fixedNow)
	store.Set(Cookie{Name: "a", Value: "root", Domain: "facebook.com", Path: "/"})
	store.Set(Cookie{Name: "b", Value: "ajax", Domain: "facebook.com", Path: "/ajax"})

	if header := store.Header(mustURL(t, "https://facebook.com/ajax/mercury")); header != "b=ajax; a=root" {
		t.Errorf("Header = %q, want most specific path first", header)
	}
	if header := store.Header(mustURL(t, "https://facebook.com/ajaxify")); header != "a=root" {
		t.Errorf("Header = %q, /ajax must not match /ajaxify", header)
	}
}
