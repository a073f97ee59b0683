// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/bureau-foundation/messenger/lib/clock"
	"github.com/bureau-foundation/messenger/lib/cookies"
	"github.com/bureau-foundation/messenger/lib/netutil"
)

// DefaultUserAgent is the browser identity presented to the server.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_2) AppleWebKit/600.3.18 (KHTML, like Gecko) Version/8.0.3 Safari/600.3.18"

// DefaultTimeout bounds every HTTP exchange.
const DefaultTimeout = 60 * time.Second

// maxRedirects bounds HTTP 3xx chains followed by Fetch.
const maxRedirects = 10

// Endpoints are the base URLs of the sites the client talks to.
type Endpoints struct {
	Web       string
	Mobile    string
	Upload    string
	Messenger string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Web:       "https://www.facebook.com",
		Mobile:    "https://m.facebook.com",
		Upload:    "https://upload.facebook.com",
		Messenger: "https://www.messenger.com",
	}
}

// registrableDomain returns the eTLD+1 of rawURL's host, falling back
// to the host itself for addresses publicsuffix cannot reduce.
func registrableDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// HTTPClient carries every request. Its redirect policy is
	// overridden: Fetch follows redirects itself so cookies from each
	// hop land in the store. If nil, a client with DefaultTimeout is
	// created.
	HTTPClient *http.Client

	// Cookies is the jar shared by all requests. If nil, an empty
	// store is created.
	Cookies *cookies.Store

	// Endpoints defaults to DefaultEndpoints().
	Endpoints Endpoints

	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Metrics may be nil.
	Metrics *Metrics
}

// Client is the unauthenticated half of the request substrate: it owns
// the HTTP transport, the cookie store, and default headers. A Session
// layers the authenticated protocol on top.
type Client struct {
	httpClient *http.Client
	cookies    *cookies.Store
	endpoints  Endpoints
	userAgent  string
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *Metrics

	cookieDomain          string
	messengerCookieDomain string
}

// NewClient validates config and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	endpoints := config.Endpoints
	defaults := DefaultEndpoints()
	if endpoints.Web == "" {
		endpoints.Web = defaults.Web
	}
	if endpoints.Mobile == "" {
		endpoints.Mobile = defaults.Mobile
	}
	if endpoints.Upload == "" {
		endpoints.Upload = defaults.Upload
	}
	if endpoints.Messenger == "" {
		endpoints.Messenger = defaults.Messenger
	}
	for name, value := range map[string]string{
		"Web": endpoints.Web, "Mobile": endpoints.Mobile,
		"Upload": endpoints.Upload, "Messenger": endpoints.Messenger,
	} {
		parsed, err := url.Parse(value)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("messaging: invalid %s endpoint %q", name, value)
		}
	}
	endpoints.Web = strings.TrimRight(endpoints.Web, "/")
	endpoints.Mobile = strings.TrimRight(endpoints.Mobile, "/")
	endpoints.Upload = strings.TrimRight(endpoints.Upload, "/")
	endpoints.Messenger = strings.TrimRight(endpoints.Messenger, "/")

	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	httpClient := &http.Client{Timeout: DefaultTimeout}
	if config.HTTPClient != nil {
		copied := *config.HTTPClient
		httpClient = &copied
		if httpClient.Timeout == 0 {
			httpClient.Timeout = DefaultTimeout
		}
	}
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	store := config.Cookies
	if store == nil {
		store = cookies.NewStore(clk.Now)
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient:            httpClient,
		cookies:               store,
		endpoints:             endpoints,
		userAgent:             userAgent,
		logger:                logger,
		clock:                 clk,
		metrics:               config.Metrics,
		cookieDomain:          registrableDomain(endpoints.Web),
		messengerCookieDomain: registrableDomain(endpoints.Messenger),
	}, nil
}

// Cookies returns the jar shared by every request of the client.
func (c *Client) Cookies() *cookies.Store { return c.cookies }

// Endpoints returns the base URLs the client talks to.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

// UserAgent returns the User-Agent header sent on every request.
func (c *Client) UserAgent() string { return c.userAgent }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Clock returns the clock used for request timing and generated ids.
func (c *Client) Clock() clock.Clock { return c.clock }

// CookieDomain returns the registrable domain of the web endpoint,
// such as "facebook.com".
func (c *Client) CookieDomain() string { return c.cookieDomain }

// MessengerCookieDomain returns the registrable domain of the
// messenger endpoint.
func (c *Client) MessengerCookieDomain() string { return c.messengerCookieDomain }

// CloseIdleConnections drops pooled connections, for use after a
// network change.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// File is one part of a multipart upload.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Request describes one HTTP exchange.
type Request struct {
	// Method is GET or POST. Empty means POST.
	Method string

	// URL is absolute.
	URL string

	// Form is sent as the query string for GET and as the body for
	// POST.
	Form url.Values

	// Files switches a POST to multipart/form-data. Form values become
	// plain fields alongside them.
	Files []File

	// Header adds to or overrides the default headers.
	Header http.Header

	// FollowRedirects follows 3xx responses with GET requests.
	FollowRedirects bool
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodPost
	}
	return r.Method
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// URL is the final URL after any redirects Fetch followed.
	URL *url.URL
}

// Location returns the Location header, resolved against URL.
func (r *Response) Location() string {
	location := r.Header.Get("Location")
	if location == "" || r.URL == nil {
		return location
	}
	resolved, err := r.URL.Parse(location)
	if err != nil {
		return location
	}
	return resolved.String()
}

// Fetch performs one request, storing every cookie the server sets.
// It does not interpret the body. Network failures and timeouts are
// returned as KindTransientServer errors.
func (c *Client) Fetch(ctx context.Context, request Request) (*Response, error) {
	response, err := c.exchange(ctx, request)
	if err != nil {
		return nil, err
	}
	for hops := 0; request.FollowRedirects && isRedirect(response.StatusCode); hops++ {
		location := response.Location()
		if location == "" {
			break
		}
		if hops == maxRedirects {
			return nil, ParseError("fetch", fmt.Sprintf("more than %d redirects from %s", maxRedirects, request.URL), nil, nil)
		}
		response, err = c.exchange(ctx, Request{Method: http.MethodGet, URL: location, Header: request.Header})
		if err != nil {
			return nil, err
		}
	}
	return response, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (c *Client) exchange(ctx context.Context, request Request) (*Response, error) {
	target, err := url.Parse(request.URL)
	if err != nil {
		return nil, ParseError("fetch", fmt.Sprintf("invalid URL %q", request.URL), nil, err)
	}

	method := request.method()
	var body io.Reader
	contentType := ""
	switch {
	case method == http.MethodGet:
		if len(request.Form) > 0 {
			query := target.Query()
			for key, values := range request.Form {
				for _, value := range values {
					query.Add(key, value)
				}
			}
			target.RawQuery = query.Encode()
		}
	case len(request.Files) > 0:
		encoded, boundaryType, err := encodeMultipart(request.Form, request.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = encoded, boundaryType
	default:
		body = strings.NewReader(request.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, ParseError("fetch", "building request", nil, err)
	}
	httpRequest.Header.Set("User-Agent", c.userAgent)
	httpRequest.Header.Set("Referer", c.endpoints.Web+"/")
	httpRequest.Header.Set("Origin", c.endpoints.Web)
	httpRequest.Header.Set("Connection", "keep-alive")
	if contentType != "" {
		httpRequest.Header.Set("Content-Type", contentType)
	}
	if cookieHeader := c.cookies.Header(target); cookieHeader != "" {
		httpRequest.Header.Set("Cookie", cookieHeader)
	}
	for key, values := range request.Header {
		httpRequest.Header[textproto.CanonicalMIMEHeaderKey(key)] = values
	}

	started := c.clock.Now()
	httpResponse, err := c.httpClient.Do(httpRequest)
	c.metrics.observe(c.clock.Now().Sub(started).Seconds())
	if err != nil {
		return nil, TransientError("fetch", 0, nil, fmt.Errorf("%s %s: %w", method, target.Redacted(), err))
	}
	defer httpResponse.Body.Close()

	responseBody, err := netutil.ReadResponse(httpResponse.Body)
	if err != nil {
		return nil, TransientError("fetch", httpResponse.StatusCode, nil, err)
	}

	c.storeResponseCookies(target, httpResponse.Header)

	c.logger.Debug("http exchange",
		"method", method,
		"url", target.Redacted(),
		"status", httpResponse.StatusCode,
		"bytes", len(responseBody),
	)
	return &Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       responseBody,
		URL:        target,
	}, nil
}

// storeResponseCookies saves Set-Cookie headers and mirrors cookies
// scoped to the main site onto the messenger site, so both keep a
// consistent session.
func (c *Client) storeResponseCookies(target *url.URL, header http.Header) {
	stored := c.cookies.SetFromResponse(target, header)
	for _, cookie := range stored {
		if cookie.Domain != c.cookieDomain || c.messengerCookieDomain == c.cookieDomain {
			continue
		}
		cookie.Domain = c.messengerCookieDomain
		if err := c.cookies.Set(cookie); err != nil {
			c.logger.Warn("mirroring cookie", "name", cookie.Name, "error", err)
		}
	}
	c.metrics.cookies(len(stored))
}

// SetSiteCookie stores a cookie on both the main and messenger sites.
func (c *Client) SetSiteCookie(name, value, path string) error {
	for _, domain := range []string{c.cookieDomain, c.messengerCookieDomain} {
		if err := c.setCookie(domain, name, value, path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) setCookie(domain, name, value, path string) error {
	if err := c.cookies.Set(cookies.Cookie{Name: name, Value: value, Domain: domain, Path: path}); err != nil {
		return fmt.Errorf("messaging: setting cookie %s: %w", name, err)
	}
	c.metrics.cookies(1)
	return nil
}

// UserID returns the account id from the c_user cookie, if present.
func (c *Client) UserID() (string, bool) {
	cookie, ok := c.cookies.Get(c.cookieDomain, "c_user")
	if !ok || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func encodeMultipart(form url.Values, files []File) (io.Reader, string, error) {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	for key, values := range form {
		for _, value := range values {
			if err := writer.WriteField(key, value); err != nil {
				return nil, "", ParseError("fetch", "encoding multipart field", nil, err)
			}
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Name))
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", ParseError("fetch", "encoding multipart file", nil, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", ParseError("fetch", "encoding multipart file", nil, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", ParseError("fetch", "finishing multipart body", nil, err)
	}
	return &buffer, writer.FormDataContentType(), nil
}
