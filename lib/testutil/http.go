// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
)

// RoutedHTTPClient returns an http.Client that sends every request to
// server regardless of the URL's host, so production URLs such as
// http://www.facebook.com/ can be used verbatim in tests while the
// handler sees the original Host header. Redirects are not followed.
func RoutedHTTPClient(server *httptest.Server) *http.Client {
	address := server.Listener.Addr().String()
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, network, address)
			},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
