// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/jsonc"
)

// Record is one cookie in an exported session. The field names match
// the cookie dumps produced by browser extensions, so a session can be
// captured in a browser and restored here.
type Record struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  string `json:"expires,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// AppState is an ordered cookie export sufficient to resume a session
// without credentials.
type AppState []Record

// ErrEmptyAppState is returned when restoring zero cookies.
var ErrEmptyAppState = errors.New("cookies: appstate contains no cookies")

// ParseAppState decodes an exported session. Comments and trailing
// commas are accepted since these files are often edited by hand.
// Browser dumps that use "name" instead of "key" are accepted too.
func ParseAppState(data []byte) (AppState, error) {
	var raw []struct {
		Record
		Name string `json:"name"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, fmt.Errorf("cookies: parsing appstate: %w", err)
	}
	state := make(AppState, 0, len(raw))
	for index, item := range raw {
		record := item.Record
		if record.Key == "" {
			record.Key = item.Name
		}
		if record.Key == "" {
			return nil, fmt.Errorf("cookies: appstate entry %d has no key", index)
		}
		state = append(state, record)
	}
	if len(state) == 0 {
		return nil, ErrEmptyAppState
	}
	return state, nil
}

// Marshal renders state as indented JSON.
func (state AppState) Marshal() ([]byte, error) {
	return json.MarshalIndent(state, "", "  ")
}

// Export snapshots every live cookie in insertion order.
func (s *Store) Export() AppState {
	all := s.All()
	state := make(AppState, 0, len(all))
	for _, cookie := range all {
		record := Record{
			Key:      cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HTTPOnly,
		}
		if !cookie.Expires.IsZero() {
			record.Expires = cookie.Expires.UTC().Format(time.RFC3339)
		}
		state = append(state, record)
	}
	return state
}

// Restore loads every record of state into the store. Records with an
// unparseable expiry are kept as session cookies; "Infinity" is
// treated the same way.
func (s *Store) Restore(state AppState) error {
	if len(state) == 0 {
		return ErrEmptyAppState
	}
	for _, record := range state {
		cookie := Cookie{
			Name:     record.Key,
			Value:    record.Value,
			Domain:   record.Domain,
			Path:     record.Path,
			Secure:   record.Secure,
			HTTPOnly: record.HTTPOnly,
		}
		if record.Expires != "" {
			if expires, err := parseExpiry(record.Expires); err == nil {
				cookie.Expires = expires
			}
		}
		if err := s.Set(cookie); err != nil {
			return err
		}
	}
	return nil
}

func parseExpiry(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC1123, "Mon, 02-Jan-2006 15:04:05 MST"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("cookies: unrecognized expiry %q", value)
}
