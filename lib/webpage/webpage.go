// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package webpage extracts the values a browser login needs from server
// rendered HTML: form inputs, inline script cookies, the password
// encryption key, and redirect hints. Structured markup is read with an
// HTML parser; values embedded in inline scripts are located by their
// surrounding text.
package webpage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/bureau-foundation/messenger/lib/pwenc"
)

// ErrNotFound is returned when a value is absent from the page.
var ErrNotFound = errors.New("webpage: value not found")

// Page is a parsed HTML document plus its raw text.
type Page struct {
	raw  string
	root *html.Node
}

// Parse builds a Page from a response body. The HTML parser accepts any
// input, so Parse only fails on reader errors.
func Parse(body []byte) (*Page, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webpage: parsing html: %w", err)
	}
	return &Page{raw: string(body), root: root}, nil
}

// Raw returns the unparsed document text.
func (p *Page) Raw() string { return p.raw }

// Contains reports whether the raw document contains marker.
func (p *Page) Contains(marker string) bool {
	return strings.Contains(p.raw, marker)
}

// Between returns the text following the first occurrence of start up to
// the next occurrence of end. A missing start yields "" and no error; a
// missing end after a found start is an error.
func Between(text, start, end string) (string, error) {
	index := strings.Index(text, start)
	if index < 0 {
		return "", nil
	}
	rest := text[index+len(start):]
	stop := strings.Index(rest, end)
	if stop < 0 {
		return "", fmt.Errorf("webpage: no %q after %q", end, start)
	}
	return rest[:stop], nil
}

// InputValue returns the value attribute of the first input element
// named name.
func (p *Page) InputValue(name string) (string, bool) {
	var value string
	found := false
	walk(p.root, func(node *html.Node) bool {
		if node.DataAtom == atom.Input && attribute(node, "name") == name {
			value, found = attribute(node, "value"), true
			return false
		}
		return true
	})
	return value, found
}

// FormInputs collects every named input inside a form element whose
// value is non-empty.
func (p *Page) FormInputs() url.Values {
	values := url.Values{}
	walk(p.root, func(node *html.Node) bool {
		if node.DataAtom != atom.Form {
			return true
		}
		walk(node, func(input *html.Node) bool {
			if input.DataAtom == atom.Input {
				name, value := attribute(input, "name"), attribute(input, "value")
				if name != "" && value != "" {
					values.Set(name, value)
				}
			}
			return true
		})
		return true
	})
	return values
}

// MetaRefresh returns the target of an immediate
// <meta http-equiv="refresh" content="0;url=..."> element.
func (p *Page) MetaRefresh() (string, bool) {
	var target string
	walk(p.root, func(node *html.Node) bool {
		if node.DataAtom != atom.Meta || !strings.EqualFold(attribute(node, "http-equiv"), "refresh") {
			return true
		}
		delay, rest, ok := strings.Cut(attribute(node, "content"), ";")
		if !ok || strings.TrimSpace(delay) != "0" {
			return true
		}
		rest = strings.TrimSpace(rest)
		if len(rest) > 4 && strings.EqualFold(rest[:4], "url=") {
			target = rest[4:]
			return false
		}
		return true
	})
	return target, target != ""
}

// ScriptCookie is a cookie the page would set from inline script.
type ScriptCookie struct {
	Name  string
	Value string
	Path  string
}

// ScriptCookies returns the cookies declared in inline script as
// ["_js_<name>","<value>",<expiry>,"<path>",...] arrays. The "_js_"
// prefix is removed from the name. Unparseable declarations are
// skipped.
func (p *Page) ScriptCookies() []ScriptCookie {
	var found []ScriptCookie
	parts := strings.Split(p.raw, `"_js_`)
	for _, part := range parts[1:] {
		end := strings.Index(part, "]")
		if end < 0 {
			continue
		}
		var fields []json.RawMessage
		if json.Unmarshal([]byte(`["`+part[:end]+`]`), &fields) != nil || len(fields) < 2 {
			continue
		}
		var cookie ScriptCookie
		if json.Unmarshal(fields[0], &cookie.Name) != nil || json.Unmarshal(fields[1], &cookie.Value) != nil {
			continue
		}
		if len(fields) > 3 {
			json.Unmarshal(fields[3], &cookie.Path)
		}
		if cookie.Path == "" {
			cookie.Path = "/"
		}
		found = append(found, cookie)
	}
	return found
}

// PublicKey returns the password encryption key declared as
// pubKeyData:{publicKey:"<hex>",keyId:<n>}.
func (p *Page) PublicKey() (pwenc.PublicKey, error) {
	descriptor, err := Between(p.raw, "pubKeyData:", "}")
	if err != nil {
		return pwenc.PublicKey{}, err
	}
	if descriptor == "" {
		return pwenc.PublicKey{}, fmt.Errorf("%w: pubKeyData", ErrNotFound)
	}
	descriptor += "}"
	publicKey, err := Between(descriptor, `publicKey:"`, `"`)
	if err != nil || publicKey == "" {
		return pwenc.PublicKey{}, fmt.Errorf("%w: publicKey in %q", ErrNotFound, descriptor)
	}
	keyID, err := Between(descriptor, "keyId:", "}")
	if err != nil || keyID == "" {
		return pwenc.PublicKey{}, fmt.Errorf("%w: keyId in %q", ErrNotFound, descriptor)
	}
	id, err := strconv.Atoi(strings.TrimSpace(keyID))
	if err != nil {
		return pwenc.PublicKey{}, fmt.Errorf("webpage: keyId %q: %w", keyID, err)
	}
	return pwenc.PublicKey{Hex: publicKey, ID: id}, nil
}

// LocationReplace returns the argument of the first
// window.location.replace("...") call, with JSON escapes undone.
func (p *Page) LocationReplace() (string, bool) {
	target, err := Between(p.raw, `window.location.replace("`, `")`)
	if err != nil || target == "" {
		return "", false
	}
	var unescaped string
	if json.Unmarshal([]byte(`"`+target+`"`), &unescaped) == nil {
		target = unescaped
	}
	return target, true
}

// Token returns the fb_dtsg CSRF token embedded in the page.
func (p *Page) Token() (string, bool) {
	if value, ok := p.InputValue("fb_dtsg"); ok && value != "" {
		return value, true
	}
	for _, marker := range [][2]string{
		{`name="fb_dtsg" value="`, `"`},
		{`"DTSGInitialData",[],{"token":"`, `"`},
	} {
		if value, err := Between(p.raw, marker[0], marker[1]); err == nil && value != "" {
			return value, true
		}
	}
	return "", false
}

// Revision returns the client build revision, or "" when absent.
func (p *Page) Revision() string {
	revision, err := Between(p.raw, `revision":`, ",")
	if err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(revision), `"`)
}

func walk(node *html.Node, visit func(*html.Node) bool) bool {
	if node.Type == html.ElementNode && !visit(node) {
		return false
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if !walk(child, visit) {
			return false
		}
	}
	return true
}

func attribute(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
