// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func TestFetchSequenceID(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/api/graphqlbatch/" {
			t.Errorf("path = %s", request.URL.Path)
		}
		request.ParseForm()
		var queries map[string]struct {
			DocID string `json:"doc_id"`
		}
		json.Unmarshal([]byte(request.PostForm.Get("queries")), &queries)
		if queries["o0"].DocID != docInboxSequence {
			t.Errorf("doc_id = %q", queries["o0"].DocID)
		}
		writeBody(writer, `{"o0":{"data":{"viewer":{"message_threads":{"sync_sequence_id":"4242"}}}}}
{"successful_results":1,"error_results":0,"skipped_results":0}`)
	}))
	sequence, err := session.FetchSequenceID(context.Background())
	if err != nil {
		t.Fatalf("FetchSequenceID: %v", err)
	}
	if sequence != 4242 {
		t.Errorf("sequence = %d, want 4242", sequence)
	}
}

func TestFetchSequenceIDErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"error results", `{"o0":{"errors":[{"message":"bad"}]}}
{"successful_results":0,"error_results":1}`},
		{"no results", `{"o0":{"data":null}}
{"successful_results":0,"error_results":0}`},
		{"missing sequence", `{"o0":{"data":{"viewer":{"message_threads":{}}}}}
{"successful_results":1,"error_results":0}`},
		{"single object", `{"o0":{}}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writeBody(writer, test.body)
			}))
			if _, err := session.FetchSequenceID(context.Background()); !errors.Is(err, ErrProtocolParse) {
				t.Errorf("error = %v, want protocol_parse", err)
			}
		})
	}
}

func TestFetchThreadImage(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		request.ParseForm()
		if !strings.Contains(request.PostForm.Get("queries"), `"thread_id":"777"`) {
			t.Errorf("queries = %s", request.PostForm.Get("queries"))
		}
		writeBody(writer, `{"o0":{"data":{"message":{"__typename":"ThreadImageMessage","snippet":"changed the photo","timestamp_precise":"1700000000000","message_sender":{"id":"55"},"image_with_metadata":{"legacy_attachment_id":"999","original_dimensions":{"x":100,"y":80},"preview":{"uri":"https://cdn/img.jpg"}}}}}}
{"successful_results":1,"error_results":0}`)
	}))
	image, err := session.FetchThreadImage(context.Background(), "777", "mid.1")
	if err != nil {
		t.Fatalf("FetchThreadImage: %v", err)
	}
	want := ThreadImage{ThreadID: "777", AuthorID: "55", Snippet: "changed the photo", Timestamp: 1700000000000, AttachmentID: "999", Width: 100, Height: 80, URL: "https://cdn/img.jpg"}
	if image == nil || *image != want {
		t.Errorf("image = %+v, want %+v", image, want)
	}
}

func TestFetchThreadImageOtherMessage(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeBody(writer, `{"o0":{"data":{"message":{"__typename":"UserMessage"}}}}
{"successful_results":1,"error_results":0}`)
	}))
	image, err := session.FetchThreadImage(context.Background(), "777", "mid.1")
	if err != nil || image != nil {
		t.Errorf("FetchThreadImage = %+v, %v; want nil, nil", image, err)
	}
}

func TestUserInfo(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		request.ParseForm()
		if request.PostForm.Get("ids[0]") != "55" || request.PostForm.Get("ids[1]") != "66" {
			t.Errorf("form = %v", request.PostForm)
		}
		writeBody(writer, `for (;;);{"payload":{"profiles":{"55":{"name":"Bob Smith","firstName":"Bob","vanity":"bob","uri":"https://fb/bob","gender":2,"type":"user","is_friend":true}}}}`)
	}))
	profiles, err := session.UserInfo(context.Background(), "55", "66")
	if err != nil {
		t.Fatalf("UserInfo: %v", err)
	}
	bob, ok := profiles["55"]
	if !ok || bob.Name != "Bob Smith" || bob.ProfileURL != "https://fb/bob" || bob.Gender != "2" || !bob.IsFriend || bob.IsBirthday {
		t.Errorf("profile = %+v", bob)
	}
	if _, ok := profiles["66"]; ok {
		t.Error("unknown id present in result")
	}
}

func TestServerReportedError(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeBody(writer, `{"error":1545012,"errorSummary":"Temporary failure"}`)
	}))
	err := session.MarkDelivered(context.Background(), "777", "mid.1")
	if !errors.Is(err, ErrProtocolParse) || !strings.Contains(err.Error(), "1545012") {
		t.Errorf("error = %v", err)
	}
}

func TestMarkDeliveredAndRead(t *testing.T) {
	var paths []string
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		request.ParseForm()
		paths = append(paths, request.URL.Path)
		switch request.URL.Path {
		case "/ajax/mercury/delivery_receipts.php":
			if request.PostForm.Get("message_ids[0]") != "mid.1" || request.PostForm.Get("thread_ids[777][0]") != "mid.1" {
				t.Errorf("delivery form = %v", request.PostForm)
			}
		case "/ajax/mercury/change_read_status.php":
			if request.PostForm.Get("ids[777]") != "true" || request.PostForm.Get("watermarkTimestamp") != fmt.Sprint(testEpoch.UnixMilli()) {
				t.Errorf("read form = %v", request.PostForm)
			}
			if !strings.HasSuffix(request.PostForm.Get("titanOriginatedThreadId"), "-5f3a@mail.projektitan.com>") {
				t.Errorf("titanOriginatedThreadId = %q", request.PostForm.Get("titanOriginatedThreadId"))
			}
		}
		writeBody(writer, `{"payload":{}}`)
	}))

	if err := session.MarkDelivered(context.Background(), "777", "mid.1"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := session.MarkRead(context.Background(), "777", true); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("paths = %v", paths)
	}
	if err := session.MarkDelivered(context.Background(), "", "mid.1"); !errors.Is(err, ErrPrecondition) {
		t.Errorf("MarkDelivered without thread error = %v", err)
	}
}

func TestDeleteMessages(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		request.ParseForm()
		if request.PostForm.Get("client") != "mercury" || request.PostForm.Get("message_ids[1]") != "mid.2" {
			t.Errorf("form = %v", request.PostForm)
		}
		writeBody(writer, `{}`)
	}))
	if err := session.DeleteMessages(context.Background(), "mid.1", "mid.2"); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}
	if err := session.DeleteMessages(context.Background()); !errors.Is(err, ErrPrecondition) {
		t.Errorf("DeleteMessages() error = %v", err)
	}
}

func TestResolvePhotoURL(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodGet || request.URL.Query().Get("photo_id") != "123" {
			t.Errorf("request = %s %s", request.Method, request.URL)
		}
		writeBody(writer, `for (;;);{"jsmods":{"require":[["ServerRedirect","redirectPageTo",[],["https://scontent/full.jpg",false]]]}}`)
	}))
	photoURL, err := session.ResolvePhotoURL(context.Background(), "123")
	if err != nil {
		t.Fatalf("ResolvePhotoURL: %v", err)
	}
	if photoURL != "https://scontent/full.jpg" {
		t.Errorf("url = %q", photoURL)
	}
}

func TestUploadAttachments(t *testing.T) {
	var uploads atomic.Int32
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Host != "upload.facebook.com" {
			t.Errorf("Host = %q", request.Host)
		}
		request.ParseMultipartForm(1 << 20)
		_, header, err := request.FormFile("upload_1024")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		uploads.Add(1)
		if header.Filename == "voice.mp3" {
			writeBody(writer, `for (;;);{"payload":{"metadata":[{"audio_id":31,"filename":"voice.mp3","filetype":"audio/mpeg"}]}}`)
			return
		}
		writeBody(writer, `for (;;);{"payload":{"metadata":[{"image_id":"77","filename":"cat.png","filetype":"image/png"}]}}`)
	}))

	results, err := session.UploadAttachments(context.Background(),
		File{Name: "cat.png", ContentType: "image/png", Data: []byte("png")},
		File{Name: "voice.mp3", ContentType: "audio/mpeg", Data: []byte("mp3")},
	)
	if err != nil {
		t.Fatalf("UploadAttachments: %v", err)
	}
	if uploads.Load() != 2 {
		t.Errorf("server saw %d uploads", uploads.Load())
	}
	if results[0] != (Upload{Kind: "image", ID: "77", Filename: "cat.png", FileType: "image/png"}) {
		t.Errorf("first upload = %+v", results[0])
	}
	if results[1].Kind != "audio" || results[1].ID != "31" {
		t.Errorf("second upload = %+v", results[1])
	}
}

func TestUploadAttachmentsMissingMetadata(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writeBody(writer, `{"payload":{"metadata":[]}}`)
	}))
	_, err := session.UploadAttachments(context.Background(), File{Name: "a.txt", Data: []byte("a")})
	if !errors.Is(err, ErrProtocolParse) {
		t.Errorf("error = %v, want protocol_parse", err)
	}
}

func TestShareURL(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		request.ParseForm()
		if request.PostForm.Get("uri") != "https://example.com" {
			t.Errorf("uri = %q", request.PostForm.Get("uri"))
		}
		writeBody(writer, `{"payload":{"share_data":{"share_params":{"urlInfo":{"canonical":"https://example.com"}}}}}`)
	}))
	params, err := session.ShareURL(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("ShareURL: %v", err)
	}
	if !strings.Contains(string(params), "canonical") {
		t.Errorf("params = %s", params)
	}
}

func TestReconnectSetsSiteCookies(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/ajax/presence/reconnect.php" || request.URL.Query().Get("reason") != "6" {
			t.Errorf("request = %s", request.URL)
		}
		writer.Write([]byte("for (;;);{}"))
	}))
	if err := session.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	store := session.Client().Cookies()
	for _, host := range []string{"www.facebook.com", "www.messenger.com"} {
		if cookie, ok := store.Get(host, "locale"); !ok || cookie.Value != "en_US" {
			t.Errorf("locale cookie missing on %s", host)
		}
		cookie, ok := store.Get(host, "presence")
		if !ok {
			t.Fatalf("presence cookie missing on %s", host)
		}
		var presence struct {
			Version int            `json:"v"`
			Time    float64        `json:"time"`
			User    string         `json:"user"`
			Channel map[string]int `json:"ch"`
			State   struct {
				At int64  `json:"at"`
				TW uint32 `json:"tw"`
			} `json:"state"`
		}
		if err := json.Unmarshal([]byte(decodePresence(t, cookie.Value)), &presence); err != nil {
			t.Fatalf("presence %q: %v", cookie.Value, err)
		}
		if presence.Version != 3 || presence.User != "100001" || presence.State.At != testEpoch.UnixMilli() ||
			presence.Time != float64(testEpoch.Unix()) || presence.State.TW == 0 {
			t.Errorf("presence = %+v", presence)
		}
		if _, ok := presence.Channel["p_100001"]; !ok {
			t.Errorf("presence channels = %v", presence.Channel)
		}
	}

	a11y, ok := store.Get("www.facebook.com", "a11y")
	if !ok {
		t.Fatal("a11y cookie missing on facebook.com")
	}
	settings, err := url.QueryUnescape(a11y.Value)
	if err != nil {
		t.Fatalf("a11y %q: %v", a11y.Value, err)
	}
	want := fmt.Sprintf(`{"sr":0,"sr-ts":%[1]d,"jk":0,"jk-ts":%[1]d,"kb":0,"kb-ts":%[1]d,"hcm":0,"hcm-ts":%[1]d}`, testEpoch.UnixMilli())
	if settings != want {
		t.Errorf("a11y = %s, want %s", settings, want)
	}
	if _, ok := store.Get("www.messenger.com", "a11y"); ok {
		t.Error("a11y cookie set on messenger.com")
	}
}

// decodePresence expands presence abbreviations and unescapes the
// result.
func decodePresence(t *testing.T, value string) string {
	t.Helper()
	if !strings.HasPrefix(value, "E") {
		t.Fatalf("presence %q lacks the E prefix", value)
	}
	runs := make(map[byte]string, len(presenceTable))
	for _, entry := range presenceTable {
		runs[entry.abbreviation[0]] = entry.run
	}
	var expanded strings.Builder
	for index := 1; index < len(value); index++ {
		if run, ok := runs[value[index]]; ok {
			expanded.WriteString(run)
			continue
		}
		expanded.WriteByte(value[index])
	}
	decoded, err := url.QueryUnescape(expanded.String())
	if err != nil {
		t.Fatalf("presence %q: %v", value, err)
	}
	return decoded
}

func TestPresenceEncode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"v":3}`, "DvF3C"},
		{`{"p_1":"X"}`, "Dp_5f1FA2_58A2C"},
		{`{"v":2,"time":1`, "M"},
	}
	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			if got := presenceEncode(test.input); got != test.want {
				t.Errorf("presenceEncode(%s) = %q, want %q", test.input, got, test.want)
			}
			if got := decodePresence(t, "E"+test.want); got != test.input {
				t.Errorf("decoded %q, want %q", got, test.input)
			}
		})
	}
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var parsed struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":100001,"b":"100002","c":null}`), &parsed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if parsed.A != "100001" || parsed.B != "100002" || parsed.C != "" {
		t.Errorf("parsed = %+v", parsed)
	}
	var bad ID
	if err := json.Unmarshal([]byte(`true`), &bad); err == nil {
		t.Error("boolean accepted as id")
	}
}
