// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// GraphQL document ids used by the web client.
const (
	docInboxSequence = "1349387578499440"
	docThreadMessage = "1768656253222505"
)

// Fetch sends a request carrying the default parameters without
// interpreting the response body.
func (s *Session) Fetch(ctx context.Context, request Request) (*Response, error) {
	request.Form = s.mergeDefaults(request.Form)
	return s.client.Fetch(ctx, request)
}

// checkResult fails when a normalized body reports a non-zero "error".
func checkResult(op string, body json.RawMessage) error {
	var result struct {
		Error        json.RawMessage `json:"error"`
		ErrorSummary string          `json:"errorSummary"`
	}
	if json.Unmarshal(body, &result) != nil {
		return nil
	}
	code := strings.TrimSpace(string(result.Error))
	if code == "" || code == "0" || code == "null" || code == "false" {
		return nil
	}
	return ParseError(op, fmt.Sprintf("server reported error %s %s", code, result.ErrorSummary), body, nil)
}

// graphQLBatch runs a single query through the batch endpoint and
// returns the data of its o0 result.
func (s *Session) graphQLBatch(ctx context.Context, op, docID string, params any) (json.RawMessage, error) {
	queries, err := json.Marshal(map[string]any{
		"o0": map[string]any{"doc_id": docID, "query_params": params},
	})
	if err != nil {
		return nil, ParseError(op, "encoding query", nil, err)
	}
	body, err := s.Call(ctx, Request{
		URL:  s.client.endpoints.Web + "/api/graphqlbatch/",
		Form: url.Values{"queries": {string(queries)}},
	})
	if err != nil {
		return nil, err
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) < 2 {
		return nil, ParseError(op, "batch response is not a result list", body, err)
	}
	var summary struct {
		ErrorResults      int `json:"error_results"`
		SuccessfulResults int `json:"successful_results"`
	}
	if err := json.Unmarshal(parts[len(parts)-1], &summary); err != nil {
		return nil, ParseError(op, "batch summary", body, err)
	}
	var first struct {
		O0 struct {
			Data   json.RawMessage `json:"data"`
			Errors json.RawMessage `json:"errors"`
		} `json:"o0"`
	}
	if err := json.Unmarshal(parts[0], &first); err != nil {
		return nil, ParseError(op, "batch result", body, err)
	}
	if summary.ErrorResults > 0 {
		return nil, ParseError(op, "query failed: "+string(first.O0.Errors), body, nil)
	}
	if summary.SuccessfulResults == 0 || len(first.O0.Data) == 0 {
		return nil, ParseError(op, "query returned no results", body, nil)
	}
	return first.O0.Data, nil
}

// FetchSequenceID returns the inbox sync sequence id used to create a
// realtime queue.
func (s *Session) FetchSequenceID(ctx context.Context) (int64, error) {
	data, err := s.graphQLBatch(ctx, "sequence_id", docInboxSequence, map[string]any{
		"limit":                   1,
		"before":                  nil,
		"tags":                    []string{"INBOX"},
		"includeDeliveryReceipts": false,
		"includeSeqID":            true,
	})
	if err != nil {
		return 0, err
	}
	var inbox struct {
		Viewer struct {
			MessageThreads struct {
				SyncSequenceID ID `json:"sync_sequence_id"`
			} `json:"message_threads"`
		} `json:"viewer"`
	}
	if err := json.Unmarshal(data, &inbox); err != nil {
		return 0, ParseError("sequence_id", "inbox shape", data, err)
	}
	sequence, err := strconv.ParseInt(inbox.Viewer.MessageThreads.SyncSequenceID.String(), 10, 64)
	if err != nil || sequence <= 0 {
		return 0, ParseError("sequence_id", "missing sync_sequence_id", data, err)
	}
	return sequence, nil
}

// ThreadImage describes a group photo change resolved from a forced
// fetch.
type ThreadImage struct {
	ThreadID     string
	AuthorID     string
	Snippet      string
	Timestamp    int64
	AttachmentID string
	Width        int
	Height       int
	URL          string
}

// FetchThreadImage resolves a forced-fetch delta. It returns nil when
// the referenced message is not a thread image change.
func (s *Session) FetchThreadImage(ctx context.Context, threadID, messageID string) (*ThreadImage, error) {
	data, err := s.graphQLBatch(ctx, "thread_image", docThreadMessage, map[string]any{
		"thread_and_message_id": map[string]string{
			"thread_id":  threadID,
			"message_id": messageID,
		},
	})
	if err != nil {
		return nil, err
	}
	var result struct {
		Message *struct {
			Typename      string `json:"__typename"`
			Snippet       string `json:"snippet"`
			Timestamp     ID     `json:"timestamp_precise"`
			MessageSender struct {
				ID ID `json:"id"`
			} `json:"message_sender"`
			Image *struct {
				LegacyAttachmentID ID `json:"legacy_attachment_id"`
				OriginalDimensions struct {
					X int `json:"x"`
					Y int `json:"y"`
				} `json:"original_dimensions"`
				Preview struct {
					URI string `json:"uri"`
				} `json:"preview"`
			} `json:"image_with_metadata"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, ParseError("thread_image", "message shape", data, err)
	}
	if result.Message == nil || result.Message.Typename != "ThreadImageMessage" {
		return nil, nil
	}
	timestamp, _ := strconv.ParseInt(result.Message.Timestamp.String(), 10, 64)
	image := &ThreadImage{
		ThreadID:  threadID,
		AuthorID:  result.Message.MessageSender.ID.String(),
		Snippet:   result.Message.Snippet,
		Timestamp: timestamp,
	}
	if metadata := result.Message.Image; metadata != nil {
		image.AttachmentID = metadata.LegacyAttachmentID.String()
		image.Width = metadata.OriginalDimensions.X
		image.Height = metadata.OriginalDimensions.Y
		image.URL = metadata.Preview.URI
	}
	return image, nil
}

// UserInfo is the public profile of an account.
type UserInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FirstName  string `json:"firstName"`
	Vanity     string `json:"vanity"`
	ThumbSrc   string `json:"thumbSrc"`
	ProfileURL string `json:"profileUrl"`
	Gender     ID     `json:"gender"`
	Type       string `json:"type"`
	IsFriend   bool   `json:"isFriend"`
	IsBirthday bool   `json:"isBirthday"`
}

// UserInfo looks up profiles by account id. Ids the server does not
// know are absent from the result.
func (s *Session) UserInfo(ctx context.Context, ids ...string) (map[string]UserInfo, error) {
	if len(ids) == 0 {
		return map[string]UserInfo{}, nil
	}
	form := url.Values{}
	for index, id := range ids {
		form.Set(fmt.Sprintf("ids[%d]", index), id)
	}
	body, err := s.Call(ctx, Request{URL: s.client.endpoints.Web + "/chat/user_info/", Form: form})
	if err != nil {
		return nil, err
	}
	if err := checkResult("user_info", body); err != nil {
		return nil, err
	}
	var result struct {
		Payload struct {
			Profiles map[string]struct {
				Name       string `json:"name"`
				FirstName  string `json:"firstName"`
				Vanity     string `json:"vanity"`
				ThumbSrc   string `json:"thumbSrc"`
				URI        string `json:"uri"`
				Gender     ID     `json:"gender"`
				Type       string `json:"type"`
				IsFriend   bool   `json:"is_friend"`
				IsBirthday bool   `json:"is_birthday"`
			} `json:"profiles"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, ParseError("user_info", "profiles shape", body, err)
	}
	profiles := make(map[string]UserInfo, len(result.Payload.Profiles))
	for id, profile := range result.Payload.Profiles {
		profiles[id] = UserInfo{
			ID:         id,
			Name:       profile.Name,
			FirstName:  profile.FirstName,
			Vanity:     profile.Vanity,
			ThumbSrc:   profile.ThumbSrc,
			ProfileURL: profile.URI,
			Gender:     profile.Gender,
			Type:       profile.Type,
			IsFriend:   profile.IsFriend,
			IsBirthday: profile.IsBirthday,
		}
	}
	return profiles, nil
}

// ResolvePhotoURL returns the full-size URL of a photo attachment.
func (s *Session) ResolvePhotoURL(ctx context.Context, photoID string) (string, error) {
	body, err := s.Call(ctx, Request{
		Method: http.MethodGet,
		URL:    s.client.endpoints.Web + "/mercury/attachments/photo",
		Form:   url.Values{"photo_id": {photoID}},
	})
	if err != nil {
		return "", err
	}
	if err := checkResult("resolve_photo", body); err != nil {
		return "", err
	}
	for _, parsed := range readEnvelopes(body) {
		for _, raw := range parsed.Jsmods.Require {
			var entry []json.RawMessage
			if json.Unmarshal(raw, &entry) != nil || len(entry) < 4 {
				continue
			}
			var args []json.RawMessage
			if json.Unmarshal(entry[3], &args) != nil || len(args) == 0 {
				continue
			}
			var photoURL string
			if json.Unmarshal(args[0], &photoURL) == nil && photoURL != "" {
				return photoURL, nil
			}
		}
	}
	return "", ParseError("resolve_photo", "no photo URL in response", body, nil)
}

// MarkDelivered acknowledges delivery of messageID in threadID.
func (s *Session) MarkDelivered(ctx context.Context, threadID, messageID string) error {
	if threadID == "" || messageID == "" {
		return PreconditionError("mark_delivered", "thread id and message id are required")
	}
	form := url.Values{
		"message_ids[0]": {messageID},
		fmt.Sprintf("thread_ids[%s][0]", threadID): {messageID},
	}
	body, err := s.Call(ctx, Request{URL: s.client.endpoints.Web + "/ajax/mercury/delivery_receipts.php", Form: form})
	if err != nil {
		return err
	}
	return checkResult("mark_delivered", body)
}

// MarkRead sets the read state of threadID.
func (s *Session) MarkRead(ctx context.Context, threadID string, read bool) error {
	if threadID == "" {
		return PreconditionError("mark_read", "thread id is required")
	}
	form := url.Values{
		fmt.Sprintf("ids[%s]", threadID): {strconv.FormatBool(read)},
		"watermarkTimestamp":             {strconv.FormatInt(s.client.clock.Now().UnixMilli(), 10)},
		"shouldSendReadReceipt":          {"true"},
		"commerce_last_message_type":     {"non_ad"},
		"titanOriginatedThreadId":        {s.ThreadingID()},
	}
	body, err := s.Call(ctx, Request{URL: s.client.endpoints.Web + "/ajax/mercury/change_read_status.php", Form: form})
	if err != nil {
		return err
	}
	return checkResult("mark_read", body)
}

// ThreadingID returns a fresh client-originated threading id.
func (s *Session) ThreadingID() string {
	return fmt.Sprintf("<%d:%d-%s@mail.projektitan.com>", s.client.clock.Now().UnixMilli(), rand.Uint32(), s.clientID)
}

// DeleteMessages removes messages from the account's own view.
func (s *Session) DeleteMessages(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return PreconditionError("delete_messages", "at least one message id is required")
	}
	form := url.Values{"client": {"mercury"}}
	for index, id := range messageIDs {
		form.Set(fmt.Sprintf("message_ids[%d]", index), id)
	}
	body, err := s.Call(ctx, Request{URL: s.client.endpoints.Web + "/ajax/mercury/delete_messages.php", Form: form})
	if err != nil {
		return err
	}
	return checkResult("delete_messages", body)
}

// Upload is a stored attachment ready to be referenced by a message.
type Upload struct {
	// Kind is image, video, audio, gif, or file.
	Kind     string
	ID       string
	Filename string
	FileType string
}

var uploadKinds = []string{"image", "video", "audio", "gif", "file"}

// UploadAttachments stores files concurrently and returns their
// references in the order given. Any failure fails the whole batch.
func (s *Session) UploadAttachments(ctx context.Context, files ...File) ([]Upload, error) {
	uploads := make([]Upload, len(files))
	group, groupContext := errgroup.WithContext(ctx)
	for index, file := range files {
		group.Go(func() error {
			file.Field = "upload_1024"
			upload, err := s.uploadOne(groupContext, file)
			if err != nil {
				return err
			}
			uploads[index] = upload
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return uploads, nil
}

func (s *Session) uploadOne(ctx context.Context, file File) (Upload, error) {
	body, err := s.Call(ctx, Request{
		URL:   s.client.endpoints.Upload + "/ajax/mercury/upload.php",
		Form:  url.Values{"voice_clip": {"true"}},
		Files: []File{file},
	})
	if err != nil {
		return Upload{}, err
	}
	if err := checkResult("upload", body); err != nil {
		return Upload{}, err
	}
	var result struct {
		Payload struct {
			Metadata []map[string]json.RawMessage `json:"metadata"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &result); err != nil || len(result.Payload.Metadata) == 0 {
		return Upload{}, ParseError("upload", "missing upload metadata", body, err)
	}
	metadata := result.Payload.Metadata[0]
	upload := Upload{}
	for _, kind := range uploadKinds {
		if raw, ok := metadata[kind+"_id"]; ok {
			var id ID
			if err := json.Unmarshal(raw, &id); err == nil && id != "" {
				upload.Kind, upload.ID = kind, id.String()
				break
			}
		}
	}
	if upload.ID == "" {
		return Upload{}, ParseError("upload", "upload metadata has no id", body, nil)
	}
	json.Unmarshal(metadata["filename"], &upload.Filename)
	json.Unmarshal(metadata["filetype"], &upload.FileType)
	return upload, nil
}

// ShareURL asks the server to build a link preview for uri and returns
// the share parameters to attach to a message.
func (s *Session) ShareURL(ctx context.Context, uri string) (json.RawMessage, error) {
	body, err := s.Call(ctx, Request{
		URL: s.client.endpoints.Web + "/message_share_attachment/fromURI/",
		Form: url.Values{
			"image_height": {"960"},
			"image_width":  {"960"},
			"uri":          {uri},
		},
	})
	if err != nil {
		return nil, err
	}
	if err := checkResult("share_url", body); err != nil {
		return nil, err
	}
	var result struct {
		Payload *struct {
			ShareData struct {
				ShareParams json.RawMessage `json:"share_params"`
			} `json:"share_data"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Payload == nil || len(result.Payload.ShareData.ShareParams) == 0 {
		return nil, ParseError("share_url", "invalid url", body, err)
	}
	return result.Payload.ShareData.ShareParams, nil
}

// Reconnect pings the presence endpoint and sets the cookies the web
// client sets after login: presence and locale on both sites, and the
// accessibility settings on the web domain.
func (s *Session) Reconnect(ctx context.Context) error {
	_, err := s.Fetch(ctx, Request{
		Method: http.MethodGet,
		URL:    s.client.endpoints.Web + "/ajax/presence/reconnect.php",
		Form:   url.Values{"reason": {"6"}},
	})
	if err != nil {
		return err
	}
	now := s.client.clock.Now()
	presence, err := presenceCookie(s.userID, now, rand.Uint32N(math.MaxUint32)+1)
	if err != nil {
		return err
	}
	if err := s.client.SetSiteCookie("presence", presence, "/"); err != nil {
		return err
	}
	if err := s.client.SetSiteCookie("locale", "en_US", "/"); err != nil {
		return err
	}
	accessibility, err := accessibilityCookie(now)
	if err != nil {
		return err
	}
	return s.client.setCookie(s.client.cookieDomain, "a11y", accessibility, "/")
}
