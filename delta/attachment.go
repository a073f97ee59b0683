// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"encoding/json"
	"strings"

	"github.com/bureau-foundation/messenger/messaging"
)

type id = messaging.ID

// Attachment is a file, media item, sticker, or link carried by a
// message. Fields that do not apply to Type are zero. Attachments of an
// unrecognized shape have Type "unknown" and keep the raw payload.
type Attachment struct {
	Type         string          `json:"type"`
	ID           string          `json:"ID"`
	Filename     string          `json:"filename,omitempty"`
	URL          string          `json:"url,omitempty"`
	PreviewURL   string          `json:"previewUrl,omitempty"`
	ThumbnailURL string          `json:"thumbnailUrl,omitempty"`
	Width        int64           `json:"width,omitempty"`
	Height       int64           `json:"height,omitempty"`
	DurationMs   int64           `json:"duration,omitempty"`
	ContentType  string          `json:"contentType,omitempty"`
	PackID       string          `json:"packID,omitempty"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

type image struct {
	URI    string `json:"uri"`
	Width  number `json:"width"`
	Height number `json:"height"`
}

type blobAttachment struct {
	Typename           string `json:"__typename"`
	LegacyAttachmentID id     `json:"legacy_attachment_id"`
	Filename           string `json:"filename"`
	URL                string `json:"url"`
	Thumbnail          image  `json:"thumbnail"`
	Preview            image  `json:"preview"`
	LargePreview       image  `json:"large_preview"`
	PreviewImage       image  `json:"preview_image"`
	AnimatedImage      image  `json:"animated_image"`
	LargeImage         image  `json:"large_image"`
	OriginalDimensions struct {
		X number `json:"x"`
		Y number `json:"y"`
	} `json:"original_dimensions"`
	PlayableURL        string `json:"playable_url"`
	PlayableDurationMs number `json:"playable_duration_in_ms"`
	URLShimhash        string `json:"url_shimhash"`
	MessageFileFbID    id     `json:"message_file_fbid"`
	ContentType        string `json:"content_type"`

	// Sticker fields.
	ID     id     `json:"id"`
	Width  number `json:"width"`
	Height number `json:"height"`
	Label  string `json:"label"`
	Pack   *struct {
		ID id `json:"id"`
	} `json:"pack"`

	// Link preview fields.
	StoryAttachment *struct {
		URL               string `json:"url"`
		TitleWithEntities struct {
			Text string `json:"text"`
		} `json:"title_with_entities"`
		Description *struct {
			Text string `json:"text"`
		} `json:"description"`
		Media *struct {
			Image *image `json:"image"`
		} `json:"media"`
	} `json:"story_attachment"`
}

// legacyAttachment is the older "mercury" attachment shape.
type legacyAttachment struct {
	AttachType   string          `json:"attach_type"`
	Blob         *blobAttachment `json:"blob_attachment"`
	Sticker      *blobAttachment `json:"sticker_attachment"`
	Extensible   *blobAttachment `json:"extensible_attachment"`
	URL          string          `json:"url"`
	Name         string          `json:"name"`
	FileName     string          `json:"fileName"`
	PreviewURL   string          `json:"preview_url"`
	ThumbnailURL string          `json:"thumbnail_url"`
	MimeType     string          `json:"mime_type"`
	ID           id              `json:"id"`
	Metadata     struct {
		FbID       id              `json:"fbid"`
		URL        string          `json:"url"`
		StickerID  id              `json:"stickerID"`
		PackID     id              `json:"packID"`
		Width      number          `json:"width"`
		Height     number          `json:"height"`
		Duration   number          `json:"duration"`
		Dimensions json.RawMessage `json:"dimensions"`
	} `json:"metadata"`
	Share *struct {
		ShareID     id     `json:"share_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URI         string `json:"uri"`
		Media       struct {
			Image string `json:"image"`
		} `json:"media"`
	} `json:"share"`
}

// unwrapAttachment flattens the envelopes the server wraps attachments
// in: NewMessage nests the payload under "mercury", replies carry it as
// a JSON string in "mercuryJSON" alongside the outer fields.
func unwrapAttachment(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if mercury, ok := fields["mercury"]; ok && len(mercury) > 0 && mercury[0] == '{' {
		return mercury, nil
	}
	encoded, ok := fields["mercuryJSON"]
	if !ok {
		return raw, nil
	}
	var text string
	if err := json.Unmarshal(encoded, &text); err != nil {
		return nil, err
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &inner); err != nil {
		return nil, err
	}
	delete(fields, "mercuryJSON")
	for key, value := range inner {
		fields[key] = value
	}
	return json.Marshal(fields)
}

func formatAttachment(raw json.RawMessage) Attachment {
	unknown := Attachment{Type: "unknown", Raw: raw}
	flattened, err := unwrapAttachment(raw)
	if err != nil {
		return unknown
	}
	var legacy legacyAttachment
	if err := json.Unmarshal(flattened, &legacy); err != nil {
		return unknown
	}

	if legacy.Blob != nil && legacy.Blob.Typename != "" {
		if attachment, ok := formatBlob(legacy.Blob.Typename, legacy.Blob); ok {
			return attachment
		}
		return unknown
	}
	if legacy.AttachType == "" {
		switch {
		case legacy.Sticker != nil:
			attachment, _ := formatBlob("StickerAttachment", legacy.Sticker)
			return attachment
		case legacy.Extensible != nil:
			attachment, _ := formatBlob("ExtensibleAttachment", legacy.Extensible)
			return attachment
		}
		return unknown
	}
	if attachment, ok := formatLegacy(&legacy); ok {
		return attachment
	}
	return unknown
}

func formatBlob(typename string, blob *blobAttachment) (Attachment, bool) {
	switch typename {
	case "MessageImage":
		return Attachment{
			Type:         "photo",
			ID:           blob.LegacyAttachmentID.String(),
			Filename:     blob.Filename,
			URL:          blob.LargePreview.URI,
			PreviewURL:   blob.Preview.URI,
			ThumbnailURL: blob.Thumbnail.URI,
			Width:        int64(blob.OriginalDimensions.X),
			Height:       int64(blob.OriginalDimensions.Y),
		}, true
	case "MessageAnimatedImage":
		return Attachment{
			Type:         "animated_image",
			ID:           blob.LegacyAttachmentID.String(),
			Filename:     blob.Filename,
			URL:          blob.AnimatedImage.URI,
			PreviewURL:   blob.PreviewImage.URI,
			ThumbnailURL: blob.PreviewImage.URI,
			Width:        int64(blob.AnimatedImage.Width),
			Height:       int64(blob.AnimatedImage.Height),
		}, true
	case "MessageVideo":
		return Attachment{
			Type:         "video",
			ID:           blob.LegacyAttachmentID.String(),
			Filename:     blob.Filename,
			URL:          blob.PlayableURL,
			PreviewURL:   blob.LargeImage.URI,
			ThumbnailURL: blob.LargeImage.URI,
			Width:        int64(blob.OriginalDimensions.X),
			Height:       int64(blob.OriginalDimensions.Y),
			DurationMs:   int64(blob.PlayableDurationMs),
		}, true
	case "MessageAudio":
		return Attachment{
			Type:       "audio",
			ID:         blob.URLShimhash,
			Filename:   blob.Filename,
			URL:        blob.PlayableURL,
			DurationMs: int64(blob.PlayableDurationMs),
		}, true
	case "MessageFile":
		return Attachment{
			Type:        "file",
			ID:          blob.MessageFileFbID.String(),
			Filename:    blob.Filename,
			URL:         blob.URL,
			ContentType: blob.ContentType,
		}, true
	case "StickerAttachment":
		attachment := Attachment{
			Type:        "sticker",
			ID:          blob.ID.String(),
			URL:         blob.URL,
			Width:       int64(blob.Width),
			Height:      int64(blob.Height),
			Description: blob.Label,
		}
		if blob.Pack != nil {
			attachment.PackID = blob.Pack.ID.String()
		}
		return attachment, true
	case "ExtensibleAttachment":
		attachment := Attachment{Type: "share", ID: blob.LegacyAttachmentID.String()}
		if story := blob.StoryAttachment; story != nil {
			attachment.URL = story.URL
			attachment.Title = story.TitleWithEntities.Text
			if story.Description != nil {
				attachment.Description = story.Description.Text
			}
			if story.Media != nil && story.Media.Image != nil {
				attachment.PreviewURL = story.Media.Image.URI
				attachment.Width = int64(story.Media.Image.Width)
				attachment.Height = int64(story.Media.Image.Height)
			}
		}
		return attachment, true
	}
	return Attachment{}, false
}

func formatLegacy(legacy *legacyAttachment) (Attachment, bool) {
	metadata := legacy.Metadata
	switch legacy.AttachType {
	case "photo":
		width, height := dimensions(metadata.Dimensions)
		return Attachment{
			Type:         "photo",
			ID:           metadata.FbID.String(),
			Filename:     legacy.FileName,
			URL:          metadata.URL,
			PreviewURL:   legacy.PreviewURL,
			ThumbnailURL: legacy.ThumbnailURL,
			Width:        width,
			Height:       height,
		}, true
	case "video":
		width, height := dimensions(metadata.Dimensions)
		return Attachment{
			Type:         "video",
			ID:           metadata.FbID.String(),
			Filename:     legacy.Name,
			URL:          legacy.URL,
			PreviewURL:   legacy.PreviewURL,
			ThumbnailURL: legacy.ThumbnailURL,
			Width:        width,
			Height:       height,
			DurationMs:   int64(metadata.Duration),
		}, true
	case "animated_image":
		return Attachment{
			Type:         "animated_image",
			ID:           legacy.ID.String(),
			Filename:     legacy.Name,
			URL:          legacy.URL,
			PreviewURL:   legacy.PreviewURL,
			ThumbnailURL: legacy.ThumbnailURL,
		}, true
	case "sticker":
		return Attachment{
			Type:   "sticker",
			ID:     metadata.StickerID.String(),
			URL:    legacy.URL,
			PackID: metadata.PackID.String(),
			Width:  int64(metadata.Width),
			Height: int64(metadata.Height),
		}, true
	case "file":
		return Attachment{
			Type:        "file",
			ID:          legacy.ID.String(),
			Filename:    legacy.Name,
			URL:         legacy.URL,
			ContentType: legacy.MimeType,
		}, true
	case "share":
		if legacy.Share == nil {
			return Attachment{}, false
		}
		return Attachment{
			Type:        "share",
			ID:          legacy.Share.ShareID.String(),
			URL:         legacy.Share.URI,
			PreviewURL:  legacy.Share.Media.Image,
			Title:       legacy.Share.Title,
			Description: legacy.Share.Description,
		}, true
	}
	return Attachment{}, false
}

// dimensions reads either "W,H" or {"width":W,"height":H}.
func dimensions(raw json.RawMessage) (width, height int64) {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		w, h, _ := strings.Cut(text, ",")
		var parsedWidth, parsedHeight number
		json.Unmarshal([]byte(`"`+strings.TrimSpace(w)+`"`), &parsedWidth)
		json.Unmarshal([]byte(`"`+strings.TrimSpace(h)+`"`), &parsedHeight)
		return int64(parsedWidth), int64(parsedHeight)
	}
	var object struct {
		Width  number `json:"width"`
		Height number `json:"height"`
	}
	json.Unmarshal(raw, &object)
	return int64(object.Width), int64(object.Height)
}
