// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"encoding/json"
	"math/rand/v2"
	"net/url"
	"strconv"
)

// Topics the session routes. The identity lists the full set in st.
const (
	TopicSync         = "/t_ms"
	TopicThreadTyping = "/thread_typing"
	TopicOrcaTyping   = "/orca_typing_notifications"
	TopicPresence     = "/orca_presence"

	// TopicTaskRequest carries outgoing task envelopes.
	TopicTaskRequest = "/ls_req"

	topicCreateQueue = "/messenger_sync_create_queue"
	topicResumeQueue = "/messenger_sync_get_diffs"
)

// subscribedTopics is the st list of the identity. Topics are carried in
// the identity rather than subscribed individually.
var subscribedTopics = []string{
	TopicSync,
	TopicThreadTyping,
	TopicOrcaTyping,
	TopicPresence,
	"/legacy_web",
	"/br_sr",
	"/sr_res",
	"/webrtc",
	"/onevc",
	"/notify_disconnect",
	"/inbox",
	"/mercury",
	"/messaging_events",
	"/orca_message_notifications",
	"/pp",
	"/webrtc_response",
}

const (
	// webAppID is the application id of the web client.
	webAppID = "219994525426954"

	// mqttClientID is the MQTT client identifier the broker expects.
	mqttClientID = "mqttwsclient"

	syncAPIVersion    = 10
	maxDeltasPerBatch = 1000
	deltaBatchSize    = 500
)

// identity is the JSON document sent as the MQTT username.
type identity struct {
	UserID          string   `json:"u"`
	SessionID       int64    `json:"s"`
	ChatOn          bool     `json:"chat_on"`
	Foreground      bool     `json:"fg"`
	DeviceID        string   `json:"d"`
	ConnectionType  string   `json:"ct"`
	AppID           string   `json:"aid"`
	MQTTSessionID   string   `json:"mqtt_sid"`
	Capabilities    int      `json:"cp"`
	EndpointCaps    int      `json:"ecp"`
	Topics          []string `json:"st"`
	PublishMessages []string `json:"pm"`
	DataCenter      string   `json:"dc"`
	NoAutoFG        bool     `json:"no_auto_fg"`
	GAS             any      `json:"gas"`
}

func newIdentity(userID, deviceID string, sessionID int64, chatOn, foreground bool) identity {
	return identity{
		UserID:          userID,
		SessionID:       sessionID,
		ChatOn:          chatOn,
		Foreground:      foreground,
		DeviceID:        deviceID,
		ConnectionType:  "websocket",
		AppID:           webAppID,
		Capabilities:    3,
		EndpointCaps:    10,
		Topics:          subscribedTopics,
		PublishMessages: []string{},
	}
}

// newSessionID draws the per-attempt session id. It stays within the
// range a JSON number carries exactly.
func newSessionID() int64 {
	return rand.Int64N(1<<53-1) + 1
}

// endpointURL appends the session id to the broker endpoint.
func endpointURL(endpoint string, sessionID int64) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("sid", strconv.FormatInt(sessionID, 10))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// queueCommon holds the fields shared by both queue frames.
type queueCommon struct {
	SyncAPIVersion         int    `json:"sync_api_version"`
	MaxDeltasAbleToProcess int    `json:"max_deltas_able_to_process"`
	DeltaBatchSize         int    `json:"delta_batch_size"`
	Encoding               string `json:"encoding"`
	EntityFbID             string `json:"entity_fbid"`
}

type resumeQueueFrame struct {
	queueCommon
	LastSeqID int64  `json:"last_seq_id"`
	SyncToken string `json:"sync_token"`
}

type createQueueFrame struct {
	queueCommon
	InitialTitanSequenceID int64 `json:"initial_titan_sequence_id"`

	// DeviceParams is always sent as null.
	DeviceParams *struct{} `json:"device_params"`
}

// buildQueueFrame returns the topic and payload that resume the queue
// when a sync token is known and create one otherwise. Exactly one
// frame is published per connection.
func buildQueueFrame(userID string, lastSeqID int64, syncToken string) (topic string, payload []byte, err error) {
	common := queueCommon{
		SyncAPIVersion:         syncAPIVersion,
		MaxDeltasAbleToProcess: maxDeltasPerBatch,
		DeltaBatchSize:         deltaBatchSize,
		Encoding:               "JSON",
		EntityFbID:             userID,
	}
	if syncToken != "" {
		payload, err = json.Marshal(resumeQueueFrame{queueCommon: common, LastSeqID: lastSeqID, SyncToken: syncToken})
		return topicResumeQueue, payload, err
	}
	payload, err = json.Marshal(createQueueFrame{queueCommon: common, InitialTitanSequenceID: lastSeqID})
	return topicCreateQueue, payload, err
}
