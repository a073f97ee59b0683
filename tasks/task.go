// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tasks turns outgoing actions into task envelopes published on
// the realtime connection.
//
// A Task names a server-side handler (Label), carries an action payload,
// and is serialized on a named queue. Builders in this package produce
// Tasks without side effects; a Dispatcher allocates task and request
// ids from the messaging session, wraps the tasks in the double-encoded
// envelope, and publishes it:
//
//	dispatcher, err := tasks.New(tasks.Config{Session: session, Conn: live})
//	task, err := tasks.TextTask(threadID, "hello", tasks.OfflineThreadingID(time.Now()))
//	err = dispatcher.Dispatch(ctx, task)
//
// The Dispatcher also offers one method per action that builds and
// dispatches in one step, uploading attachments first where needed.
package tasks

import (
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/bureau-foundation/messenger/messaging"
)

// Wire constants of the task envelope.
const (
	// AppID identifies the web client to the task endpoint.
	AppID = "2220391788200892"

	// envelopeType marks a task batch request.
	envelopeType = 3

	// versionID is the schema version of the task payloads below.
	versionID = "7158486590867448"
)

// Task labels, one per server-side handler.
const (
	LabelTyping            = "3"
	LabelMarkRead          = "21"
	LabelAddParticipants   = "23"
	LabelSetAdmin          = "25"
	LabelReaction          = "29"
	LabelRenameThread      = "32"
	LabelUnsend            = "33"
	LabelThreadImage       = "37"
	LabelSendMessage       = "46"
	LabelRemoveParticipant = "140"
)

// Task is one unit of work addressed to the handler named by Label.
type Task struct {
	Label string

	// Payload is marshaled to JSON and sent as a string.
	Payload any

	// QueueName orders tasks on the server. Tasks on the same queue run
	// in task id order.
	QueueName string
}

// taskEntry is the wire form of a Task.
type taskEntry struct {
	Label        string `json:"label"`
	Payload      string `json:"payload"`
	QueueName    string `json:"queue_name"`
	TaskID       int64  `json:"task_id"`
	FailureCount *int   `json:"failure_count"`
}

type batch struct {
	VersionID   string      `json:"version_id"`
	Tasks       []taskEntry `json:"tasks"`
	EpochID     int64       `json:"epoch_id"`
	DataTraceID *string     `json:"data_trace_id"`
}

type envelope struct {
	RequestID int64  `json:"request_id"`
	Type      int    `json:"type"`
	Payload   string `json:"payload"`
	AppID     string `json:"app_id"`
}

// encodeEnvelope builds the published frame. The batch is marshaled
// first and embedded as a string, and so is each task payload.
func encodeEnvelope(requestID int64, taskIDs []int64, epochID int64, tasks []Task) ([]byte, error) {
	entries := make([]taskEntry, len(tasks))
	for index, task := range tasks {
		payload, err := json.Marshal(task.Payload)
		if err != nil {
			return nil, messaging.PreconditionError("dispatch", "encoding "+task.Label+" payload: "+err.Error())
		}
		entries[index] = taskEntry{
			Label:     task.Label,
			Payload:   string(payload),
			QueueName: task.QueueName,
			TaskID:    taskIDs[index],
		}
	}
	inner, err := json.Marshal(batch{VersionID: versionID, Tasks: entries, EpochID: epochID})
	if err != nil {
		return nil, messaging.PreconditionError("dispatch", "encoding task batch: "+err.Error())
	}
	frame, err := json.Marshal(envelope{
		RequestID: requestID,
		Type:      envelopeType,
		Payload:   string(inner),
		AppID:     AppID,
	})
	if err != nil {
		return nil, messaging.PreconditionError("dispatch", "encoding envelope: "+err.Error())
	}
	return frame, nil
}

// OfflineThreadingID returns a client-generated message id: the
// millisecond timestamp in the high bits and 22 random low bits.
func OfflineThreadingID(now time.Time) int64 {
	return now.UnixMilli()<<22 | rand.Int64N(1<<22)
}

// fbid validates a numeric account, thread, or attachment id and
// returns it in a form that marshals as a JSON number.
func fbid(op, field, value string) (json.Number, error) {
	if value == "" {
		return "", messaging.PreconditionError(op, field+" is required")
	}
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return "", messaging.PreconditionError(op, field+" "+strconv.Quote(value)+" is not a numeric id")
	}
	return json.Number(value), nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
