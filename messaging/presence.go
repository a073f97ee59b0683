// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// presenceTable abbreviates runs of the escaped presence document. The
// web client tries the entries in this order at each position.
var presenceTable = []struct{ abbreviation, run string }{
	{"Z", "%2c%22sb%22%3a1%2c%22t%22%3a%5b%5d%2c%22f%22%3anull%2c%22uct%22%3a0%2c%22s%22%3a0%2c%22blo%22%3a0%7d%2c%22bl%22%3a%7b%22ac%22%3a"},
	{"Y", "%2c%22pt%22%3a0%2c%22vis%22%3a1%2c%22bls%22%3a0%2c%22blc%22%3a0%2c%22snd%22%3a1%2c%22ct%22%3a"},
	{"X", "%2c%22ri%22%3a0%7d%2c%22state%22%3a%7b%22p%22%3a0%2c%22ut%22%3a1"},
	{"W", "%2c%22s%22%3a0%2c%22blo%22%3a0%7d%2c%22bl%22%3a%7b%22ac%22%3a"},
	{"V", "%2c%22blc%22%3a0%2c%22snd%22%3a0%2c%22ct%22%3a"},
	{"U", "%2c%22blc%22%3a0%2c%22snd%22%3a1%2c%22ct%22%3a"},
	{"T", "%2c%22blc%22%3a1%2c%22snd%22%3a1%2c%22ct%22%3a"},
	{"S", "%22%2c%22m%22%3a0%7d%2c%7b%22i%22%3a"},
	{"R", ".channel%22%2c%22sub%22%3a%5b1%5d"},
	{"Q", "%5d%2c%22f%22%3anull%2c%22uct%22%3a"},
	{"P", "%2c%22ud%22%3a100%2c%22lc%22%3a0"},
	{"O", "%2c%22sb%22%3a1%2c%22t%22%3a%5b"},
	{"N", ".channel%22%2c%22sub%22%3a%5b"},
	{"M", "%7b%22v%22%3a2%2c%22time%22%3a1"},
	{"L", "%2c%22ch%22%3a%7b%22h%22%3a%22"},
	{"K", "%2c%22pt%22%3a0%2c%22vis%22%3a"},
	{"J", "%22%3a%7b%22i%22%3a0%7d"},
	{"I", "%2c%22n%22%3a%22%"},
	{"H", "%2c%22bls%22%3a"},
	{"G", "%2c%22ut%22%3a1"},
	{"F", "%22%3a"},
	{"E", "%2c%22"},
	{"D", "%7b%22"},
	{"C", "%7d"},
	{"B", "000"},
	{"A", "%2"},
	{"_", "%"},
}

type presenceState struct {
	UT   int       `json:"ut"`
	T2   []string  `json:"t2"`
	LM2  *struct{} `json:"lm2"`
	UCT2 int64     `json:"uct2"`
	TR   *struct{} `json:"tr"`
	TW   uint32    `json:"tw"`
	AT   int64     `json:"at"`
}

type presenceDocument struct {
	Version int            `json:"v"`
	Time    float64        `json:"time"`
	User    string         `json:"user"`
	State   presenceState  `json:"state"`
	Channel map[string]int `json:"ch"`
}

// presenceCookie builds the presence cookie value announcing userID as
// online at now. tabID identifies the browser tab.
func presenceCookie(userID string, now time.Time, tabID uint32) (string, error) {
	ms := now.UnixMilli()
	document, err := json.Marshal(presenceDocument{
		Version: 3,
		Time:    float64(ms) / 1000,
		User:    userID,
		State:   presenceState{T2: []string{}, UCT2: ms, TW: tabID, AT: ms},
		Channel: map[string]int{"p_" + userID: 0},
	})
	if err != nil {
		return "", ParseError("reconnect", "encoding presence", nil, err)
	}
	return "E" + presenceEncode(string(document)), nil
}

// presenceEncode escapes text, lowercases the escapes, and abbreviates
// the runs in presenceTable. Letters and underscores in the input are
// escaped first so the abbreviations stay unambiguous.
func presenceEncode(text string) string {
	escaped := url.QueryEscape(text)
	var marked strings.Builder
	for index := 0; index < len(escaped); index++ {
		switch character := escaped[index]; {
		case character == '%' && index+2 < len(escaped):
			marked.WriteString(escaped[index : index+3])
			index += 2
		case character == '_' || (character >= 'A' && character <= 'Z'):
			marked.WriteString("%" + strconv.FormatInt(int64(character), 16))
		default:
			marked.WriteByte(character)
		}
	}
	lowered := strings.ToLower(marked.String())

	var encoded strings.Builder
	for index := 0; index < len(lowered); {
		matched := false
		for _, entry := range presenceTable {
			if strings.HasPrefix(lowered[index:], entry.run) {
				encoded.WriteString(entry.abbreviation)
				index += len(entry.run)
				matched = true
				break
			}
		}
		if !matched {
			encoded.WriteByte(lowered[index])
			index++
		}
	}
	return encoded.String()
}

// accessibilityCookie builds the a11y cookie value with every
// assistive setting off as of now.
func accessibilityCookie(now time.Time) (string, error) {
	ms := now.UnixMilli()
	document, err := json.Marshal(struct {
		SR   int   `json:"sr"`
		SRTS int64 `json:"sr-ts"`
		JK   int   `json:"jk"`
		JKTS int64 `json:"jk-ts"`
		KB   int   `json:"kb"`
		KBTS int64 `json:"kb-ts"`
		HCM  int   `json:"hcm"`
		HCMT int64 `json:"hcm-ts"`
	}{SRTS: ms, JKTS: ms, KBTS: ms, HCMT: ms})
	if err != nil {
		return "", ParseError("reconnect", "encoding accessibility settings", nil, err)
	}
	return url.QueryEscape(string(document)), nil
}
