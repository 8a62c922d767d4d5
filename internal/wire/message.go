// Package wire implements the three broker record variants the sender
// writes and the receiver decodes: MSG, NMSG and META.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which of the three wire variants a Message is.
type Kind int

const (
	// MSG carries a raw transformed line, no framing.
	MSG Kind = iota
	// NMSG ("named message") carries the source host and byte position
	// alongside the payload, letting a receiver detect gaps and duplicates.
	NMSG
	// META carries a START or END lifecycle event for one host's file.
	META
)

func (k Kind) String() string {
	switch k {
	case MSG:
		return "MSG"
	case NMSG:
		return "NMSG"
	case META:
		return "META"
	default:
		return "UNKNOWN"
	}
}

// posWidth is the zero-padded decimal width of an NMSG byte position.
const posWidth = 13

// Event is the lifecycle event carried by a META message.
type Event string

const (
	EventStart Event = "START"
	EventEnd   Event = "END"
)

// Message is the decoded form of one broker record.
type Message struct {
	Kind Kind

	// NMSG / META
	Host string

	// NMSG
	Position uint64
	Payload  []byte

	// META
	Event     Event
	Time      time.Time
	File      string
	Size      uint64
	SendSize  uint64
	Lines     uint64
	SendLines uint64
	MD5       string
}

type metaJSON struct {
	Event     string `json:"event"`
	Time      string `json:"time"`
	File      string `json:"file,omitempty"`
	Size      uint64 `json:"size,omitempty"`
	SendSize  uint64 `json:"sendsize,omitempty"`
	Lines     uint64 `json:"lines,omitempty"`
	SendLines uint64 `json:"sendlines,omitempty"`
	MD5       string `json:"md5,omitempty"`
}

// EncodeMSG returns the raw MSG wire form: the payload unmodified.
func EncodeMSG(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

// EncodeNMSG returns the wire form `*<host>@<pos-padded-13> <payload>`.
func EncodeNMSG(host string, pos uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('*')
	buf.WriteString(host)
	buf.WriteByte('@')
	fmt.Fprintf(&buf, "%0*d", posWidth, pos)
	buf.WriteByte(' ')
	buf.Write(payload)
	return buf.Bytes()
}

// EncodeMETAStart returns the wire form for a START lifecycle event.
func EncodeMETAStart(host string, t time.Time) []byte {
	return encodeMeta(host, metaJSON{
		Event: string(EventStart),
		Time:  t.UTC().Format(time.RFC3339),
	})
}

// EncodeMETAEnd returns the wire form for an END lifecycle event.
func EncodeMETAEnd(host string, t time.Time, file string, size, sendSize, lines, sendLines uint64, md5 string) []byte {
	return encodeMeta(host, metaJSON{
		Event:     string(EventEnd),
		Time:      t.UTC().Format(time.RFC3339),
		File:      file,
		Size:      size,
		SendSize:  sendSize,
		Lines:     lines,
		SendLines: sendLines,
		MD5:       md5,
	})
}

func encodeMeta(host string, m metaJSON) []byte {
	body, err := json.Marshal(m)
	if err != nil {
		// metaJSON is always marshalable; a failure here means a bug.
		panic(err)
	}
	var buf bytes.Buffer
	buf.WriteByte('#')
	buf.WriteString(host)
	buf.WriteByte(' ')
	buf.Write(body)
	return buf.Bytes()
}

// Decode classifies raw by its first byte and parses it into a Message.
func Decode(raw []byte) (Message, error) {
	if len(raw) == 0 {
		return Message{}, fmt.Errorf("wire: empty record")
	}

	switch raw[0] {
	case '*':
		return decodeNMSG(raw)
	case '#':
		return decodeMETA(raw)
	default:
		return Message{Kind: MSG, Payload: raw}, nil
	}
}

func decodeNMSG(raw []byte) (Message, error) {
	sp := bytes.IndexByte(raw, ' ')
	if sp < 0 {
		return Message{}, fmt.Errorf("wire: malformed NMSG, no space: %q", raw)
	}
	at := bytes.IndexByte(raw[:sp], '@')
	if at < 0 {
		return Message{}, fmt.Errorf("wire: malformed NMSG, no '@': %q", raw)
	}

	host := string(raw[1:at])
	var pos uint64
	if _, err := fmt.Sscanf(string(raw[at+1:sp]), "%d", &pos); err != nil {
		return Message{}, fmt.Errorf("wire: malformed NMSG position: %w", err)
	}

	payload := make([]byte, len(raw)-sp-1)
	copy(payload, raw[sp+1:])

	return Message{Kind: NMSG, Host: host, Position: pos, Payload: payload}, nil
}

func decodeMETA(raw []byte) (Message, error) {
	sp := bytes.IndexByte(raw, ' ')
	if sp < 0 {
		return Message{}, fmt.Errorf("wire: malformed META, no space: %q", raw)
	}

	host := string(raw[1:sp])
	var m metaJSON
	if err := json.Unmarshal(raw[sp+1:], &m); err != nil {
		return Message{}, fmt.Errorf("wire: malformed META json: %w", err)
	}

	t, _ := time.Parse(time.RFC3339, m.Time)
	return Message{
		Kind:      META,
		Host:      host,
		Event:     Event(m.Event),
		Time:      t,
		File:      m.File,
		Size:      m.Size,
		SendSize:  m.SendSize,
		Lines:     m.Lines,
		SendLines: m.SendLines,
		MD5:       m.MD5,
	}, nil
}
