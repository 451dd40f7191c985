// Package wire implements the colon-delimited datagram codec shared by the
// relay coordinator, worker nodes, and the operator console.
package wire

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyDatagram   = errors.New("wire: empty datagram")
	ErrUnknownKind     = errors.New("wire: unknown message kind")
	ErrMissingDeviceID = errors.New("wire: missing device id")
	ErrInvalidDeviceID = errors.New("wire: invalid device id")
)

const (
	// MaxDatagramSize bounds every message on the wire. Collaborator
	// output embedded in replies is truncated to fit.
	MaxDatagramSize = 1024

	// MaxDeviceIDLen bounds device identifiers.
	MaxDeviceIDLen = 31

	delimiter  = ':'
	terminator = '\n'
)

// Kind is the datagram type tag, the text before the first delimiter.
type Kind string

const (
	KindRegister       Kind = "REGISTER"
	KindRegistered     Kind = "REGISTERED"
	KindHeartbeat      Kind = "HEARTBEAT"
	KindUnregister     Kind = "UNREGISTER"
	KindTimeRequest    Kind = "TIME_REQUEST"
	KindTimeResponse   Kind = "TIME_RESPONSE"
	KindListRequest    Kind = "LS_REQUEST"
	KindListResponse   Kind = "LS_RESPONSE"
	KindCameraRequest  Kind = "CAMERA_REQUEST"
	KindCameraResponse Kind = "CAMERA_RESPONSE"
	KindUploadRequest  Kind = "S3_UPLOAD_REQUEST"
	KindUploadResponse Kind = "S3_UPLOAD_RESPONSE"
	KindError          Kind = "ERROR"
)

var kinds = map[Kind]struct{}{
	KindRegister:       {},
	KindRegistered:     {},
	KindHeartbeat:      {},
	KindUnregister:     {},
	KindTimeRequest:    {},
	KindTimeResponse:   {},
	KindListRequest:    {},
	KindListResponse:   {},
	KindCameraRequest:  {},
	KindCameraResponse: {},
	KindUploadRequest:  {},
	KindUploadResponse: {},
	KindError:          {},
}

// IsRequest reports whether k is a controller-originated broadcast request.
func (k Kind) IsRequest() bool {
	switch k {
	case KindTimeRequest, KindListRequest, KindCameraRequest, KindUploadRequest:
		return true
	}
	return false
}

// IsResponse reports whether k is a worker-originated broadcast reply.
func (k Kind) IsResponse() bool {
	switch k {
	case KindTimeResponse, KindListResponse, KindCameraResponse, KindUploadResponse:
		return true
	}
	return false
}

// ResponseKind maps a request kind to its reply kind.
func (k Kind) ResponseKind() Kind {
	switch k {
	case KindTimeRequest:
		return KindTimeResponse
	case KindListRequest:
		return KindListResponse
	case KindCameraRequest:
		return KindCameraResponse
	case KindUploadRequest:
		return KindUploadResponse
	}
	return ""
}

// Message is one parsed datagram. Payload is the raw text after the kind
// tag and its delimiter, with the trailing terminator stripped; it may
// itself contain delimiters and newlines (ls output, capture logs).
type Message struct {
	Kind    Kind
	Payload string
}

// Parse classifies a received datagram by its kind prefix. Unknown
// prefixes surface ErrUnknownKind so callers can drop them.
func Parse(datagram []byte) (Message, error) {
	if len(datagram) == 0 {
		return Message{}, ErrEmptyDatagram
	}
	text := string(datagram)

	head := text
	rest := ""
	if i := strings.IndexByte(text, delimiter); i >= 0 {
		head = text[:i]
		rest = text[i+1:]
	}
	head = strings.TrimRight(head, string(terminator))

	kind := Kind(head)
	if _, ok := kinds[kind]; !ok {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, clip(head, 32))
	}
	return Message{Kind: kind, Payload: strings.TrimRight(rest, string(terminator))}, nil
}

// DeviceID extracts the first payload field, the device identifier carried
// by REGISTER, HEARTBEAT, UNREGISTER, and every response kind.
func (m Message) DeviceID() (string, error) {
	id := m.Payload
	if i := strings.IndexByte(id, delimiter); i >= 0 {
		id = id[:i]
	}
	if i := strings.IndexByte(id, terminator); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingDeviceID
	}
	return id, nil
}

// Detail returns the payload after the device id field, for response kinds
// whose shape is <KIND>:<id>:<detail>.
func (m Message) Detail() string {
	if i := strings.IndexByte(m.Payload, delimiter); i >= 0 {
		return m.Payload[i+1:]
	}
	return ""
}

// Format assembles a terminated datagram from a kind and its fields,
// clipping the final field so the result never exceeds MaxDatagramSize.
// The terminator always survives truncation.
func Format(kind Kind, fields ...string) []byte {
	var b strings.Builder
	b.WriteString(string(kind))
	for _, f := range fields {
		b.WriteByte(delimiter)
		b.WriteString(f)
	}
	out := b.String()
	if len(out) > MaxDatagramSize-1 {
		out = out[:MaxDatagramSize-1]
	}
	return append([]byte(out), terminator)
}

// ValidateDeviceID rejects identifiers that would corrupt the wire format.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if len(id) > MaxDeviceIDLen {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidDeviceID, clip(id, 40), MaxDeviceIDLen)
	}
	if strings.ContainsAny(id, ":\n") {
		return fmt.Errorf("%w: %q contains a delimiter", ErrInvalidDeviceID, clip(id, 40))
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
