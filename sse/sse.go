// Package sse implements Server-Sent Events message encoding according to
// the W3C specification. See: https://www.w3.org/TR/2009/WD-eventsource-20091029/
//
// This engine only produces SSE streams (see Writer in writer.go); this
// file covers the wire-format side: Message encoding, field validation,
// and multiline data handling.
package sse

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	// ErrMessageNoContent is returned when attempting to encode a message with no fields.
	// According to the SSE specification, a valid message must contain at least one non-empty field.
	ErrMessageNoContent        = errors.New("message has no content")
	ErrMessageInvalidEventName = errors.New("message event name is invalid")
)

// lineBreakReplacer handles escaping of CR and LF characters in fields like id and event,
// as required by the SSE specification.
var (
	lineBreakReplacer = strings.NewReplacer(
		"\n", "\\n",
		"\r", "\\r",
	)
)

// Byte constants for message processing to improve performance.
var (
	byteLF        = []byte("\n")   // Line feed character
	byteLFLF      = []byte("\n\n") // Two line feeds indicating message boundary
	byteCR        = []byte("\r")   // Carriage return character
	byteEscapedCR = []byte("\\r")  // Escaped carriage return
)

// SSE field names, delimiters, and special characters as defined in the W3C specification.
const (
	fieldID                = "id"           // Unique message identifier
	fieldEvent             = "event"        // Event type
	fieldData              = "data"         // Event payload
	fieldRetry             = "retry"        // Reconnection time in milliseconds
	delimiter              = ":"            // Field name-value delimiter
	whitespace             = " "            // Standard space after delimiter
	invalidUTF8Replacement = "\uFFFD"       // Unicode replacement character
	utf8BomSequence        = "\xEF\xBB\xBF" // UTF-8 Byte Order Mark

	// eventNameMessage is the default event type used when no explicit event is specified.
	// According to the SSE specification, when a message doesn't include an event field,
	// clients should dispatch it using the "message" event type.
	eventNameMessage = "message"
)

// Precomputed byte arrays for field prefixes to optimize message encoding.
var (
	fieldPrefixID    = []byte(fieldID + delimiter + whitespace)
	fieldPrefixEvent = []byte(fieldEvent + delimiter + whitespace)
	fieldPrefixData  = []byte(fieldData + delimiter + whitespace)
	fieldPrefixRetry = []byte(fieldRetry + delimiter + whitespace)
)

// Message represents a Server-Sent Event with all fields defined in the SSE specification:
// - ID: Uniquely identifies the event and enables connection resumption
// - Event: Defines the event type (defaults to "message" if not specified)
// - Data: Contains the event payload
// - Retry: Specifies the reconnection time in milliseconds
type Message struct {
	ID    string // Message identifier
	Event string // Message type
	Data  []byte // Message payload
	Retry int    // Reconnection time in milliseconds
}

// isValidSSEEventName checks if the SSE event name meets the specification requirements.
// If the event name is empty, it's considered valid as the default "message" type will be used.
// Otherwise, it must follow DOM event naming rules.
//
// Valid event name rules:
// - Empty string is valid (default "message" type will be used)
// - Must start with a letter
// - Can only contain letters, digits, underscore, hyphen, and period
// - Cannot contain ".." sequence
// - Cannot start or end with a period
// - Cannot contain any whitespace characters
//
// Examples: "update", "user.created", "system-alert" are valid
// While ".update", "user..profile", "alert!" are invalid
func isValidSSEEventName(eventName string) bool {
	if eventName == "" {
		return true
	}
	return isValidDOMEventName(eventName)
}

// isValidDOMEventName validates event names according to DOM specifications:
// - Must not be empty
// - Must not contain '..' or start/end with '.'
// - Must start with a letter
// - Can only contain letters, digits, underscore, hyphen, or period
// - Cannot contain any whitespace
func isValidDOMEventName(eventName string) bool {
	if eventName == "" {
		return false
	}

	if strings.Contains(eventName, "..") ||
		strings.HasPrefix(eventName, ".") ||
		strings.HasSuffix(eventName, ".") {
		return false
	}

	runes := []rune(eventName)

	if !unicode.IsLetter(runes[0]) {
		return false
	}

	for _, r := range runes {
		if unicode.IsSpace(r) {
			return false
		}
		if unicode.IsLetter(r) ||
			unicode.IsDigit(r) ||
			r == '_' ||
			r == '-' ||
			r == '.' {
			continue
		}
		return false
	}

	return true
}

// Encoder handles the conversion of Message objects to the SSE wire format.
// It is concurrency-safe for use by multiple goroutines simultaneously.
type Encoder struct{}

// NewEncoder creates a new SSE message encoder.
// The returned encoder is safe for concurrent use across multiple goroutines.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// isValidMessage verifies that at least one field in the message contains content.
// According to the SSE specification, a message must have at least one non-empty field.
// This method is concurrency-safe as it doesn't modify encoder state.
func (e *Encoder) isValidMessage(msg *Message) bool {
	if len(msg.ID) == 0 &&
		len(msg.Event) == 0 &&
		len(msg.Data) == 0 {
		return false
	}
	return true
}

// writeID formats and writes the ID field to the buffer if it contains content,
// escaping any CR and LF characters as required by the specification.
// This method is concurrency-safe as it operates only on the provided buffer.
func (e *Encoder) writeID(id string, buffer *bytes.Buffer) {
	if len(id) == 0 {
		return
	}

	buffer.Write(fieldPrefixID)
	buffer.WriteString(lineBreakReplacer.Replace(id))
	buffer.Write(byteLF)
}

// writeEvent formats and writes the event field to the buffer if specified,
// escaping any CR and LF characters. When not specified, clients default to "message".
// This method is concurrency-safe as it operates only on the provided buffer.
func (e *Encoder) writeEvent(event string, buffer *bytes.Buffer) {
	if len(event) == 0 {
		return
	}

	buffer.Write(fieldPrefixEvent)
	buffer.WriteString(lineBreakReplacer.Replace(event))
	buffer.Write(byteLF)
}

// writeData formats and writes the data field to the buffer,
// handling multiline data by prefixing each line with "data: " and properly escaping CR characters.
// This method is concurrency-safe as it operates only on the provided buffer.
func (e *Encoder) writeData(data []byte, buffer *bytes.Buffer) {
	if len(data) == 0 {
		return
	}

	processedData := bytes.ReplaceAll(data, byteCR, byteEscapedCR)

	lines := bytes.Split(processedData, byteLF)
	for _, line := range lines {
		buffer.Write(fieldPrefixData)
		buffer.Write(line)
		buffer.Write(byteLF)
	}
}

// writeRetry writes the retry field to the buffer if the value is non-zero,
// indicating the time in milliseconds clients should wait before reconnecting.
// This method is concurrency-safe as it operates only on the provided buffer.
func (e *Encoder) writeRetry(retry int, buffer *bytes.Buffer) {
	if retry == 0 {
		return
	}

	buffer.Write(fieldPrefixRetry)
	buffer.WriteString(strconv.Itoa(retry))
	buffer.Write(byteLF)
}

// encodeToBytes formats the message into the SSE wire format according to the specification,
// ensuring each field is properly formatted and terminating the message with a blank line.
// This method is concurrency-safe as it creates a new buffer for each call.
func (e *Encoder) encodeToBytes(msg *Message) []byte {
	buffer := bytes.NewBuffer(make([]byte, 0, len(msg.ID)+len(msg.Event)+2*len(msg.Data)+8))

	e.writeID(msg.ID, buffer)
	e.writeEvent(msg.Event, buffer)
	e.writeData(msg.Data, buffer)
	e.writeRetry(msg.Retry, buffer)
	buffer.Write(byteLF) // Terminate message with blank line

	return buffer.Bytes()
}

// Encode validates and encodes a message into the SSE wire format.
// Returns an error if the message contains no content or has an invalid event name.
// This method is concurrency-safe and can be called by multiple goroutines.
//
// Boundary conditions:
// - If msg is nil, ErrMessageNoContent will be returned
// - Empty string as Event is valid (default "message" type will be used)
// - Newlines in the Data field will be properly handled as multiline data fields
// - Newlines in the ID field will be escaped as \n; an Event containing a newline is rejected as an invalid event name
// - A successfully encoded message always ends with a blank line; a message with no ID, Event or Data is rejected with ErrMessageNoContent
// - Any non-zero Retry value, negative included, is written as given
func (e *Encoder) Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrMessageNoContent
	}
	if !isValidSSEEventName(msg.Event) {
		return nil, errors.Join(ErrMessageInvalidEventName, fmt.Errorf("event name: %s", msg.Event))
	}
	if !e.isValidMessage(msg) {
		return nil, ErrMessageNoContent
	}

	return e.encodeToBytes(msg), nil
}

