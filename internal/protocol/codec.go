package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// CodecErrorKind classifies a CodecError.
type CodecErrorKind string

const (
	// CodecTooLarge means the frame, encoded or on the wire, exceeded the
	// configured MaxFrameBytes.
	CodecTooLarge CodecErrorKind = "too_large"
	// CodecInvalid means the payload could not be parsed as a frame at
	// all; the caller should log and drop it, not treat it as fatal.
	CodecInvalid CodecErrorKind = "invalid"
)

// CodecError is returned by Encode/Decode.
type CodecError struct {
	Kind CodecErrorKind
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("codec: %s", e.Kind)
}

func (e *CodecError) Unwrap() error { return e.Err }

const protocolVersion = "1.0.0"

// envelope mirrors the wire shape from spec.md §6:
//
//	{envelope:{tunnel_id?, client_id?}, message:{metadata:{...}, payload:{type, data}}}
type envelope struct {
	Envelope *envelopeIDs    `json:"envelope,omitempty"`
	Message  envelopeMessage `json:"message"`
}

type envelopeIDs struct {
	TunnelID string `json:"tunnel_id,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

type envelopeMessage struct {
	Metadata envelopeMetadata `json:"metadata"`
	Payload  envelopePayload  `json:"payload"`
}

type envelopeMetadata struct {
	ID            string `json:"id"`
	MessageType   string `json:"message_type"`
	Version       string `json:"version"`
	Timestamp     int64  `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type envelopePayload struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// httpData is the payload.data shape for payload.type == "Http".
type httpData struct {
	Kind       string              `json:"kind"` // "Request" | "Response"
	Method     string              `json:"method,omitempty"`
	URL        string              `json:"url,omitempty"`
	Status     int                 `json:"status,omitempty"`
	StatusText string              `json:"status_text,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body,omitempty"` // base64
	RequestID  string              `json:"requestId"`
}

// controlData is the payload.data shape for payload.type == "Control".
type controlData struct {
	Kind      string `json:"type"` // "Ping" | "Pong" | "Shutdown"
	Timestamp int64  `json:"timestamp,omitempty"`
	Payload   string `json:"data,omitempty"` // base64
	Reason    string `json:"reason,omitempty"`
}

// authData is the payload.data shape for payload.type == "Auth".
type authData struct {
	Kind    string `json:"auth_type"` // "Failure"
	Code    string `json:"error_code,omitempty"`
	Message string `json:"error_message,omitempty"`
}

// errorData is the payload.data shape for payload.type == "Error".
type errorData struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	RelatedID string `json:"related_id,omitempty"`
}

// Codec encodes/decodes Frame values to/from the wire envelope, bounding
// size by MaxFrameBytes.
type Codec struct {
	MaxFrameBytes int
	// TunnelID/ClientID are stamped into outgoing envelopes when set.
	TunnelID string
	ClientID string

	now func() int64
}

// NewCodec returns a Codec bounded to maxFrameBytes (0 disables the bound).
func NewCodec(maxFrameBytes int) *Codec {
	return &Codec{MaxFrameBytes: maxFrameBytes}
}

func (c *Codec) timestamp() int64 {
	if c.now != nil {
		return c.now()
	}
	return nowMillis()
}

func (c *Codec) envelopeIDs() *envelopeIDs {
	if c.TunnelID == "" && c.ClientID == "" {
		return nil
	}
	return &envelopeIDs{TunnelID: c.TunnelID, ClientID: c.ClientID}
}

// Encode serializes f to its wire JSON form.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	msg, err := c.buildMessage(f)
	if err != nil {
		return nil, err
	}
	env := envelope{Envelope: c.envelopeIDs(), Message: msg}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, &CodecError{Kind: CodecInvalid, Err: err}
	}
	if c.MaxFrameBytes > 0 && len(out) > c.MaxFrameBytes {
		return nil, &CodecError{Kind: CodecTooLarge, Err: fmt.Errorf("encoded frame is %d bytes, max is %d", len(out), c.MaxFrameBytes)}
	}
	return out, nil
}

func (c *Codec) buildMessage(f Frame) (envelopeMessage, error) {
	meta := envelopeMetadata{
		ID:          uuid.NewString(),
		MessageType: string(f.Kind),
		Version:     protocolVersion,
		Timestamp:   c.timestamp(),
	}
	if f.RequestID != "" {
		meta.CorrelationID = f.RequestID
	}

	var payload envelopePayload
	switch f.Kind {
	case KindHTTPRequest:
		data := httpData{
			Kind:      "Request",
			Method:    f.Method,
			URL:       f.Target,
			Headers:   f.Headers,
			RequestID: f.RequestID,
		}
		if f.Body != nil {
			data.Body = base64.StdEncoding.EncodeToString(f.Body)
		}
		payload = envelopePayload{Type: "Http"}
		raw, err := json.Marshal(data)
		if err != nil {
			return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		payload.Data = raw

	case KindHTTPResponse:
		statusText := f.StatusText
		if statusText == "" {
			statusText = http.StatusText(f.Status)
		}
		data := httpData{
			Kind:       "Response",
			Status:     f.Status,
			StatusText: statusText,
			Headers:    f.Headers,
			RequestID:  f.RequestID,
		}
		if f.Body != nil {
			data.Body = base64.StdEncoding.EncodeToString(f.Body)
		}
		payload = envelopePayload{Type: "Http"}
		raw, err := json.Marshal(data)
		if err != nil {
			return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		payload.Data = raw

	case KindPing, KindPong:
		data := controlData{Kind: string(f.Kind), Timestamp: c.timestamp()}
		if f.PingPayload != nil {
			data.Payload = base64.StdEncoding.EncodeToString(f.PingPayload)
		}
		payload = envelopePayload{Type: "Control"}
		raw, err := json.Marshal(data)
		if err != nil {
			return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		payload.Data = raw

	case KindShutdown:
		data := controlData{Kind: "Shutdown", Reason: f.Reason}
		payload = envelopePayload{Type: "Control"}
		raw, err := json.Marshal(data)
		if err != nil {
			return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		payload.Data = raw

	case KindAuthFailure:
		data := authData{Kind: "Failure", Message: f.ErrorMessage}
		payload = envelopePayload{Type: "Auth"}
		raw, err := json.Marshal(data)
		if err != nil {
			return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		payload.Data = raw

	case KindError:
		data := errorData{Message: f.ErrorMessage, RelatedID: f.RequestID}
		payload = envelopePayload{Type: "Error"}
		raw, err := json.Marshal(data)
		if err != nil {
			return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		payload.Data = raw

	case KindStats:
		payload = envelopePayload{Type: "Stats", Data: json.RawMessage("{}")}

	default:
		return envelopeMessage{}, &CodecError{Kind: CodecInvalid, Err: fmt.Errorf("unknown frame kind %q", f.Kind)}
	}

	return envelopeMessage{Metadata: meta, Payload: payload}, nil
}

// Decode parses raw (a text or binary WebSocket message) into a Frame.
// Unknown payload types are reported as a CodecInvalid error; callers
// must treat that as "log and drop", never fatal, per spec.md §4.2/§7.
func (c *Codec) Decode(raw []byte) (Frame, error) {
	if c.MaxFrameBytes > 0 && len(raw) > c.MaxFrameBytes {
		return Frame{}, &CodecError{Kind: CodecTooLarge, Err: fmt.Errorf("received frame is %d bytes, max is %d", len(raw), c.MaxFrameBytes)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
	}

	meta := env.Message.Metadata
	payload := env.Message.Payload

	switch payload.Type {
	case "Http":
		var data httpData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		body, err := decodeBody(data.Body)
		if err != nil {
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		switch data.Kind {
		case "Request":
			return Frame{
				Kind:      KindHTTPRequest,
				RequestID: data.RequestID,
				Method:    data.Method,
				Target:    NormalizeTarget(data.URL),
				Headers:   data.Headers,
				Body:      body,
			}, nil
		case "Response":
			return Frame{
				Kind:       KindHTTPResponse,
				RequestID:  data.RequestID,
				Status:     data.Status,
				StatusText: data.StatusText,
				Headers:    data.Headers,
				Body:       body,
			}, nil
		default:
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: fmt.Errorf("unknown http payload kind %q", data.Kind)}
		}

	case "Control":
		var data controlData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		switch data.Kind {
		case "Ping":
			body, err := decodeBody(data.Payload)
			if err != nil {
				return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
			}
			return Frame{Kind: KindPing, PingPayload: body}, nil
		case "Pong":
			body, err := decodeBody(data.Payload)
			if err != nil {
				return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
			}
			return Frame{Kind: KindPong, PingPayload: body}, nil
		case "Shutdown":
			return Frame{Kind: KindShutdown, Reason: data.Reason}, nil
		default:
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: fmt.Errorf("unknown control payload kind %q", data.Kind)}
		}

	case "Auth":
		var data authData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		if data.Kind == "Failure" {
			return Frame{Kind: KindAuthFailure, ErrorMessage: data.Message, RequestID: meta.CorrelationID}, nil
		}
		return Frame{}, &CodecError{Kind: CodecInvalid, Err: fmt.Errorf("unknown auth payload kind %q", data.Kind)}

	case "Error":
		var data errorData
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return Frame{}, &CodecError{Kind: CodecInvalid, Err: err}
		}
		return Frame{Kind: KindError, ErrorMessage: data.Message, RequestID: data.RelatedID}, nil

	case "Stats":
		return Frame{Kind: KindStats}, nil

	default:
		// Stream/Custom/Config/Command and anything else: spec.md §9 Open
		// Question defers richer behavior; log-and-ignore at the session
		// level, signalled here as a dropped (non-fatal) decode.
		return Frame{}, &CodecError{Kind: CodecInvalid, Err: fmt.Errorf("unhandled payload type %q", payload.Type)}
	}
}

func decodeBody(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(b64)
}
