package protocol

import (
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name: "http request",
			frame: Frame{
				Kind:      KindHTTPRequest,
				RequestID: "R1",
				Method:    "GET",
				Target:    "/health",
				Headers:   map[string][]string{"accept": {"application/json"}},
				Body:      []byte(`{"ok":true}`),
			},
		},
		{
			name: "http response",
			frame: Frame{
				Kind:       KindHTTPResponse,
				RequestID:  "R1",
				Status:     200,
				StatusText: "OK",
				Headers:    map[string][]string{"content-type": {"application/json"}},
				Body:       []byte(`{"ok":true}`),
			},
		},
		{
			name:  "ping",
			frame: Frame{Kind: KindPing, PingPayload: []byte("abc")},
		},
		{
			name:  "pong",
			frame: Frame{Kind: KindPong, PingPayload: []byte("abc")},
		},
		{
			name:  "shutdown",
			frame: Frame{Kind: KindShutdown, Reason: "operator requested"},
		},
		{
			name:  "auth failure",
			frame: Frame{Kind: KindAuthFailure, ErrorMessage: "bad token"},
		},
		{
			name:  "error",
			frame: Frame{Kind: KindError, RequestID: "R9", ErrorMessage: "boom"},
		},
	}

	c := NewCodec(1 << 20)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.Encode(tt.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := c.Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Kind != tt.frame.Kind {
				t.Errorf("Kind = %v, want %v", decoded.Kind, tt.frame.Kind)
			}
			if decoded.RequestID != tt.frame.RequestID {
				t.Errorf("RequestID = %q, want %q", decoded.RequestID, tt.frame.RequestID)
			}
			if tt.frame.Kind == KindHTTPRequest {
				if decoded.Method != tt.frame.Method {
					t.Errorf("Method = %q, want %q", decoded.Method, tt.frame.Method)
				}
				if decoded.Target != tt.frame.Target {
					t.Errorf("Target = %q, want %q", decoded.Target, tt.frame.Target)
				}
				if string(decoded.Body) != string(tt.frame.Body) {
					t.Errorf("Body = %q, want %q", decoded.Body, tt.frame.Body)
				}
			}
			if tt.frame.Kind == KindHTTPResponse {
				if decoded.Status != tt.frame.Status {
					t.Errorf("Status = %d, want %d", decoded.Status, tt.frame.Status)
				}
				if string(decoded.Body) != string(tt.frame.Body) {
					t.Errorf("Body = %q, want %q", decoded.Body, tt.frame.Body)
				}
			}
		})
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	c := NewCodec(8)
	_, err := c.Decode([]byte(`{"message":{"metadata":{},"payload":{"type":"Stats","data":{}}}}`))
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	var cerr *CodecError
	if !asCodecError(err, &cerr) {
		t.Fatalf("expected CodecError, got %T: %v", err, err)
	}
	if cerr.Kind != CodecTooLarge {
		t.Errorf("Kind = %v, want %v", cerr.Kind, CodecTooLarge)
	}
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	c := NewCodec(16)
	_, err := c.Encode(Frame{Kind: KindHTTPRequest, RequestID: "R1", Method: "GET", Target: "/a/very/long/path/that/does/not/fit"})
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestDecodeUnknownPayloadTypeIsNonFatal(t *testing.T) {
	c := NewCodec(0)
	_, err := c.Decode([]byte(`{"message":{"metadata":{"id":"x","message_type":"custom","version":"1.0.0","timestamp":1},"payload":{"type":"Custom","data":{}}}}`))
	if err == nil {
		t.Fatal("expected decode error for unhandled payload type")
	}
	var cerr *CodecError
	if !asCodecError(err, &cerr) {
		t.Fatalf("expected CodecError, got %T", err)
	}
	if cerr.Kind != CodecInvalid {
		t.Errorf("Kind = %v, want %v", cerr.Kind, CodecInvalid)
	}
}

func asCodecError(err error, target **CodecError) bool {
	ce, ok := err.(*CodecError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/health#frag", "/health"},
		{"health", "/health"},
		{"https://example.com/api/test?param=value", "/api/test?param=value"},
		{"https://example.com/api/test?param=value#frag", "/api/test?param=value"},
		{"https://example.com", "/"},
		{"", "/"},
	}
	for _, tt := range tests {
		got := NormalizeTarget(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeTarget(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTargetIdempotent(t *testing.T) {
	inputs := []string{"/health", "health", "https://example.com/api/test?param=value#frag", "/a/b?x=1"}
	for _, in := range inputs {
		once := NormalizeTarget(in)
		twice := NormalizeTarget(once)
		if once != twice {
			t.Errorf("normalize not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}
