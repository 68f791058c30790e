package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"mercator-hq/conduit/pkg/providers"
)

// recorder collects written frames.
type recorder struct {
	frames []string
	failAt int
}

func (r *recorder) WriteFrame(p []byte) error {
	if r.failAt > 0 && len(r.frames)+1 == r.failAt {
		return errors.New("client gone")
	}
	r.frames = append(r.frames, string(p))
	return nil
}

func (r *recorder) sentinels() int {
	n := 0
	for _, f := range r.frames {
		if f == "[DONE]" {
			n++
		}
	}
	return n
}

func sse(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		fmt.Fprintf(&b, "data: %s\n\n", p)
	}
	return b.String()
}

func TestNormalizer_SingleSentinel(t *testing.T) {
	chunk := `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`

	tests := []struct {
		name      string
		input     string
		transform providers.StreamTransform
		wantData  int
		wantCalls int
	}{
		{
			name:      "explicit sentinel",
			input:     sse(chunk, "[DONE]", chunk),
			wantData:  1,
			wantCalls: 1,
		},
		{
			name:      "upstream closes without sentinel",
			input:     sse(chunk, chunk),
			wantData:  2,
			wantCalls: 2,
		},
		{
			name:  "structural end",
			input: sse(chunk, `{"end":true}`, chunk, "[DONE]"),
			transform: func(raw string) (string, error) {
				if strings.Contains(raw, "end") {
					return chunk, providers.ErrStreamDone
				}
				return raw, nil
			},
			wantData:  2,
			wantCalls: 2,
		},
		{
			name:  "structural end then sentinel",
			input: sse(chunk, `{"end":true}`, "[DONE]"),
			transform: func(raw string) (string, error) {
				if strings.Contains(raw, "end") {
					return "", providers.ErrStreamDone
				}
				return raw, nil
			},
			wantData:  1,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := tt.transform
			if inner == nil {
				inner = func(raw string) (string, error) { return raw, nil }
			}
			var calls []string
			transform := func(raw string) (string, error) {
				calls = append(calls, raw)
				return inner(raw)
			}

			rec := &recorder{}
			n := &Normalizer{Provider: "p", Format: providers.StreamSSE, Transform: transform}

			summary, err := n.Run(context.Background(), iotest.OneByteReader(strings.NewReader(tt.input)), rec)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if rec.sentinels() != 1 {
				t.Errorf("expected exactly one sentinel, got %v", rec.frames)
			}
			if rec.frames[len(rec.frames)-1] != "[DONE]" {
				t.Errorf("expected sentinel last, got %v", rec.frames)
			}
			if summary.Chunks != tt.wantData {
				t.Errorf("Chunks = %d, want %d", summary.Chunks, tt.wantData)
			}
			if len(calls) != tt.wantCalls {
				t.Errorf("transform called %d times, want %d: %q", len(calls), tt.wantCalls, calls)
			}
			for _, raw := range calls {
				if raw != chunk && raw != `{"end":true}` {
					t.Errorf("transform saw a partial frame %q", raw)
				}
			}
		})
	}
}

func TestNormalizer_TransformOutcomes(t *testing.T) {
	input := sse(`{"keep":1}`, `{"drop":1}`, `not json`, `{"keep":2}`)
	transform := func(raw string) (string, error) {
		switch {
		case strings.Contains(raw, "drop"):
			return "", nil
		case strings.HasPrefix(raw, "not"):
			return "", errors.New("invalid character")
		default:
			return strings.ToUpper(raw), nil
		}
	}

	rec := &recorder{}
	n := &Normalizer{Provider: "p", Transform: transform}
	summary, err := n.Run(context.Background(), strings.NewReader(input), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{`{"KEEP":1}`, `not json`, `{"KEEP":2}`, "[DONE]"}
	if strings.Join(rec.frames, "|") != strings.Join(want, "|") {
		t.Errorf("frames = %v, want %v", rec.frames, want)
	}
	if summary.Dropped != 1 || summary.Malformed != 1 || summary.Chunks != 3 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestNormalizer_Summary(t *testing.T) {
	input := sse(
		`{"id":"c1","model":"m","choices":[{"index":0,"delta":{"role":"assistant"},"finish_reason":null}]}`,
		`{"id":"c1","model":"m","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`,
		`{"id":"c1","model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
		`{"id":"c1","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"f","arguments":"{\"a\""}}]},"finish_reason":null}]}`,
		`{"id":"c1","model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":1}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","model":"m","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
		"[DONE]",
	)

	summary, err := (&Normalizer{}).Run(context.Background(), strings.NewReader(input), &recorder{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Content != "Hello" || summary.ID != "c1" || summary.Model != "m" {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", summary.FinishReason)
	}
	if len(summary.ToolCalls) != 1 || summary.ToolCalls[0].Function.Arguments != `{"a":1}` || summary.ToolCalls[0].Function.Name != "f" {
		t.Errorf("unexpected tool calls %+v", summary.ToolCalls)
	}
	if summary.Usage == nil || summary.Usage.TotalTokens != 7 {
		t.Errorf("unexpected usage %+v", summary.Usage)
	}
}

func TestNormalizer_SummaryTextCompletion(t *testing.T) {
	input := sse(
		`{"id":"cmpl-1","object":"text_completion","model":"m","choices":[{"index":0,"text":"Hel","finish_reason":null}]}`,
		`{"id":"cmpl-1","object":"text_completion","model":"m","choices":[{"index":0,"text":"lo","finish_reason":"stop"}]}`,
		"[DONE]",
	)

	summary, err := (&Normalizer{}).Run(context.Background(), strings.NewReader(input), &recorder{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Content != "Hello" || summary.FinishReason != "stop" {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestNormalizer_InStreamError(t *testing.T) {
	input := sse(`{"error":{"message":"overloaded","type":"server_error"}}`)
	summary, err := (&Normalizer{}).Run(context.Background(), strings.NewReader(input), &recorder{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Error == nil || summary.Error.Message != "overloaded" {
		t.Errorf("expected in-stream error recorded, got %+v", summary.Error)
	}
}

func TestNormalizer_Abort(t *testing.T) {
	boom := errors.New("connection reset by peer")
	upstream := io.MultiReader(strings.NewReader(sse(`{"a":1}`)), iotest.ErrReader(boom))

	rec := &recorder{}
	_, err := (&Normalizer{Provider: "openai"}).Run(context.Background(), upstream, rec)

	var aborted *StreamAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected StreamAbortedError, got %v", err)
	}
	if !errors.Is(err, boom) || aborted.Chunks != 1 || aborted.Provider != "openai" {
		t.Errorf("unexpected abort %+v", aborted)
	}

	if len(rec.frames) != 3 {
		t.Fatalf("expected chunk, error frame and sentinel, got %v", rec.frames)
	}
	if !strings.Contains(rec.frames[1], `"code":"stream_aborted"`) {
		t.Errorf("expected error frame, got %s", rec.frames[1])
	}
	if rec.frames[2] != "[DONE]" {
		t.Errorf("expected stream closed with sentinel, got %s", rec.frames[2])
	}
}

func TestNormalizer_TruncatedStream(t *testing.T) {
	input := "data: {\"id\":\"a\",\"choices\":[]}\n\ndata: {\"id\":\"b\",\"choi"

	var calls []string
	transform := func(raw string) (string, error) {
		calls = append(calls, raw)
		return raw, nil
	}

	rec := &recorder{}
	_, err := (&Normalizer{Provider: "openai", Transform: transform}).Run(context.Background(), strings.NewReader(input), rec)

	var aborted *StreamAbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected StreamAbortedError, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected unexpected EOF cause, got %v", aborted.Cause)
	}
	if len(calls) != 1 || calls[0] != `{"id":"a","choices":[]}` {
		t.Errorf("transform saw %q, want only the complete frame", calls)
	}
	if len(rec.frames) != 3 || !strings.Contains(rec.frames[1], `"code":"stream_aborted"`) || rec.frames[2] != "[DONE]" {
		t.Errorf("expected chunk, error frame and sentinel, got %v", rec.frames)
	}
}

func TestNormalizer_MalformedMultilineRecord(t *testing.T) {
	input := "data: {\"partial\":\ndata: oops\n\n"
	transform := func(raw string) (string, error) {
		return "", errors.New("unexpected end of JSON input")
	}

	rw := httptest.NewRecorder()
	summary, err := (&Normalizer{Transform: transform}).Run(context.Background(), strings.NewReader(input), NewSSEWriter(rw))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", summary.Malformed)
	}

	body := rw.Body.String()
	for _, line := range strings.Split(body, "\n") {
		if line != "" && !strings.HasPrefix(line, "data: ") {
			t.Errorf("outbound line %q has no data field in %q", line, body)
		}
	}

	frames := collect(t, NewFrameScanner(strings.NewReader(body), providers.StreamSSE))
	if len(frames) != 2 || frames[0].Data != "{\"partial\":\noops" || frames[1].Data != "[DONE]" {
		t.Errorf("client would reassemble %+v", frames)
	}
}

func TestNormalizer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rec := &recorder{}
	transform := func(raw string) (string, error) {
		cancel()
		return raw, nil
	}

	_, err := (&Normalizer{Transform: transform}).Run(ctx, strings.NewReader(sse(`{"a":1}`, `{"a":2}`)), rec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(rec.frames) != 1 || rec.sentinels() != 0 {
		t.Errorf("expected emission to stop without sentinel, got %v", rec.frames)
	}
}

func TestNormalizer_WriteFailure(t *testing.T) {
	rec := &recorder{failAt: 2}
	_, err := (&Normalizer{}).Run(context.Background(), strings.NewReader(sse(`{"a":1}`, `{"a":2}`)), rec)

	var we *WriteError
	if !errors.As(err, &we) {
		t.Errorf("expected WriteError, got %v", err)
	}
}

func TestNormalizer_NDJSON(t *testing.T) {
	input := "{\"n\":1}\n{\"n\":2}\n"
	rec := &recorder{}
	_, err := (&Normalizer{Format: providers.StreamNDJSON}).Run(context.Background(), strings.NewReader(input), rec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(rec.frames, "|") != `{"n":1}|{"n":2}|[DONE]` {
		t.Errorf("unexpected frames %v", rec.frames)
	}
}

func TestSSEWriter(t *testing.T) {
	rw := httptest.NewRecorder()
	SetHeaders(rw.Header())
	w := NewSSEWriter(rw)

	if err := w.WriteFrame([]byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := w.WriteFrame(Done); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	if got := rw.Body.String(); got != "data: {\"a\":1}\n\ndata: [DONE]\n\n" {
		t.Errorf("unexpected body %q", got)
	}
	if !rw.Flushed {
		t.Error("expected writes to be flushed")
	}
	if rw.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("unexpected content type %q", rw.Header().Get("Content-Type"))
	}
}

func TestSSEWriter_MultilinePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"lf", "{\"a\":\n1}", "data: {\"a\":\ndata: 1}\n\n"},
		{"crlf", "{\"a\":\r\n1}", "data: {\"a\":\ndata: 1}\n\n"},
		{"empty line kept", "a\n\nb", "data: a\ndata: \ndata: b\n\n"},
		{"empty payload", "", "data: \n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := httptest.NewRecorder()
			if err := NewSSEWriter(rw).WriteFrame([]byte(tt.payload)); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if got := rw.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}
