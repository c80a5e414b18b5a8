package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/signalsense/voice-engine/internal/audio"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeService runs a minimal remote endpoint: it validates the setup frame,
// answers opened, then runs script against the connection.
func fakeService(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var setup clientSetup
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("Read setup failed: %v", err)
			return
		}
		if setup.Type != "setup" {
			t.Errorf("Expected setup frame first, got %q", setup.Type)
			return
		}
		if err := conn.WriteJSON(serverFrame{Type: "opened"}); err != nil {
			return
		}
		if script != nil {
			script(conn)
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		Model:            "live-audio-test",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
	}
}

func TestConnect_WaitsForOpened(t *testing.T) {
	srv := fakeService(t, nil)
	defer srv.Close()

	ch, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ch.Close()
}

func TestConnect_RemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var setup clientSetup
		_ = conn.ReadJSON(&setup)
		_ = conn.WriteJSON(serverFrame{Type: "error", Message: "bad credentials"})
	}))
	defer srv.Close()

	_, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err == nil {
		t.Fatal("Expected connect error")
	}
	if _, ok := err.(*ConnectError); !ok {
		t.Errorf("Expected *ConnectError, got %T", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, testConfig("ws://127.0.0.1:1/live"), zerolog.Nop())
	if err == nil {
		t.Fatal("Expected connect error for unreachable service")
	}
	if _, ok := err.(*ConnectError); !ok {
		t.Errorf("Expected *ConnectError, got %T", err)
	}
}

func TestChannel_EventsInOrder(t *testing.T) {
	srv := fakeService(t, func(conn *websocket.Conn) {
		frames := []serverFrame{
			{Type: "input_transcript", Text: "Hello "},
			{Type: "input_transcript", Text: "world"},
			{Type: "turn_complete"},
			{Type: "closed"},
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ch, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	var got []string
	for event := range ch.Events() {
		got = append(got, event.eventType())
		if _, ok := event.(ClosedEvent); ok {
			break
		}
	}
	want := []string{"input_transcript", "input_transcript", "turn_complete", "closed"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChannel_BadAudioPayloadDropsFrameOnly(t *testing.T) {
	good := audio.EncodePCM16([]float32{0.25, -0.25})
	srv := fakeService(t, func(conn *websocket.Conn) {
		frames := []serverFrame{
			{Type: "audio", DataB64: "not base64!!"},
			{Type: "audio", DataB64: audio.EncodeBase64(good)},
			{Type: "closed"},
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ch, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	var got []Event
	for event := range ch.Events() {
		got = append(got, event)
		if _, ok := event.(ClosedEvent); ok {
			break
		}
	}

	// The undecodable frame is dropped; the good chunk and the close arrive.
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d: %v", len(got), got)
	}
	chunk, ok := got[0].(AudioChunkEvent)
	if !ok {
		t.Fatalf("Expected AudioChunkEvent first, got %T", got[0])
	}
	if string(chunk.Data) != string(good) {
		t.Error("Good chunk payload corrupted")
	}
	if _, ok := got[1].(ClosedEvent); !ok {
		t.Errorf("Expected ClosedEvent second, got %T", got[1])
	}
}

func TestChannel_ServerErrorEndsStream(t *testing.T) {
	srv := fakeService(t, func(conn *websocket.Conn) {
		if err := conn.WriteJSON(serverFrame{Type: "error", Message: "quota exceeded"}); err != nil {
			return
		}
		// Keep the socket open: the client side must still end the stream.
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	ch, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	var got []Event
	for event := range ch.Events() {
		got = append(got, event)
	}

	if len(got) != 1 {
		t.Fatalf("Expected the error to be the final event, got %v", got)
	}
	errEvent, ok := got[0].(ErrorEvent)
	if !ok {
		t.Fatalf("Expected ErrorEvent, got %T", got[0])
	}
	if errEvent.Message != "quota exceeded" {
		t.Errorf("Unexpected message %q", errEvent.Message)
	}
}

func TestChannel_SendDeliversOrderedFrames(t *testing.T) {
	received := make(chan clientAudioFrame, 4)
	srv := fakeService(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame clientAudioFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				t.Errorf("Bad audio frame: %v", err)
				return
			}
			received <- frame
		}
	})
	defer srv.Close()

	ch, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	first := audio.EncodeFrame([]float32{0.1, 0.2})
	second := audio.EncodeFrame([]float32{0.3, 0.4})
	if err := ch.Send(first); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := ch.Send(second); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	for i, want := range []audio.WireFrame{first, second} {
		select {
		case frame := <-received:
			if frame.Type != "audio_frame" {
				t.Errorf("Frame %d: expected type audio_frame, got %q", i, frame.Type)
			}
			if frame.MimeType != audio.MimeTypePCM16k {
				t.Errorf("Frame %d: expected mime %q, got %q", i, audio.MimeTypePCM16k, frame.MimeType)
			}
			if frame.DataB64 != audio.EncodeBase64(want.Data) {
				t.Errorf("Frame %d: payload mismatch", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for frame %d", i)
		}
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	srv := fakeService(t, func(conn *websocket.Conn) {
		// Hold the connection open until the client closes.
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	ch, err := Connect(context.Background(), testConfig(wsURL(srv)), zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if err := ch.Send(audio.EncodeFrame([]float32{0})); err == nil {
		t.Error("Expected send after close to fail")
	}
}
