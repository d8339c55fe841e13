package control

import (
	"net"
	"testing"
	"time"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"rtt_sync", Message{Code: CodeRTTSync, Value: 7}},
		{"train_sent", Message{Code: CodeTrainSent, Value: 0}},
		{"unknown_code", Message{Code: Code(9999), Value: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, MessageSize)
			n, err := Marshal(tt.msg, buf)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if n != MessageSize {
				t.Fatalf("Marshal returned %d bytes, want %d", n, MessageSize)
			}

			got, err := Unmarshal(buf)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got != tt.msg {
				t.Errorf("round trip = %+v, want %+v", got, tt.msg)
			}
		})
	}
}

func TestMarshalBufTooSmall(t *testing.T) {
	buf := make([]byte, 4)
	if _, err := Marshal(Message{Code: CodeRTTSync}, buf); err == nil {
		t.Error("Marshal with undersized buffer: want error, got nil")
	}
}

func TestUnmarshalBufTooSmall(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err == nil {
		t.Error("Unmarshal with undersized buffer: want error, got nil")
	}
}

func TestChannelSendRecv(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	client := NewChannelFromConn(cli)
	defer client.Close()

	want := Message{Code: CodeTrainSend, Value: 99}

	go func() {
		buf := make([]byte, MessageSize)
		if _, err := Marshal(want, buf); err != nil {
			return
		}
		_, _ = srv.Write(buf)
	}()

	select {
	case got := <-client.Recv():
		if got != want {
			t.Errorf("Recv() = %+v, want %+v", got, want)
		}
	case err := <-client.Err():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestChannelRTTSyncReplyValue(t *testing.T) {
	const count = 5
	want := Message{Code: CodeRTTSync, Value: 0xffffff - count}

	if want.Value != 0xffffff-count {
		t.Fatalf("sanity check failed")
	}
}
