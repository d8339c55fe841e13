package engine

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dantte-lp/loco/internal/control"
)

func newTestReceiver(t *testing.T, timeout time.Duration) (*Receiver, net.Conn, *net.UDPConn) {
	t.Helper()

	ctrlServer, ctrlClient := net.Pipe()
	t.Cleanup(func() { _ = ctrlServer.Close() })

	udpClient, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { _ = udpClient.Close() })

	udpServer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	t.Cleanup(func() { _ = udpServer.Close() })

	// The receiver reads from udpClient; the test drives udpServer to
	// send packets to it.
	go func() { _, _ = io.Copy(io.Discard, ctrlServer) }() // drain TRAIN_SEND/ACK/FAIL writes the tests don't assert on

	recv := NewReceiver(newChannelFromConn(ctrlClient), udpClient, timeout, slog.Default())
	return recv, ctrlServer, udpServer
}

// newChannelFromConn wraps a net.Pipe end as a control.Channel for tests,
// bypassing control.Dial's real TCP connect.
func newChannelFromConn(conn net.Conn) *control.Channel {
	return control.NewChannelForTesting(conn)
}

func sendUDPFrame(t *testing.T, from *net.UDPConn, to *net.UDPConn, trainID, packetID uint32, packetLength int) {
	t.Helper()
	buf := make([]byte, packetLength)
	binary.BigEndian.PutUint32(buf[0:4], trainID)
	binary.BigEndian.PutUint32(buf[4:8], packetID)
	if _, err := from.WriteToUDP(buf, to.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}
}

func TestReceiveTrainSuccess(t *testing.T) {
	recv, _, udpServer := newTestReceiver(t, 2*time.Second)

	td := TrainDescriptor{TrainID: 1, Length: 3, PacketLength: 64}

	go func() {
		for i := 0; i < td.Length; i++ {
			sendUDPFrame(t, udpServer, recv.udp, td.TrainID, uint32(i), td.PacketLength)
			time.Sleep(5 * time.Millisecond)
		}
		_ = recv.ctrl.Send(control.Message{Code: control.CodeTrainSent})
	}()

	result, err := recv.ReceiveTrain(context.Background(), td)
	if err != nil {
		t.Fatalf("ReceiveTrain: %v", err)
	}
	if result.Outcome != ReceiveOK {
		t.Fatalf("Outcome = %v, want ReceiveOK", result.Outcome)
	}
	if len(result.Timestamps) != td.Length {
		t.Fatalf("len(Timestamps) = %d, want %d", len(result.Timestamps), td.Length)
	}
}

func TestReceiveTrainTimeout(t *testing.T) {
	recv, _, _ := newTestReceiver(t, 100*time.Millisecond)
	td := TrainDescriptor{TrainID: 1, Length: 3, PacketLength: 64}

	result, err := recv.ReceiveTrain(context.Background(), td)
	if err != nil {
		t.Fatalf("ReceiveTrain: %v", err)
	}
	if result.Outcome != ReceiveIncomplete {
		t.Fatalf("Outcome = %v, want ReceiveIncomplete", result.Outcome)
	}
}

func TestReceiveTrainStale(t *testing.T) {
	recv, _, udpServer := newTestReceiver(t, 150*time.Millisecond)
	td := TrainDescriptor{TrainID: 5, Length: 2, PacketLength: 64}

	go sendUDPFrame(t, udpServer, recv.udp, 999, 0, td.PacketLength)

	result, err := recv.ReceiveTrain(context.Background(), td)
	if err != nil {
		t.Fatalf("ReceiveTrain: %v", err)
	}
	if result.Outcome != ReceiveStale {
		t.Fatalf("Outcome = %v, want ReceiveStale", result.Outcome)
	}
}
