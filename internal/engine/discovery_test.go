package engine

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dantte-lp/loco/internal/control"
)

// newAlwaysSucceedSampler wires a Sampler to a fake daemon that answers
// every TRAIN_SEND with a full run of maxLength UDP packets followed by
// TRAIN_SENT, so every attempt() call succeeds regardless of the train
// length actually requested.
func newAlwaysSucceedSampler(t *testing.T, maxLength int) *Sampler {
	t.Helper()

	ctrlServer, ctrlClient := net.Pipe()
	t.Cleanup(func() { _ = ctrlServer.Close() })

	udpClient, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP client: %v", err)
	}
	t.Cleanup(func() { _ = udpClient.Close() })

	udpServer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP server: %v", err)
	}
	t.Cleanup(func() { _ = udpServer.Close() })

	clientCh := control.NewChannelForTesting(ctrlClient)
	serverCh := control.NewChannelForTesting(ctrlServer)

	go func() {
		for msg := range serverCh.Recv() {
			if msg.Code != control.CodeTrainSend {
				continue
			}
			trainID := msg.Value
			buf := make([]byte, 64)
			for i := 0; i < maxLength; i++ {
				binary.BigEndian.PutUint32(buf[0:4], trainID)
				binary.BigEndian.PutUint32(buf[4:8], uint32(i))
				_, _ = udpServer.WriteToUDP(buf, udpClient.LocalAddr().(*net.UDPAddr))
				time.Sleep(time.Millisecond)
			}
			_ = serverCh.Send(control.Message{Code: control.CodeTrainSent})
		}
	}()

	receiver := NewReceiver(clientCh, udpClient, 2*time.Second, slog.Default())
	return NewSampler(receiver, 0, 64)
}

func TestRunDiscoveryRespectsTrainLengthMax(t *testing.T) {
	const trainLengthMax = 8
	const trainLengthMin = 4
	sampler := newAlwaysSucceedSampler(t, trainLengthMax)

	cfg := engineDiscoveryConfig{
		TrainLengthMin:         trainLengthMin,
		TrainLengthMax:         trainLengthMax,
		FailOverload:           4,
		FailBackoff:            1,
		MaxLengthFailThreshold: 3,
		SampleCap:              1000,
	}

	result, err := RunDiscovery(context.Background(), sampler, 64, cfg)
	if err != nil {
		t.Fatalf("RunDiscovery: %v", err)
	}
	if result.TrainLengthMax > trainLengthMax {
		t.Fatalf("TrainLengthMax = %d, want <= %d", result.TrainLengthMax, trainLengthMax)
	}
	if wantAttempts := trainLengthMax - trainLengthMin + 1; result.Attempts != wantAttempts {
		t.Fatalf("Attempts = %d, want %d (discovery must stop once length exceeds the ceiling)", result.Attempts, wantAttempts)
	}
}
