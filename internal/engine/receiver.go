package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/loco/internal/control"
)

// ReceiveOutcome classifies how one train attempt ended.
type ReceiveOutcome int

// Outcomes.
const (
	ReceiveOK ReceiveOutcome = iota
	ReceiveIncomplete
	ReceiveStale
)

// Sentinel errors for fatal receive conditions (select/control errors
// other than plain interruption).
var ErrReceiveFatal = errors.New("train receive: fatal I/O error")

// TrainResult is the outcome of one receive_train attempt.
type TrainResult struct {
	Outcome    ReceiveOutcome
	Timestamps []time.Time // len == td.Length when Outcome == ReceiveOK
}

// Receiver implements the dual-socket train reception loop:
// it correlates UDP packet arrivals against the TCP TRAIN_SENT signal,
// draining both sockets before each attempt and bounding the wait with a
// single idle timeout that resets on every readiness event.
type Receiver struct {
	ctrl    *control.Channel
	udp     *net.UDPConn
	timeout time.Duration
	logger  *slog.Logger
}

// NewReceiver builds a Receiver over an already-connected control channel
// and measurement socket.
func NewReceiver(ctrl *control.Channel, udp *net.UDPConn, timeout time.Duration, logger *slog.Logger) *Receiver {
	return &Receiver{
		ctrl:    ctrl,
		udp:     udp,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "engine.receiver")),
	}
}

type udpFrame struct {
	trainID  uint32
	packetID uint32
	err      error
}

// ReceiveTrain runs one full attempt for the given train descriptor.
func (r *Receiver) ReceiveTrain(ctx context.Context, td TrainDescriptor) (TrainResult, error) {
	r.drain()

	if err := r.ctrl.Send(control.Message{Code: control.CodeTrainSend, Value: td.TrainID}); err != nil {
		return TrainResult{}, fmt.Errorf("%w: send TRAIN_SEND: %v", ErrReceiveFatal, err)
	}

	timestamps := make([]time.Time, td.Length)
	expected := 0
	trainSent := false
	stale := false

	udpCh := make(chan udpFrame, 8)
	done := make(chan struct{})
	go r.udpReaderLoop(udpCh, done, td.PacketLength)
	defer close(done)

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

loop:
	for {
		select {
		case frame := <-udpCh:
			if frame.err != nil {
				return TrainResult{}, fmt.Errorf("%w: udp read: %v", ErrReceiveFatal, frame.err)
			}
			if frame.trainID != td.TrainID {
				stale = true
			} else if int(frame.packetID) == expected && expected < td.Length {
				timestamps[expected] = time.Now()
				expected++
			}
			resetTimer(timer, r.timeout)
			if trainSent && expected == td.Length {
				break loop
			}

		case msg, ok := <-r.ctrl.Recv():
			if !ok {
				return TrainResult{}, fmt.Errorf("%w: control channel closed", ErrReceiveFatal)
			}
			if msg.Code == control.CodeTrainSent {
				trainSent = true
			}
			resetTimer(timer, r.timeout)
			if trainSent && expected == td.Length {
				break loop
			}

		case err := <-r.ctrl.Err():
			return TrainResult{}, fmt.Errorf("%w: %v", ErrReceiveFatal, err)

		case <-timer.C:
			break loop

		case <-ctx.Done():
			return TrainResult{}, fmt.Errorf("train receive cancelled: %w", ctx.Err())
		}
	}

	if expected == td.Length {
		if err := r.ctrl.Send(control.Message{Code: control.CodeTrainReceiveAck, Value: 0}); err != nil {
			r.logger.Warn("send TRAIN_RECEIVE_ACK failed", slog.Any("error", err))
		}
		return TrainResult{Outcome: ReceiveOK, Timestamps: timestamps}, nil
	}

	if err := r.ctrl.Send(control.Message{Code: control.CodeTrainReceiveFail, Value: 0}); err != nil {
		r.logger.Warn("send TRAIN_RECEIVE_FAIL failed", slog.Any("error", err))
	}

	if stale {
		return TrainResult{Outcome: ReceiveStale}, nil
	}
	return TrainResult{Outcome: ReceiveIncomplete}, nil
}

// resetTimer drains then resets t, matching the conventional timer-reset
// idiom for avoiding a double-fire race on an already-expired timer.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// drain clears any backlog on both sockets with a zero-timeout readiness
// check before a fresh attempt begins: a stale TRAIN_SENT or ack queued by
// a prior timed-out attempt would otherwise be consumed by this one.
func (r *Receiver) drain() {
	buf := make([]byte, 2048)
	for {
		if err := r.udp.SetReadDeadline(time.Now()); err != nil {
			break
		}
		if _, _, err := r.udp.ReadFromUDP(buf); err != nil {
			break
		}
	}
	_ = r.udp.SetReadDeadline(time.Time{})

	for {
		select {
		case _, ok := <-r.ctrl.Recv():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// udpReaderLoop turns blocking UDP reads into a channel of decoded frame
// headers so the main attempt loop can select across UDP and control
// readiness uniformly.
func (r *Receiver) udpReaderLoop(out chan<- udpFrame, done <-chan struct{}, packetLength int) {
	buf := make([]byte, packetLength)
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := r.udp.SetReadDeadline(time.Now().Add(200 * time.Millisecond)); err != nil {
			return
		}
		n, _, err := r.udp.ReadFromUDP(buf)
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case out <- udpFrame{err: err}:
			case <-done:
			}
			return
		}
		if n < 8 {
			continue
		}

		frame := udpFrame{
			trainID:  binary.BigEndian.Uint32(buf[0:4]),
			packetID: binary.BigEndian.Uint32(buf[4:8]),
		}
		select {
		case out <- frame:
		case <-done:
			return
		}
	}
}
