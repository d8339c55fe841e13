package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/dantte-lp/loco/internal/control"
	"github.com/dantte-lp/loco/internal/stats"
)

// ErrCalibrationExhausted is returned when RTT or UDP latency calibration
// fails to collect enough valid samples within the configured attempt
// ceiling.
var ErrCalibrationExhausted = errors.New("calibration exhausted without enough valid samples")

// rttSyncMagic is the constant the daemon subtracts count from when
// replying to an RTT_SYNC probe.
const rttSyncMagic = 0xffffff

// Calibrator runs RTT and kernel/user UDP latency calibration.
type Calibrator struct {
	ctrl   *control.Channel
	udp    *net.UDPConn
	logger *slog.Logger
}

// NewCalibrator builds a Calibrator over the session's sockets.
func NewCalibrator(ctrl *control.Channel, udp *net.UDPConn, logger *slog.Logger) *Calibrator {
	return &Calibrator{ctrl: ctrl, udp: udp, logger: logger.With(slog.String("component", "engine.calibrate"))}
}

// RunRTTSync executes the RTT_SYNC protocol: up to maxCount iterations,
// discarding the first (cold-path) reply, until validCount valid replies
// are observed. Returns the mean round trip of the valid samples.
func (c *Calibrator) RunRTTSync(maxCount, validCount int) (time.Duration, error) {
	var samples []time.Duration

	for count := 0; count < maxCount && len(samples) < validCount; count++ {
		sent := time.Now()
		if err := c.ctrl.Send(control.Message{Code: control.CodeRTTSync, Value: uint32(count)}); err != nil {
			return 0, fmt.Errorf("RTT_SYNC send: %w", err)
		}

		reply, err := c.awaitReply(5 * time.Second)
		if err != nil {
			return 0, fmt.Errorf("RTT_SYNC recv: %w", err)
		}

		valid := count > 0 && reply.Value == uint32(rttSyncMagic-count)
		if !valid {
			continue
		}

		samples = append(samples, time.Since(sent))
	}

	if len(samples) < validCount {
		return 0, fmt.Errorf("RTT_SYNC: got %d/%d valid samples: %w", len(samples), validCount, ErrCalibrationExhausted)
	}

	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples)), nil
}

func (c *Calibrator) awaitReply(timeout time.Duration) (control.Message, error) {
	select {
	case msg, ok := <-c.ctrl.Recv():
		if !ok {
			return control.Message{}, fmt.Errorf("control channel closed")
		}
		return msg, nil
	case err := <-c.ctrl.Err():
		return control.Message{}, err
	case <-time.After(timeout):
		return control.Message{}, fmt.Errorf("timed out waiting for reply")
	}
}

// RunUDPLatency measures kernel/user UDP round-trip latency by exchanging
// maxCount echo probes of packetLength bytes with the daemon, discarding
// the first iteration, until validCount full-length echoes are observed.
// Returns the halved median of per-exchange deltas (the packet dispersion
// floor used to validate samples) and the unhalved mean (the
// kernel/user latency average reported to the caller).
func (c *Calibrator) RunUDPLatency(daemonAddr *net.UDPAddr, packetLength, maxCount, validCount int) (deltaMin, mean float64, err error) {
	var deltas []float64
	buf := make([]byte, packetLength)
	reply := make([]byte, packetLength)

	for i := 0; i < maxCount && len(deltas) < validCount; i++ {
		binary.BigEndian.PutUint32(buf[0:4], uint32(i))
		sent := time.Now()

		if _, werr := c.udp.WriteToUDP(buf, daemonAddr); werr != nil {
			return 0, 0, fmt.Errorf("UDP latency probe send: %w", werr)
		}

		if derr := c.udp.SetReadDeadline(time.Now().Add(2 * time.Second)); derr != nil {
			return 0, 0, fmt.Errorf("set read deadline: %w", derr)
		}
		n, _, rerr := c.udp.ReadFromUDP(reply)
		if rerr != nil {
			continue
		}

		if i == 0 || n != packetLength {
			continue
		}

		deltas = append(deltas, float64(time.Since(sent).Microseconds()))
	}

	if len(deltas) < validCount {
		return 0, 0, fmt.Errorf("UDP latency: got %d/%d valid samples: %w", len(deltas), validCount, ErrCalibrationExhausted)
	}

	mean = stats.Mean(deltas)
	median := stats.Median(stats.Sort(deltas))
	return median * 0.5, mean, nil
}

// DeriveSpacing sets train_spacing_min/max from the measured RTT:
// spacing_min = max(existing, 1.25*rtt), spacing_max = 2*spacing_min.
func DeriveSpacing(existingMin time.Duration, rtt time.Duration) (min, max time.Duration) {
	candidate := time.Duration(float64(rtt) * 1.25)
	if candidate > existingMin {
		min = candidate
	} else {
		min = existingMin
	}
	max = 2 * min
	return min, max
}
