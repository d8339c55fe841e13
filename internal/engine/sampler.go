package engine

import (
	"context"
	"fmt"
	"time"
)

// Sampler owns the monotonic train_id counter and turns raw receiver
// outcomes into Sample values, applying the dispersion-delta floor from
// calibration ("every recorded sample satisfies delta >
// packet_dispersion_delta_min").
type Sampler struct {
	receiver  *Receiver
	nextID    uint32
	deltaMin  float64 // microseconds
	packetMax int     // bytes; numerator normalization constant
}

// NewSampler builds a Sampler. deltaMin comes from calibration; packetMax
// is the session's maximum train packet length.
func NewSampler(receiver *Receiver, deltaMin float64, packetMax int) *Sampler {
	return &Sampler{receiver: receiver, deltaMin: deltaMin, packetMax: packetMax, nextID: 1}
}

// attemptOutcome is the richer internal classification a caller phase
// needs: a usable sample, a below-threshold discard, or a failure that
// should drive length backoff.
type attemptOutcome struct {
	Sample    Sample
	HasSample bool
	Outcome   ReceiveOutcome
}

// attempt runs one train at the given length/packet length and classifies
// its result. It always advances train_id ("advance
// train_id and train_length" on every outcome).
func (s *Sampler) attempt(ctx context.Context, length, packetLength int) (attemptOutcome, error) {
	td := TrainDescriptor{TrainID: s.nextID, Length: length, PacketLength: packetLength}
	s.nextID++

	result, err := s.receiver.ReceiveTrain(ctx, td)
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("sampler attempt train_id=%d: %w", td.TrainID, err)
	}

	if result.Outcome != ReceiveOK {
		return attemptOutcome{Outcome: result.Outcome}, nil
	}

	delta := deltaMicros(result.Timestamps)
	if delta <= s.deltaMin {
		return attemptOutcome{Outcome: ReceiveOK}, nil
	}

	bandwidth := float64(s.packetMax) * 8 * float64(td.Length) / delta
	return attemptOutcome{
		Sample:    Sample{BandwidthMbps: bandwidth, DeltaMicros: delta},
		HasSample: true,
		Outcome:   ReceiveOK,
	}, nil
}

// deltaMicros returns the dispersion (last timestamp minus first) in
// microseconds.
func deltaMicros(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	first, last := timestamps[0], timestamps[len(timestamps)-1]
	return float64(last.Sub(first).Microseconds())
}
