// Package engine implements the measurement session: the state machine
// that drives calibration, train-length discovery, the two sampling
// phases, modal analysis, and the final capacity decision.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/loco/internal/control"
	"github.com/dantte-lp/loco/internal/csvstore"
	"github.com/dantte-lp/loco/internal/metrics"
	"github.com/dantte-lp/loco/internal/netio"
	"github.com/dantte-lp/loco/internal/stats"
)

// Session owns the sockets and drives the FSM for one measurement run.
// State and the live estimate are stored in atomics so a progress query
// (SIGUSR1) can read them from another goroutine without locking,
// using lock-free atomics for session state visible to a concurrent
// progress-query signal handler.
type Session struct {
	cfg    Config
	logger *slog.Logger

	state      atomic.Uint32
	estimated  atomic.Uint64 // math.Float64bits
	progressPC atomic.Uint32 // percent complete, coarse-grained

	sockets *netio.Sockets
	ctrl    *control.Channel

	metrics *metrics.Collector
}

// NewSession builds a Session from its configuration.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	s := &Session{cfg: cfg, logger: logger.With(slog.String("component", "engine.session"))}
	s.setState(StateInit)
	return s
}

// SetMetrics attaches a Collector that per-phase durations, discards, and
// accepted-sample counts are reported to as the session runs. Optional:
// a Session with no Collector attached simply skips every metrics call.
func (s *Session) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

func (s *Session) observePhase(phase string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObservePhaseDuration(phase, time.Since(started))
	}
}

// reportSamples reports the accepted/discarded counts a phase contributed
// to set. Phases after discovery share the discovery SampleSet (prelim and
// phase 1 both keep appending into it), so callers pass the set's
// accepted/discarded counts from immediately before the phase ran, and
// this reports only the delta attributable to that phase.
func (s *Session) reportSamples(phase string, set *SampleSet, acceptedBefore, discardedBefore int) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSamplesAccepted(phase, len(set.Samples)-acceptedBefore)
	s.metrics.IncDiscards(phase, set.DiscardedCount-discardedBefore)
}

func (s *Session) setState(st State) {
	s.state.Store(uint32(st))
}

// advance runs the FSM table forward from the current state and stores
// the result, so every transition in the real run path goes through the
// same Apply function fsm_test.go exercises directly.
func (s *Session) advance(event Event) State {
	next := Apply(State(s.state.Load()), event)
	s.setState(next)
	return next
}

func (s *Session) setEstimated(v float64) {
	s.estimated.Store(math.Float64bits(v))
}

func (s *Session) setProgress(pct int) {
	s.progressPC.Store(uint32(pct))
}

// Progress returns the current (percent, state, estimated) triple for the
// asynchronous progress-query signal handler; it never blocks
// and never performs I/O itself.
func (s *Session) Progress() (percent int, state State, estimated float64) {
	return int(s.progressPC.Load()), State(s.state.Load()), math.Float64frombits(s.estimated.Load())
}

// Run drives the full session to completion and returns the final
// Result. In offline mode (cfg.Network == false) it replays a CSV sample
// set instead of touching the network.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if !s.cfg.Network {
		return s.runOffline()
	}
	return s.runOnline(ctx)
}

func (s *Session) runOnline(ctx context.Context) (Result, error) {
	s.setState(StateInit)

	sockets, err := netio.Dial(ctx, netio.DialOptions{
		Host:        s.cfg.Host,
		ControlPort: s.cfg.ControlPort,
		BindDevice:  s.cfg.BindDevice,
		BindAddr:    s.cfg.BindAddr,
		TTL:         s.cfg.Constants.TrainTTL,
	})
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("session init: %w", err)
	}
	s.sockets = sockets
	s.ctrl = control.NewChannelFromConn(sockets.Control)
	defer s.closeSession()

	if err := s.ctrl.Send(control.Message{Code: control.CodeSessionInit}); err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("SESSION_INIT: %w", err)
	}
	if err := s.ctrl.Send(control.Message{Code: control.CodeClientUDPPortSet, Value: uint32(sockets.LocalUDPPort())}); err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("CLIENT_UDP_PORT_SET: %w", err)
	}

	s.advance(EventPhaseComplete) // StateInit -> StateRTTSync
	s.setProgress(5)
	constants := s.cfg.Constants

	calibrator := NewCalibrator(s.ctrl, sockets.Measurement, s.logger)
	rttStarted := time.Now()
	rtt, err := calibrator.RunRTTSync(constants.RTTCountMax, constants.RTTValidCount)
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("RTT calibration: %w", err)
	}
	s.observePhase(metrics.PhaseRTTSync, rttStarted)

	spacingMin, spacingMax := DeriveSpacing(0, rtt)
	if err := s.ctrl.Send(control.Message{Code: control.CodeTrainSpacingMinSet, Value: uint32(spacingMin.Microseconds())}); err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("TRAIN_SPACING_MIN_SET: %w", err)
	}
	if err := s.ctrl.Send(control.Message{Code: control.CodeTrainSpacingMaxSet, Value: uint32(spacingMax.Microseconds())}); err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("TRAIN_SPACING_MAX_SET: %w", err)
	}

	daemonUDPAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.ControlPort))
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("resolve daemon UDP address: %w", err)
	}

	latencyStarted := time.Now()
	deltaMin, latencyMean, err := calibrator.RunUDPLatency(daemonUDPAddr, constants.TrainPacketLengthMax, constants.LatencyCountMax, constants.LatencyValidCount)
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("UDP latency calibration: %w", err)
	}
	s.observePhase(metrics.PhaseLatency, latencyStarted)

	receiver := NewReceiver(s.ctrl, sockets.Measurement, constants.TrainReceiveTimeout, s.logger)
	sampler := NewSampler(receiver, deltaMin, constants.TrainPacketLengthMax)

	s.setProgress(15)
	discoverStarted := time.Now()
	discovery, err := RunDiscovery(ctx, sampler, constants.TrainPacketLengthMax, engineDiscoveryConfig{
		TrainLengthMin:         constants.TrainLengthMin,
		TrainLengthMax:         constants.TrainLengthMax,
		FailOverload:           constants.DiscoveryFailOverload,
		FailBackoff:            constants.DiscoveryFailBackoff,
		MaxLengthFailThreshold: constants.DiscoveryMaxLengthFailThreshold,
		SampleCap:              constants.SampleCap,
	})
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("train-length discovery: %w", err)
	}
	s.observePhase(metrics.PhaseDiscover, discoverStarted)
	s.reportSamples(metrics.PhaseDiscover, discovery.Samples, 0, 0)

	// Discovery's early exits are modeled as PRELIM deciding QUICK before
	// any sample is even drawn: RTT_SYNC -> PRELIM -> CALC.
	s.advance(EventPhaseComplete) // StateRTTSync -> StatePrelim
	if discovery.Indeterminate {
		s.advance(EventPhaseQuickExit) // StatePrelim -> StateCalc
		result := Result{Estimated: -1.0, BinWidth: -1.0, Assessment: AssessmentUnknown}
		s.setEstimated(result.Estimated)
		return result, nil
	}
	if discovery.GigabitInferred {
		s.advance(EventPhaseQuickExit) // StatePrelim -> StateCalc
		result := Result{Estimated: 1000.0, BinWidth: 0.0, Assessment: AssessmentQuick}
		s.setEstimated(result.Estimated)
		return result, nil
	}

	s.setProgress(30)
	prelimStarted := time.Now()
	prelimAcceptedBefore, prelimDiscardedBefore := len(discovery.Samples.Samples), discovery.Samples.DiscardedCount
	prelim, err := RunPrelim(ctx, sampler, constants.TrainLengthMin, discovery.TrainLengthMax, constants.TrainPacketLengthMax,
		constants.PrelimValidCount, constants.PrelimCountMax, constants.BWCovarThreshold, s.cfg.Quick, discovery.Samples)
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("preliminary sampling: %w", err)
	}
	s.observePhase(metrics.PhasePrelim, prelimStarted)
	s.reportSamples(metrics.PhasePrelim, prelim.Samples, prelimAcceptedBefore, prelimDiscardedBefore)

	if prelim.Quick {
		s.advance(EventPhaseQuickExit) // StatePrelim -> StateCalc
		result := Result{
			Estimated:  prelim.Mean,
			Lo:         prelim.Mean - prelim.Std,
			Hi:         prelim.Mean + prelim.Std,
			Assessment: AssessmentQuick,
			BinWidth:   prelim.BinWidth,
			PrelimMean: prelim.Mean,
			PrelimStd:  prelim.Std,
		}
		s.setEstimated(result.Estimated)
		return result, nil
	}

	s.advance(EventPhaseComplete) // StatePrelim -> StateP1
	s.setProgress(50)
	// Phase 1 keeps appending into the same sample set discovery and prelim
	// already populated, so modal analysis below runs over every sample
	// the session has collected so far, not just this phase's own.
	p1Samples := discovery.Samples
	p1AcceptedBefore, p1DiscardedBefore := len(p1Samples.Samples), p1Samples.DiscardedCount
	p1Started := time.Now()
	abandoned, err := RunPhase1(ctx, sampler, constants.TrainLengthMin, discovery.TrainLengthMax,
		constants.TrainPacketLengthMin, constants.TrainPacketLengthMax, constants.TrainPacketLengthSizes,
		constants.P1TrainDiscardCountMax, p1Samples)
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("phase 1 sampling: %w", err)
	}
	s.observePhase(metrics.PhaseP1, p1Started)
	s.reportSamples(metrics.PhaseP1, p1Samples, p1AcceptedBefore, p1DiscardedBefore)
	phase1Completed := !abandoned
	if abandoned {
		s.advance(EventPhaseQuickExit) // StateP1 -> StateP1Calc
	} else {
		s.advance(EventPhaseComplete) // StateP1 -> StateP1Calc
	}
	p1Modes, p1Total := ExtractModes(p1Samples.Samples, prelim.BinWidth, constants.BinCountTolerance, constants.BinCountNoiseThreshold)

	s.advance(EventPhaseComplete) // StateP1Calc -> StateP2
	s.setProgress(75)
	p2Samples := NewSampleSet(constants.SampleCap)
	p2Started := time.Now()
	if err := RunPhase2(ctx, sampler, discovery.TrainLengthMax, constants.TrainPacketLengthMax,
		constants.Phase2TargetSamples, p2Samples); err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("phase 2 sampling: %w", err)
	}
	s.observePhase(metrics.PhaseP2, p2Started)
	s.reportSamples(metrics.PhaseP2, p2Samples, 0, 0)

	s.advance(EventPhaseComplete) // StateP2 -> StateP2Calc
	p2Modes, p2Total := ExtractModes(p2Samples.Samples, prelim.BinWidth, constants.BinCountTolerance, constants.BinCountNoiseThreshold)

	s.advance(EventPhaseComplete) // StateP2Calc -> StateCalc
	s.setProgress(95)
	result := Decide(DecisionInput{
		P1Modes:          p1Modes,
		P1Total:          p1Total,
		P2Modes:          p2Modes,
		P2Total:          p2Total,
		P2Samples:        p2Samples.Samples,
		PrelimMean:       prelim.Mean,
		BinWidth:         prelim.BinWidth,
		BWCovarThreshold: constants.BWCovarThreshold,
		ADRThreshold:     constants.ADRThreshold,
		Phase1Completed:  phase1Completed,
	})
	result.PrelimMean = prelim.Mean
	result.PrelimStd = prelim.Std
	result.TrainLengthMax = discovery.TrainLengthMax
	result.TrainPacketLengthMax = constants.TrainPacketLengthMax
	result.PacketDispersionDeltaMin = deltaMin
	result.TrainSpacingMin = spacingMin
	result.TrainSpacingMax = spacingMax
	result.RTT = rtt
	result.UDPLatencyMean = latencyMean

	s.setEstimated(result.Estimated)

	if s.cfg.OfflineOutputPath != "" {
		if err := csvstore.Write(s.cfg.OfflineOutputPath, toCSVStore(p1Samples, p2Samples)); err != nil {
			s.logger.Warn("CSV persist failed", slog.Any("error", err))
		}
		meta := csvstore.Meta{Host: s.cfg.Host, Quick: s.cfg.Quick, GeneratedAt: time.Now().UTC()}
		if err := csvstore.WriteMeta(s.cfg.OfflineOutputPath, meta); err != nil {
			s.logger.Warn("CSV metadata persist failed", slog.Any("error", err))
		}
	}

	return result, nil
}

// runOffline implements CSV replay: read a previously persisted sample
// set and run it back through modal analysis and the decision procedure
// without touching any socket.
func (s *Session) runOffline() (Result, error) {
	// CSV replay skips straight to CALC: there is no socket, so none of
	// the live-measurement phases apply.
	s.setState(StateCalc)

	store, err := csvstore.Read(s.cfg.OfflineInputPath)
	if err != nil {
		s.advance(EventFatal)
		return Result{}, fmt.Errorf("offline replay: %w", err)
	}
	if meta, err := csvstore.ReadMeta(s.cfg.OfflineInputPath); err == nil {
		s.logger.Info("replaying persisted sample set",
			slog.String("host", meta.Host), slog.Bool("quick", meta.Quick), slog.Time("collected_at", meta.GeneratedAt))
	}

	binWidth := s.cfg.BinWidthOverride
	constants := s.cfg.Constants

	p1Samples := fromCSVSamples(store.Phase1)
	p2Samples := fromCSVSamples(store.Phase2)

	p1Bandwidths := make([]float64, len(p1Samples))
	for i, v := range p1Samples {
		p1Bandwidths[i] = v.BandwidthMbps
	}
	prelimMean := 0.0
	if len(p1Bandwidths) > 0 {
		prelimMean = stats.InterquartileMean(stats.Sort(p1Bandwidths))
	}

	p1Modes, p1Total := ExtractModes(p1Samples, binWidth, constants.BinCountTolerance, constants.BinCountNoiseThreshold)
	p2Modes, p2Total := ExtractModes(p2Samples, binWidth, constants.BinCountTolerance, constants.BinCountNoiseThreshold)

	result := Decide(DecisionInput{
		P1Modes:          p1Modes,
		P1Total:          p1Total,
		P2Modes:          p2Modes,
		P2Total:          p2Total,
		P2Samples:        p2Samples,
		PrelimMean:       prelimMean,
		BinWidth:         binWidth,
		BWCovarThreshold: constants.BWCovarThreshold,
		ADRThreshold:     constants.ADRThreshold,
		Phase1Completed:  len(p1Samples) > 0,
	})
	result.BinWidth = binWidth

	s.setEstimated(result.Estimated)
	s.advance(EventPhaseComplete) // StateCalc -> StateClose
	s.advance(EventPhaseComplete) // StateClose -> StateEnd
	return result, nil
}

func toCSVStore(p1, p2 *SampleSet) csvstore.Store {
	return csvstore.Store{
		Phase1: toCSVSamples(p1.Samples),
		Phase2: toCSVSamples(p2.Samples),
	}
}

func toCSVSamples(samples []Sample) []csvstore.Sample {
	out := make([]csvstore.Sample, len(samples))
	for i, s := range samples {
		out[i] = csvstore.Sample{BandwidthMbps: s.BandwidthMbps, DeltaMicros: s.DeltaMicros}
	}
	return out
}

func fromCSVSamples(samples []csvstore.Sample) []Sample {
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = Sample{BandwidthMbps: s.BandwidthMbps, DeltaMicros: s.DeltaMicros}
	}
	return out
}

func (s *Session) closeSession() {
	if State(s.state.Load()) != StateClose {
		s.advance(EventPhaseComplete) // StateCalc -> StateClose
	}
	if s.ctrl != nil {
		_ = s.ctrl.Send(control.Message{Code: control.CodeSessionEnd})
	}
	if s.sockets != nil {
		_ = s.sockets.Close()
	}
	s.advance(EventPhaseComplete) // StateClose -> StateEnd
}
