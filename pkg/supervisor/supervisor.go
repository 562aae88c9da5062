// Package supervisor owns the pipeline's lifecycle: starting the decoder,
// inference, and event-stage workers, health-checking them, and driving
// cooperative shutdown. It also owns a bounded pool of encoder workers
// that process finalized recordings.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentrywatch/sentrywatch/internal/config"
	"github.com/sentrywatch/sentrywatch/pkg/decoder"
	"github.com/sentrywatch/sentrywatch/pkg/encoder"
	"github.com/sentrywatch/sentrywatch/pkg/eventsm"
	"github.com/sentrywatch/sentrywatch/pkg/inference"
	"github.com/sentrywatch/sentrywatch/pkg/notifier"
	"github.com/sentrywatch/sentrywatch/pkg/reid"
	"github.com/sentrywatch/sentrywatch/pkg/sharedstate"
	"github.com/sentrywatch/sentrywatch/pkg/store"
)

// ErrWorkerDied is wrapped into the error the supervisor surfaces when a
// stage's Run method returns a non-nil error. A worker death signals global
// shutdown.
var ErrWorkerDied = errors.New("supervisor: worker died")

// stageName identifies a monitored worker for health reporting.
type stageName string

const (
	stageDecoder   stageName = "decoder"
	stageInference stageName = "inference"
	stageEventSM   stageName = "eventsm"
)

// EncoderFactory builds a VideoEncoder for one finalized recording,
// writing to path.
type EncoderFactory func(path string, rec eventsm.Recording) (encoder.VideoEncoder, error)

// Supervisor wires the decoder, inference stage, and event state machine
// into one running pipeline, plus a bounded pool of encoder workers that
// process finalized recordings (encode, Re-ID reconcile, persist, notify).
type Supervisor struct {
	cfg      *config.Config
	behavior *config.Behavior
	log      zerolog.Logger

	decoder   *decoder.Decoder
	inference *inference.Stage
	eventSM   *eventsm.SM
	state     *sharedstate.State

	gallery    *reid.Gallery
	store      *store.Store
	notify     notifier.Notifier
	newEncoder EncoderFactory

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	encoderSem chan struct{}
	encoderWG  sync.WaitGroup

	mu       sync.Mutex
	alive    map[stageName]bool
	lastBeat map[stageName]time.Time
}

// Config bundles everything Supervisor needs to construct its stages.
type Config struct {
	Cfg        *config.Config
	Behavior   *config.Behavior
	Source     decoder.Source
	Preview    decoder.Preview
	Detector   inference.Detector
	ReID       inference.ReIDExtractor
	NewTracker inference.TrackerFactory
	Store      *store.Store
	Notifier   notifier.Notifier
	NewEncoder EncoderFactory
	Log        zerolog.Logger
}

// New wires up the full pipeline. Tracker construction failure is fatal.
func New(c Config) (*Supervisor, error) {
	state := &sharedstate.State{}

	eventQueueCapacity := int(c.Cfg.Timing.TargetFPS * (c.Cfg.Timing.PreEventSeconds + c.Cfg.Timing.PostEventSeconds) * 2)
	if eventQueueCapacity < 1 {
		eventQueueCapacity = 1
	}
	dec := decoder.New(c.Source, eventQueueCapacity, c.Log)
	if c.Preview != nil {
		dec.SetPreview(c.Preview)
	}

	infStage, err := inference.New(inference.Config{
		Detector:       c.Detector,
		ReIDExtractor:  c.ReID,
		NewTracker:     c.NewTracker,
		State:          state,
		AnalysisWidth:  c.Cfg.Resolution.AnalysisWidth,
		AnalysisHeight: c.Cfg.Resolution.AnalysisHeight,
		ROI:            c.Behavior.ROI,
		ROIEnabled:     c.Behavior.ROIEnabled,
		Log:            c.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: constructing inference stage: %w", err)
	}

	s := &Supervisor{
		cfg:        c.Cfg,
		behavior:   c.Behavior,
		log:        c.Log.With().Str("component", "supervisor").Logger(),
		decoder:    dec,
		inference:  infStage,
		state:      state,
		gallery:    reid.NewGallery(c.Store, c.Cfg.ReID.PersonMatchThreshold),
		store:      c.Store,
		notify:     c.Notifier,
		newEncoder: c.NewEncoder,
		encoderSem: make(chan struct{}, c.Cfg.Supervisor.EncoderPoolSize),
		alive:      map[stageName]bool{},
		lastBeat:   map[stageName]time.Time{},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eventSM = eventsm.New(eventsm.Config{
		Behavior:         c.Behavior,
		PreEventSeconds:  c.Cfg.Timing.PreEventSeconds,
		PostEventSeconds: c.Cfg.Timing.PostEventSeconds,
		CooldownPeriod:   c.Cfg.Timing.CooldownPeriod,
		MaxEventDuration: c.Cfg.Timing.MaxEventDuration,
		TargetFPS:        c.Cfg.Timing.TargetFPS,
		Handoff:          s.handoff,
		Log:              c.Log,
	})

	return s, nil
}

// Run starts every stage and blocks until Stop is called or a worker dies.
// It returns the first worker error observed, or nil on a clean stop.
func (s *Supervisor) Run() error {
	defer s.cancel()
	errs := make(chan error, 3)
	stop := make(chan struct{})
	go func() {
		<-s.ctx.Done()
		close(stop)
	}()

	s.wg.Add(3)
	go s.runStage(stageDecoder, errs, func() error {
		defer s.wg.Done()
		return s.decoder.Run(stop)
	})
	go s.runStage(stageInference, errs, func() error {
		defer s.wg.Done()
		return s.inference.Run(s.decoder.Inference, stop)
	})
	go s.runStage(stageEventSM, errs, func() error {
		defer s.wg.Done()
		return s.eventSM.Run(s.decoder.Event, s.state, stop)
	})

	go s.healthLoop()

	var first error
	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
			s.log.Error().Err(err).Msg("supervisor: worker died, initiating shutdown")
			s.cancel()
		}
	}

	joinDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(joinDone)
	}()
	select {
	case <-joinDone:
	case <-time.After(time.Duration(s.cfg.Supervisor.ThreadJoinTimeout * float64(time.Second))):
		s.log.Warn().Msg("supervisor: join timeout exceeded, stages still draining")
		<-joinDone
	}

	// Outstanding encoder jobs complete asynchronously but must finish
	// before final exit.
	s.encoderWG.Wait()

	if err := s.decoder.Close(); err != nil {
		s.log.Error().Err(err).Msg("supervisor: closing decoder source")
	}

	return first
}

// Stop requests cooperative shutdown.
func (s *Supervisor) Stop() {
	s.cancel()
}

func (s *Supervisor) runStage(name stageName, errs chan<- error, fn func() error) {
	s.setAlive(name, true)
	err := fn()
	s.setAlive(name, false)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrWorkerDied, name, err)
	}
	errs <- err
}

func (s *Supervisor) setAlive(name stageName, alive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[name] = alive
	s.lastBeat[name] = time.Now()
}

// healthLoop polls worker liveness at health_check_interval (default 15s)
// until the context is cancelled.
func (s *Supervisor) healthLoop() {
	interval := time.Duration(s.cfg.Supervisor.HealthCheckInterval * float64(time.Second))
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			snapshot := make(map[stageName]bool, len(s.alive))
			ages := make(map[stageName]float64, len(s.lastBeat))
			for k, v := range s.alive {
				snapshot[k] = v
				ages[k] = time.Since(s.lastBeat[k]).Seconds()
			}
			s.mu.Unlock()
			s.log.Debug().
				Interface("workers_alive", snapshot).
				Interface("beat_age_seconds", ages).
				Msg("supervisor: health check")
		}
	}
}

// handoff is the eventsm.Handoff passed to the event state machine: it
// submits the finalized recording to the bounded encoder worker pool,
// blocking the caller (the event-state-machine goroutine) when the pool
// is full.
func (s *Supervisor) handoff(rec eventsm.Recording) error {
	s.encoderSem <- struct{}{}
	s.encoderWG.Add(1)
	go func() {
		defer func() {
			<-s.encoderSem
			s.encoderWG.Done()
		}()
		s.processEvent(rec)
	}()
	return nil
}

// processEvent runs the full encode -> Re-ID -> persist -> notify sequence
// for one finalized recording. jobID correlates this event's log lines
// across the encode/reconcile/persist/notify chain, since several encoder
// jobs may be in flight concurrently in the bounded pool.
func (s *Supervisor) processEvent(rec eventsm.Recording) {
	defer closeRecording(rec)

	jobID := uuid.New().String()
	log := s.log.With().Str("job_id", jobID).Str("event_type", rec.Type.String()).Logger()

	now := time.Now()
	path, err := encoder.GenerateFilename(s.cfg.Encoding.OutputDirectory, rec.Type.String(), now)
	if err != nil {
		log.Error().Err(err).Msg("processEvent: generating output filename")
		return
	}

	enc, err := s.newEncoder(path, rec)
	if err != nil {
		log.Error().Err(err).Msg("processEvent: constructing encoder")
		return
	}

	finalPath, err := encoder.WriteRecording(enc, rec, s.cfg.Timing.TargetFPS, s.cfg.Encoding.FPSMode)
	if err != nil {
		// Partial output discarded: no Event row, no notification, Re-ID
		// not attempted.
		log.Error().Err(err).Msg("processEvent: encoder write failed, event dropped")
		return
	}

	personID, err := s.gallery.Reconcile(rec.StartTime, rec.Features, s.cfg.ReID.IntraClusterThreshold)
	if err != nil {
		// Gallery transaction rolled back, but the Event row is still
		// persisted with a null person id, and the notification still
		// goes out.
		log.Error().Err(err).Msg("processEvent: gallery reconciliation failed, continuing with no person id")
		personID = 0
	}

	if _, err := s.store.InsertEvent(rec.StartTime, rec.Type.String(), finalPath, personID); err != nil {
		log.Error().Err(err).Msg("processEvent: persisting event row")
		return
	}

	if err := s.notify.Notify(fmt.Sprintf("%s event captured", rec.Type), finalPath); err != nil {
		// Logged, never retried.
		log.Error().Err(err).Msg("processEvent: notification failed")
	}
}

func closeRecording(rec eventsm.Recording) {
	for _, rf := range rec.Frames {
		_ = rf.Close()
	}
}
