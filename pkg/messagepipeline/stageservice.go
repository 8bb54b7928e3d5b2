package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StageServiceConfig holds configuration for a StageService.
type StageServiceConfig struct {
	NumWorkers int
	// DestroyTimeout bounds the stage flush when the Stop context has
	// already expired.
	DestroyTimeout time.Duration
}

const defaultDestroyTimeout = 10 * time.Second

// StageService feeds messages from a consumer into a Stage. A message is
// Acked once the stage has handled it and Nacked if the stage returns an error.
// On Stop the stage is destroyed only after every worker has finished, so a
// batching stage drains everything it accepted.
type StageService struct {
	numWorkers     int
	destroyTimeout time.Duration
	consumer       MessageConsumer
	stage          Stage
	logger         zerolog.Logger
	wg             sync.WaitGroup
	stopOnce       sync.Once
	stopErr        error
}

// NewStageService creates a new StageService.
func NewStageService(
	cfg StageServiceConfig,
	consumer MessageConsumer,
	stage Stage,
	logger zerolog.Logger,
) (*StageService, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1 // Preserve delivery order unless told otherwise.
	}
	if cfg.DestroyTimeout <= 0 {
		cfg.DestroyTimeout = defaultDestroyTimeout
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if stage == nil {
		return nil, fmt.Errorf("stage cannot be nil")
	}

	return &StageService{
		numWorkers:     cfg.NumWorkers,
		destroyTimeout: cfg.DestroyTimeout,
		consumer:       consumer,
		stage:          stage,
		logger:         logger.With().Str("service", "StageService").Logger(),
	}, nil
}

// Start starts the consumer and then spawns the workers.
func (s *StageService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting stage service...")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting stage workers...")
	s.wg.Add(s.numWorkers)
	for i := 0; i < s.numWorkers; i++ {
		go s.worker(ctx, i)
	}

	s.logger.Info().Msg("Stage service started successfully.")
	return nil
}

// Stop shuts the service down in order: consumer, workers, then the stage.
// The stage is destroyed even when ctx expires while waiting for workers, so
// buffered messages are still flushed; the timeout is returned alongside any
// destroy error.
func (s *StageService) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *StageService) stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping stage service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()

	var waitErr error
	destroyCtx := ctx
	select {
	case <-workerDone:
		s.logger.Info().Msg("All stage workers completed gracefully.")
	case <-ctx.Done():
		waitErr = ctx.Err()
		s.logger.Error().Err(waitErr).Msg("Timeout waiting for stage workers to finish, destroying stage anyway.")
		var cancel context.CancelFunc
		destroyCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), s.destroyTimeout)
		defer cancel()
	}

	if err := s.stage.Destroy(destroyCtx); err != nil {
		s.logger.Error().Err(err).Msg("Stage failed to flush on shutdown.")
		return errors.Join(waitErr, fmt.Errorf("stage destroy: %w", err))
	}
	if waitErr != nil {
		return waitErr
	}

	s.logger.Info().Msg("Stage service stopped.")
	return nil
}

// worker is the main processing loop for each concurrent worker. Workers keep
// reading until the consumer closes its channel so nothing already delivered
// is left unprocessed.
func (s *StageService) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Stage worker started.")
	for msg := range s.consumer.Messages() {
		s.handle(ctx, msg, workerID)
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
}

func (s *StageService) handle(ctx context.Context, msg Message, workerID int) {
	if err := s.stage.Receive(ctx, msg.GatewayMessage); err != nil {
		s.logger.Error().Err(err).Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Stage failed to handle message, Nacking.")
		msg.nack()
		return
	}
	s.logger.Debug().Str("msg_id", msg.ID).Msg("Message handled, Acking.")
	msg.ack()
}
