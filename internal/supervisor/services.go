package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context) error

// JobConfig holds the cadence of a periodic job.
type JobConfig struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run; 0 means no bound beyond the service's.
	Timeout    time.Duration
	RunOnStart bool
}

// JobService runs a JobFunc on a ticker. A failed run is logged and retried
// at the next tick; it does not restart the service.
type JobService struct {
	run    JobFunc
	cfg    JobConfig
	logger zerolog.Logger
}

// NewJobService creates a periodic job service.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewJobService(run JobFunc, cfg JobConfig, logger zerolog.Logger) *JobService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &JobService{
		run:    run,
		cfg:    cfg,
		logger: logger.With().Str("service", cfg.Name).Logger(),
	}
}

// Serve implements suture.Service.
func (s *JobService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("timeout", s.cfg.Timeout).
		Bool("run_on_start", s.cfg.RunOnStart).
		Msg("job service starting")

	if s.cfg.RunOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("job service shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *JobService) runOnce(ctx context.Context) {
	runCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.run(runCtx); err != nil {
		s.logger.Warn().Err(err).Dur("took", time.Since(start)).Msg("scheduled run failed")
		return
	}
	s.logger.Debug().Dur("took", time.Since(start)).Msg("scheduled run complete")
}

// String returns the service name for logging.
func (s *JobService) String() string {
	return s.cfg.Name
}

// FastHTTPServer is the part of *fasthttp.Server the service drives.
type FastHTTPServer interface {
	ListenAndServe(addr string) error
	ShutdownWithContext(ctx context.Context) error
}

var _ FastHTTPServer = (*fasthttp.Server)(nil)

// HTTPService runs a fasthttp server under supervision.
type HTTPService struct {
	server          FastHTTPServer
	addr            string
	shutdownTimeout time.Duration
}

// NewHTTPService wraps server listening on addr.
func NewHTTPService(server FastHTTPServer, addr string, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, addr: addr, shutdownTimeout: shutdownTimeout}
}

// errServerStopped is returned when the listener exits without a shutdown.
var errServerStopped = errors.New("http server stopped")

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.server.ListenAndServe(h.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return errServerStopped

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for logging.
func (h *HTTPService) String() string {
	return "http-server"
}
