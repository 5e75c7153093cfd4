package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/stockledger/pkg/config"
	"github.com/angelmondragon/stockledger/pkg/logger"
)

const metricsShutdownTimeout = 5 * time.Second

var errConsumerExited = errors.New("consumer exited before shutdown")

type runner interface {
	Run(ctx context.Context) error
}

// Dependency is a named readiness check run before consuming starts.
type Dependency struct {
	Name string
	Ping func(context.Context) error
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	Dependencies  []Dependency
	Consumer      runner
	Maintenance   runner
	MetricsServer *http.Server
	Closers       []io.Closer
}

type Service struct {
	cfg           *config.Config
	logg          *logger.Logger
	deps          []Dependency
	consumer      runner
	maintenance   runner
	metricsServer *http.Server
	closers       []io.Closer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("event consumer is required")
	}
	for _, dep := range params.Dependencies {
		if dep.Ping == nil {
			return nil, fmt.Errorf("%s ping is required", dep.Name)
		}
	}

	return &Service{
		cfg:           params.Config,
		logg:          params.Logger,
		deps:          params.Dependencies,
		consumer:      params.Consumer,
		maintenance:   params.Maintenance,
		metricsServer: params.MetricsServer,
		closers:       params.Closers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, dep.Name, dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or one of the worker loops fails. A failing
// loop cancels the others.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.consumer.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(gctx, "consumer stopped unexpectedly", err)
			return err
		}
		if gctx.Err() == nil {
			return errConsumerExited
		}
		return context.Canceled
	})
	if s.maintenance != nil {
		g.Go(func() error {
			return s.maintenance.Run(gctx)
		})
	}
	if s.metricsServer != nil {
		g.Go(func() error {
			return s.serveMetrics(gctx)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		s.logg.Info(ctx, "worker context canceled")
	}
	return err
}

func (s *Service) serveMetrics(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logg.Info(s.logg.WithField(ctx, "addr", s.metricsServer.Addr), "metrics server listening")
		errCh <- s.metricsServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logg.Warn(ctx, "metrics server shutdown failed")
		}
		return ctx.Err()
	}
}

// Close releases every closer in reverse registration order.
func (s *Service) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i].Close())
	}
	return err
}
