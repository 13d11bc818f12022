// Package workers contains background goroutines that run alongside the
// API server.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/artpar/promoter/internal/shell/deploy"
)

// GatewayProberConfig configures the deployer health prober.
type GatewayProberConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultGatewayProberConfig returns default configuration.
func DefaultGatewayProberConfig() GatewayProberConfig {
	return GatewayProberConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// GatewayProber periodically pings the deployment gateway so that the
// readiness endpoint and logs reflect deployer availability before a
// promotion actually needs it.
type GatewayProber struct {
	gateway deploy.Gateway
	config  GatewayProberConfig
	logger  *slog.Logger
	healthy atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGatewayProber creates a new deployer health prober.
func NewGatewayProber(gateway deploy.Gateway, config GatewayProberConfig, logger *slog.Logger) *GatewayProber {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &GatewayProber{
		gateway: gateway,
		config:  config,
		logger:  logger.With("component", "gateway_prober"),
	}
	// Assume healthy until the first probe says otherwise.
	p.healthy.Store(true)
	return p
}

// Healthy reports the result of the most recent probe.
func (p *GatewayProber) Healthy() bool {
	return p.healthy.Load()
}

// Start begins the prober background goroutine.
func (p *GatewayProber) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.run()
	p.logger.Info("gateway prober started", "interval", p.config.Interval)
}

// Stop gracefully stops the prober.
func (p *GatewayProber) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("gateway prober stopped")
}

func (p *GatewayProber) run() {
	defer p.wg.Done()

	p.probe()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.probe()
		}
	}
}

func (p *GatewayProber) probe() {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.Timeout)
	defer cancel()

	err := p.gateway.Ping(ctx)
	was := p.healthy.Swap(err == nil)

	switch {
	case err != nil && was:
		p.logger.Warn("deployer became unreachable", "error", err)
	case err == nil && !was:
		p.logger.Info("deployer recovered")
	}
}
