// Package agent runs the fleet provisioning handshake on a device and serves
// its health and metrics while doing so.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/fleetprov/internal/provisioner"
	"github.com/autopeer-io/fleetprov/internal/server"
	"github.com/autopeer-io/fleetprov/pkg/log"
	"github.com/autopeer-io/fleetprov/pkg/mqtt"
)

// Agent is the device-side provisioning process.
type Agent struct {
	client      mqtt.Client
	store       provisioner.Store
	provisioner *provisioner.Provisioner
	metrics     *provisioner.Metrics
	server      *server.Server

	stayAlive      bool
	connectTimeout time.Duration

	// restored is set when credentials were found in the store at startup.
	restored atomic.Bool
}

func NewAgent(client mqtt.Client, store provisioner.Store, prov *provisioner.Provisioner, metrics *provisioner.Metrics, stayAlive bool) *Agent {
	return &Agent{
		client:         client,
		store:          store,
		provisioner:    prov,
		metrics:        metrics,
		stayAlive:      stayAlive,
		connectTimeout: 10 * time.Second,
	}
}

// Ready reports whether the device holds provisioned credentials.
func (a *Agent) Ready() (bool, string) {
	if a.restored.Load() {
		return true, ""
	}
	state := a.provisioner.State()
	return state == provisioner.StateProvisioned, state
}

// Run provisions the device unless credentials are already stored. It returns
// once provisioning ends, or when ctx is cancelled if the agent stays alive.
func (a *Agent) Run(ctx context.Context) error {
	creds, err := a.store.Load()
	switch {
	case err == nil:
		log.Info("Device already provisioned", "thingName", creds.ThingName, "certificateID", creds.CertificateID)
		a.metrics.Provisioned.Set(1)
		a.restored.Store(true)
		if !a.stayAlive {
			return nil
		}
	case errors.Is(err, provisioner.ErrNoCredentials):
		creds = nil
	default:
		return fmt.Errorf("failed to load stored credentials: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(ctx)
		})
	}

	if a.stayAlive {
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	if creds == nil {
		g.Go(func() error {
			if err := a.provision(ctx); err != nil {
				return err
			}
			if !a.stayAlive {
				cancel()
			}
			return nil
		})
	}

	log.Info("Agent started", "stayAlive", a.stayAlive)
	err = g.Wait()
	log.Info("Agent shutting down...")
	return err
}

func (a *Agent) provision(ctx context.Context) error {
	if err := a.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.client.Disconnect(disconnectCtx)
	}()

	connectCtx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()
	if err := a.client.AwaitConnection(connectCtx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	creds, err := a.provisioner.Provision(ctx)
	if err != nil {
		return fmt.Errorf("provisioning failed: %w", err)
	}

	log.Info("Device provisioned", "thingName", creds.ThingName, "certificateID", creds.CertificateID)
	return nil
}
