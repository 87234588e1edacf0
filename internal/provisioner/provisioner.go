package provisioner

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	fsmutil "github.com/autopeer-io/fleetprov/internal/pkg/util/fsm"
	"github.com/autopeer-io/fleetprov/pkg/codec"
	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
	"github.com/autopeer-io/fleetprov/pkg/log"
	"github.com/autopeer-io/fleetprov/pkg/mqtt"
	"github.com/autopeer-io/fleetprov/pkg/mqtt/topic"
)

// Handshake states.
const (
	StateIdle        = "idle"
	StateRequesting  = "requesting_certificate"
	StateRegistering = "registering"
	StateProvisioned = "provisioned"
	StateFailed      = "failed"
)

// Handshake events.
const (
	EventRequestCertificate = "request_certificate"
	EventRegister           = "register"
	EventComplete           = "complete"
	EventFail               = "fail"
)

// Config holds the collaborators and settings of a Provisioner.
type Config struct {
	Client mqtt.Client
	Store  Store

	// Metrics may be nil.
	Metrics *Metrics

	TemplateName string
	Format       fleetprov.Format

	// CredentialOperation is CreateKeysAndCertificate or CreateCertificateFromCsr.
	CredentialOperation fleetprov.Operation

	// CSRFile is submitted instead of a generated CSR when set.
	CSRFile string

	Parameters map[string]string
	QoS        int
	Timeout    time.Duration

	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

type response struct {
	topic   fleetprov.Topic
	name    string
	payload []byte
}

// Provisioner drives the fleet provisioning handshake of one device:
// obtain a certificate, register the thing, store the credentials.
type Provisioner struct {
	client  mqtt.Client
	store   Store
	metrics *Metrics
	topics  *topic.Builder
	codec   codec.Codec

	templateName string
	credentialOp fleetprov.Operation
	csrFile      string
	parameters   map[string]string
	qos          int
	timeout      time.Duration
	clock        clock.PassiveClock

	fsm *fsm.FSM

	mu      sync.Mutex
	pending map[fleetprov.Operation]chan response
}

// New validates cfg and creates a Provisioner in the idle state.
func New(cfg Config) (*Provisioner, error) {
	if cfg.Client == nil || cfg.Store == nil {
		return nil, errors.New("mqtt client and credential store are required")
	}
	if cfg.CredentialOperation != fleetprov.OperationCreateKeysAndCertificate &&
		cfg.CredentialOperation != fleetprov.OperationCreateCertificateFromCsr {
		return nil, fmt.Errorf("%s cannot issue certificates", cfg.CredentialOperation)
	}
	if _, err := fleetprov.RegisterThingTopic(cfg.Format, fleetprov.APIPublish, cfg.TemplateName); err != nil {
		return nil, fmt.Errorf("invalid template name %q or format %s: %w", cfg.TemplateName, cfg.Format, err)
	}
	c, err := codec.For(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}

	p := &Provisioner{
		client:       cfg.Client,
		store:        cfg.Store,
		metrics:      cfg.Metrics,
		topics:       topic.NewBuilder(cfg.TemplateName, cfg.Format),
		codec:        c,
		templateName: cfg.TemplateName,
		credentialOp: cfg.CredentialOperation,
		csrFile:      cfg.CSRFile,
		parameters:   maps.Clone(cfg.Parameters),
		qos:          cfg.QoS,
		timeout:      cfg.Timeout,
		clock:        cfg.Clock,
		pending:      make(map[fleetprov.Operation]chan response),
	}
	p.fsm = p.newStateMachine()
	return p, nil
}

func (p *Provisioner) newStateMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventRequestCertificate, Src: []string{StateIdle, StateFailed}, Dst: StateRequesting},
		{Name: EventRegister, Src: []string{StateRequesting}, Dst: StateRegistering},
		{Name: EventComplete, Src: []string{StateRegistering}, Dst: StateProvisioned},
		{Name: EventFail, Src: []string{StateRequesting, StateRegistering}, Dst: StateFailed},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			log.Debug("Provisioning state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
		},
		fsmutil.BeforeEvent(EventRequestCertificate): func(_ context.Context, _ *fsm.Event) {
			p.metrics.Attempts.Inc()
		},
		fsmutil.EnterState(StateProvisioned): fsmutil.WrapEvent(func(_ context.Context, _ *fsm.Event) error {
			p.metrics.Provisioned.Set(1)
			return nil
		}),
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}

// State returns the current handshake state.
func (p *Provisioner) State() string {
	return p.fsm.Current()
}

// Provision runs the handshake. The MQTT client must be started and connected.
func (p *Provisioner) Provision(ctx context.Context) (creds *Credentials, err error) {
	// looplab/fsm leaves a transition pending when its context is done, so
	// transitions must outlive a cancelled handshake.
	fsmCtx := context.WithoutCancel(ctx)

	if err := p.fsm.Event(fsmCtx, EventRequestCertificate); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if fsmErr := p.fsm.Event(fsmCtx, EventFail); fsmErr != nil {
				log.Error(fsmErr, "Failed to record provisioning failure")
			}
		}
	}()

	filters, err := p.subscribe(ctx)
	defer p.unsubscribe(filters)
	if err != nil {
		return nil, err
	}

	creds, token, err := p.requestCertificate(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("Certificate issued", "certificateID", creds.CertificateID)

	if err := p.fsm.Event(fsmCtx, EventRegister); err != nil {
		return nil, err
	}

	var resp RegisterThingResponse
	req := RegisterThingRequest{CertificateOwnershipToken: token, Parameters: p.parameters}
	if err := p.exchange(ctx, fleetprov.OperationRegisterThing, req, &resp); err != nil {
		return nil, err
	}
	log.Info("Thing registered", "thingName", resp.ThingName)

	creds.ThingName = resp.ThingName
	creds.TemplateName = p.templateName
	creds.DeviceConfiguration = resp.DeviceConfiguration
	creds.ProvisionedAt = p.clock.Now().UTC()

	if err := p.store.Save(creds); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	if err := p.fsm.Event(fsmCtx, EventComplete); err != nil {
		return nil, err
	}
	return creds, nil
}

// requestCertificate obtains a certificate with the configured operation and
// returns it with its ownership token.
func (p *Provisioner) requestCertificate(ctx context.Context) (*Credentials, string, error) {
	switch p.credentialOp {
	case fleetprov.OperationCreateKeysAndCertificate:
		var resp CreateKeysAndCertificateResponse
		if err := p.exchange(ctx, p.credentialOp, CreateKeysAndCertificateRequest{}, &resp); err != nil {
			return nil, "", err
		}
		return &Credentials{
			CertificateID:  resp.CertificateID,
			CertificatePEM: resp.CertificatePem,
			PrivateKeyPEM:  resp.PrivateKey,
		}, resp.CertificateOwnershipToken, nil

	case fleetprov.OperationCreateCertificateFromCsr:
		keys, err := p.keyPair()
		if err != nil {
			return nil, "", err
		}
		var resp CreateCertificateFromCsrResponse
		req := CreateCertificateFromCsrRequest{CertificateSigningRequest: keys.CSRPEM}
		if err := p.exchange(ctx, p.credentialOp, req, &resp); err != nil {
			return nil, "", err
		}
		return &Credentials{
			CertificateID:  resp.CertificateID,
			CertificatePEM: resp.CertificatePem,
			PrivateKeyPEM:  keys.PrivateKeyPEM,
		}, resp.CertificateOwnershipToken, nil

	default:
		return nil, "", fmt.Errorf("%s cannot issue certificates", p.credentialOp)
	}
}

func (p *Provisioner) keyPair() (*KeyPair, error) {
	if p.csrFile != "" {
		return LoadCSR(p.csrFile)
	}
	return GenerateCSR(p.templateName)
}

// subscribe subscribes to the response topics of both handshake steps and
// returns the filters it subscribed to.
func (p *Provisioner) subscribe(ctx context.Context) ([]string, error) {
	var filters []string
	for _, op := range []fleetprov.Operation{p.credentialOp, fleetprov.OperationRegisterThing} {
		filter, err := p.topics.ResponseWildcard(op)
		if err != nil {
			return filters, err
		}
		if err := p.client.Subscribe(ctx, filter, p.qos, p.handle); err != nil {
			return filters, fmt.Errorf("failed to subscribe to %s: %w", filter, err)
		}
		filters = append(filters, filter)
	}
	return filters, nil
}

func (p *Provisioner) unsubscribe(filters []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, filter := range filters {
		if err := p.client.Unsubscribe(ctx, filter); err != nil {
			log.Warn("Failed to unsubscribe", "topic", filter, "error", err)
		}
	}
}

// handle is the MQTT message handler. It classifies the topic and hands the
// payload to the exchange waiting for that operation.
func (p *Provisioner) handle(_ context.Context, name string, payload []byte) {
	m, err := fleetprov.ParseTopic(name)
	p.metrics.MessagesTotal.WithLabelValues(m.Topic.String()).Inc()
	if err != nil {
		log.Debug("Ignoring message on unknown topic", "topic", name)
		return
	}

	if m.Topic.API() == fleetprov.APIPublish ||
		m.Topic.Format() != p.codec.Format() ||
		(m.Topic.Operation() == fleetprov.OperationRegisterThing && m.TemplateName != p.templateName) {
		log.Debug("Ignoring message not addressed to this handshake", "topic", name, "classified", m.Topic)
		return
	}

	p.mu.Lock()
	ch, ok := p.pending[m.Topic.Operation()]
	p.mu.Unlock()
	if !ok {
		log.Debug("No request in flight for response", "topic", name)
		return
	}

	select {
	case ch <- response{topic: m.Topic, name: name, payload: payload}:
	default:
		log.Warn("Dropping duplicate response", "topic", name)
	}
}

// exchange publishes req for op and waits for the accepted or rejected response.
func (p *Provisioner) exchange(ctx context.Context, op fleetprov.Operation, req, resp any) error {
	reqTopic, err := p.topics.Request(op)
	if err != nil {
		return err
	}
	payload, err := p.codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	ch := make(chan response, 1)
	p.mu.Lock()
	if _, busy := p.pending[op]; busy {
		p.mu.Unlock()
		return fmt.Errorf("%s request already in flight", op)
	}
	p.pending[op] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, op)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	opLabel := op.String()
	start := p.clock.Now()

	log.Info("Publishing provisioning request", "operation", opLabel, "topic", reqTopic)
	if err := p.client.Publish(ctx, reqTopic, p.qos, false, payload); err != nil {
		p.metrics.RequestsTotal.WithLabelValues(opLabel, resultError).Inc()
		return fmt.Errorf("failed to publish %s request: %w", op, err)
	}

	select {
	case <-ctx.Done():
		p.metrics.RequestsTotal.WithLabelValues(opLabel, resultTimeout).Inc()
		return fmt.Errorf("waiting for %s response: %w", op, ctx.Err())

	case r := <-ch:
		p.metrics.RequestLatency.WithLabelValues(opLabel).Observe(p.clock.Since(start).Seconds())

		if r.topic.API() == fleetprov.APIRejected {
			p.metrics.RequestsTotal.WithLabelValues(opLabel, resultRejected).Inc()
			rejected := &RejectedError{Topic: r.name}
			if err := p.codec.Unmarshal(r.payload, &rejected.Response); err != nil {
				log.Warn("Undecodable rejection payload", "topic", r.name, "error", err)
			}
			return rejected
		}

		if err := p.codec.Unmarshal(r.payload, resp); err != nil {
			p.metrics.RequestsTotal.WithLabelValues(opLabel, resultError).Inc()
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
		p.metrics.RequestsTotal.WithLabelValues(opLabel, resultAccepted).Inc()
		return nil
	}
}
