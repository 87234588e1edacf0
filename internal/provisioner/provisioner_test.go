package provisioner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fleetprov/pkg/codec"
	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
	"github.com/autopeer-io/fleetprov/pkg/mqtt"
)

const testTemplate = "TestTemplateName"

// fakeClient answers provisioning requests the way the service would.
// reply returns the api topic and payload to answer with; ok=false drops the request.
type fakeClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []string
	payloads  map[string][]byte

	reply func(topic string, payload []byte) (api string, resp any, ok bool)
	codec codec.Codec
}

func newFakeClient(c codec.Codec, reply func(string, []byte) (string, any, bool)) *fakeClient {
	return &fakeClient{
		handlers: map[string]mqtt.MessageHandler{},
		payloads: map[string][]byte{},
		reply:    reply,
		codec:    c,
	}
}

func (f *fakeClient) Start(context.Context) error           { return nil }
func (f *fakeClient) Disconnect(context.Context)            {}
func (f *fakeClient) AwaitConnection(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool                     { return true }

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeClient) Publish(ctx context.Context, topic string, _ int, _ bool, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, topic)
	f.payloads[topic] = payload
	f.mu.Unlock()

	api, resp, ok := f.reply(topic, payload)
	if !ok {
		return nil
	}
	data, err := f.codec.Marshal(resp)
	if err != nil {
		return err
	}
	go f.deliver(ctx, topic+"/"+api, data)
	return nil
}

func (f *fakeClient) deliver(ctx context.Context, topic string, payload []byte) {
	f.mu.Lock()
	var targets []mqtt.MessageHandler
	for filter, h := range f.handlers {
		if strings.HasPrefix(topic, strings.TrimSuffix(filter, "+")) {
			targets = append(targets, h)
		}
	}
	f.mu.Unlock()
	for _, h := range targets {
		h(ctx, topic, payload)
	}
}

func (f *fakeClient) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

// acceptAll answers every request on its accepted topic.
func acceptAll(topic string, _ []byte) (string, any, bool) {
	switch {
	case strings.Contains(topic, "/provision/"):
		return "accepted", RegisterThingResponse{
			ThingName:           "thing-0001",
			DeviceConfiguration: map[string]any{"region": "eu"},
		}, true
	case strings.HasPrefix(topic, fleetprov.CreateKeysAndCertificatePrefix):
		return "accepted", CreateKeysAndCertificateResponse{
			CertificateID:             "cert-id",
			CertificatePem:            "CERT",
			PrivateKey:                "KEY",
			CertificateOwnershipToken: "token",
		}, true
	default:
		return "accepted", CreateCertificateFromCsrResponse{
			CertificateID:             "csr-cert-id",
			CertificatePem:            "CSR-CERT",
			CertificateOwnershipToken: "csr-token",
		}, true
	}
}

func newTestProvisioner(t *testing.T, client mqtt.Client, format fleetprov.Format, op fleetprov.Operation) (*Provisioner, *FileStore, *Metrics) {
	t.Helper()
	store := NewFileStore(t.TempDir())
	metrics := NewMetrics(prometheus.NewRegistry())
	p, err := New(Config{
		Client:              client,
		Store:               store,
		Metrics:             metrics,
		TemplateName:        testTemplate,
		Format:              format,
		CredentialOperation: op,
		Parameters:          map[string]string{"SerialNumber": "0001"},
		QoS:                 1,
		Timeout:             2 * time.Second,
	})
	require.NoError(t, err)
	return p, store, metrics
}

func TestProvisionCreateKeys(t *testing.T) {
	for _, format := range []fleetprov.Format{fleetprov.FormatJSON, fleetprov.FormatCBOR} {
		t.Run(format.String(), func(t *testing.T) {
			c, err := codec.For(format)
			require.NoError(t, err)
			client := newFakeClient(c, acceptAll)
			p, store, metrics := newTestProvisioner(t, client, format, fleetprov.OperationCreateKeysAndCertificate)

			assert.Equal(t, StateIdle, p.State())
			creds, err := p.Provision(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateProvisioned, p.State())

			assert.Equal(t, "cert-id", creds.CertificateID)
			assert.Equal(t, "KEY", creds.PrivateKeyPEM)
			assert.Equal(t, "thing-0001", creds.ThingName)
			assert.Equal(t, testTemplate, creds.TemplateName)

			loaded, err := store.Load()
			require.NoError(t, err)
			assert.Equal(t, "CERT", loaded.CertificatePEM)
			assert.Equal(t, "thing-0001", loaded.ThingName)

			keysTopic := fleetprov.TopicFor(fleetprov.OperationCreateKeysAndCertificate, format, fleetprov.APIPublish)
			registerTopic, err := fleetprov.RegisterThingTopic(format, fleetprov.APIPublish, testTemplate)
			require.NoError(t, err)
			keysName, err := keysTopic.Name("")
			require.NoError(t, err)
			assert.Equal(t, []string{keysName, registerTopic}, client.published)

			var req RegisterThingRequest
			require.NoError(t, c.Unmarshal(client.payloads[registerTopic], &req))
			assert.Equal(t, "token", req.CertificateOwnershipToken)
			assert.Equal(t, "0001", req.Parameters["SerialNumber"])

			assert.Zero(t, client.subscriptions())
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Provisioned))
			assert.Equal(t, float64(1), testutil.ToFloat64(
				metrics.RequestsTotal.WithLabelValues(fleetprov.OperationRegisterThing.String(), resultAccepted)))
		})
	}
}

func TestProvisionedAtUsesClock(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	client := newFakeClient(codec.JSON, acceptAll)
	p, err := New(Config{
		Client:              client,
		Store:               NewFileStore(t.TempDir()),
		TemplateName:        testTemplate,
		Format:              fleetprov.FormatJSON,
		CredentialOperation: fleetprov.OperationCreateKeysAndCertificate,
		Clock:               testingclock.NewFakePassiveClock(now),
	})
	require.NoError(t, err)

	creds, err := p.Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, creds.ProvisionedAt)
}

func TestProvisionFromGeneratedCSR(t *testing.T) {
	client := newFakeClient(codec.JSON, acceptAll)
	p, _, _ := newTestProvisioner(t, client, fleetprov.FormatJSON, fleetprov.OperationCreateCertificateFromCsr)

	creds, err := p.Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "csr-cert-id", creds.CertificateID)
	assert.Contains(t, creds.PrivateKeyPEM, "EC PRIVATE KEY")

	var req CreateCertificateFromCsrRequest
	require.NoError(t, codec.JSON.Unmarshal(client.payloads[fleetprov.CreateCertificateFromCsrJSONPublishTopic], &req))
	assert.Contains(t, req.CertificateSigningRequest, "CERTIFICATE REQUEST")
}

func TestProvisionFromCSRFile(t *testing.T) {
	keys, err := GenerateCSR("device")
	require.NoError(t, err)
	csrFile := filepath.Join(t.TempDir(), "device.csr")
	require.NoError(t, os.WriteFile(csrFile, []byte(keys.CSRPEM), 0o600))

	client := newFakeClient(codec.JSON, acceptAll)
	store := NewFileStore(t.TempDir())
	p, err := New(Config{
		Client:              client,
		Store:               store,
		TemplateName:        testTemplate,
		Format:              fleetprov.FormatJSON,
		CredentialOperation: fleetprov.OperationCreateCertificateFromCsr,
		CSRFile:             csrFile,
		Timeout:             2 * time.Second,
	})
	require.NoError(t, err)

	creds, err := p.Provision(context.Background())
	require.NoError(t, err)
	assert.Empty(t, creds.PrivateKeyPEM)

	var req CreateCertificateFromCsrRequest
	require.NoError(t, codec.JSON.Unmarshal(client.payloads[fleetprov.CreateCertificateFromCsrJSONPublishTopic], &req))
	assert.Equal(t, keys.CSRPEM, req.CertificateSigningRequest)
}

func TestProvisionRejected(t *testing.T) {
	client := newFakeClient(codec.CBOR, func(topic string, payload []byte) (string, any, bool) {
		if strings.Contains(topic, "/provision/") {
			return "rejected", ErrorResponse{StatusCode: 400, ErrorCode: "InvalidParameters", ErrorMessage: "bad serial"}, true
		}
		return acceptAll(topic, payload)
	})
	p, store, metrics := newTestProvisioner(t, client, fleetprov.FormatCBOR, fleetprov.OperationCreateKeysAndCertificate)

	_, err := p.Provision(context.Background())
	require.Error(t, err)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, 400, rejected.Response.StatusCode)
	assert.Equal(t, "InvalidParameters", rejected.Response.ErrorCode)
	assert.True(t, strings.HasSuffix(rejected.Topic, fleetprov.RejectedSuffix))

	assert.Equal(t, StateFailed, p.State())
	assert.Zero(t, client.subscriptions())
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.RequestsTotal.WithLabelValues(fleetprov.OperationRegisterThing.String(), resultRejected)))

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestProvisionTimeout(t *testing.T) {
	client := newFakeClient(codec.JSON, func(string, []byte) (string, any, bool) { return "", nil, false })
	store := NewFileStore(t.TempDir())
	metrics := NewMetrics(nil)
	p, err := New(Config{
		Client:              client,
		Store:               store,
		Metrics:             metrics,
		TemplateName:        testTemplate,
		Format:              fleetprov.FormatJSON,
		CredentialOperation: fleetprov.OperationCreateKeysAndCertificate,
		Timeout:             50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = p.Provision(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, p.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.RequestsTotal.WithLabelValues(fleetprov.OperationCreateKeysAndCertificate.String(), resultTimeout)))
}

func TestProvisionRetryAfterFailure(t *testing.T) {
	fail := true
	var mu sync.Mutex
	client := newFakeClient(codec.JSON, func(topic string, payload []byte) (string, any, bool) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return "rejected", ErrorResponse{StatusCode: 503, ErrorCode: "ServiceUnavailable"}, true
		}
		return acceptAll(topic, payload)
	})
	p, _, metrics := newTestProvisioner(t, client, fleetprov.FormatJSON, fleetprov.OperationCreateKeysAndCertificate)

	_, err := p.Provision(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, p.State())

	_, err = p.Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateProvisioned, p.State())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Attempts))
}

func TestProvisionCancelledCanRetry(t *testing.T) {
	client := newFakeClient(codec.JSON, func(string, []byte) (string, any, bool) { return "", nil, false })
	p, _, _ := newTestProvisioner(t, client, fleetprov.FormatJSON, fleetprov.OperationCreateKeysAndCertificate)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := p.Provision(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, p.State())
	assert.Zero(t, client.subscriptions())

	client.reply = acceptAll
	_, err = p.Provision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateProvisioned, p.State())
}

func TestProvisionCopiesParameters(t *testing.T) {
	params := map[string]string{"SerialNumber": "0001"}
	client := newFakeClient(codec.JSON, acceptAll)
	p, err := New(Config{
		Client:              client,
		Store:               NewFileStore(t.TempDir()),
		TemplateName:        testTemplate,
		Format:              fleetprov.FormatJSON,
		CredentialOperation: fleetprov.OperationCreateKeysAndCertificate,
		Parameters:          params,
		Timeout:             2 * time.Second,
	})
	require.NoError(t, err)

	params["SerialNumber"] = "0002"
	params["Location"] = "lab"

	_, err = p.Provision(context.Background())
	require.NoError(t, err)

	registerTopic, err := fleetprov.RegisterThingTopic(fleetprov.FormatJSON, fleetprov.APIPublish, testTemplate)
	require.NoError(t, err)
	var req RegisterThingRequest
	require.NoError(t, codec.JSON.Unmarshal(client.payloads[registerTopic], &req))
	assert.Equal(t, map[string]string{"SerialNumber": "0001"}, req.Parameters)
}

func TestHandleIgnoresUnrelatedMessages(t *testing.T) {
	client := newFakeClient(codec.JSON, acceptAll)
	p, _, metrics := newTestProvisioner(t, client, fleetprov.FormatJSON, fleetprov.OperationCreateKeysAndCertificate)

	ch := make(chan response, 1)
	p.pending[fleetprov.OperationRegisterThing] = ch

	accepted, err := fleetprov.RegisterThingTopic(fleetprov.FormatJSON, fleetprov.APIAccepted, "OtherTemplate")
	require.NoError(t, err)
	cborAccepted, err := fleetprov.RegisterThingTopic(fleetprov.FormatCBOR, fleetprov.APIAccepted, testTemplate)
	require.NoError(t, err)
	request, err := fleetprov.RegisterThingTopic(fleetprov.FormatJSON, fleetprov.APIPublish, testTemplate)
	require.NoError(t, err)

	for _, topic := range []string{accepted, cborAccepted, request, "devices/status"} {
		p.handle(context.Background(), topic, []byte("{}"))
	}
	assert.Empty(t, ch)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MessagesTotal.WithLabelValues("InvalidTopic")))

	mine, err := fleetprov.RegisterThingTopic(fleetprov.FormatJSON, fleetprov.APIAccepted, testTemplate)
	require.NoError(t, err)
	p.handle(context.Background(), mine, []byte("{}"))
	require.Len(t, ch, 1)
	assert.Equal(t, fleetprov.JSONRegisterThingAccepted, (<-ch).topic)
}

func TestNewValidatesConfig(t *testing.T) {
	client := newFakeClient(codec.JSON, acceptAll)
	store := NewFileStore(t.TempDir())

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing client", Config{Store: store, TemplateName: testTemplate, Format: fleetprov.FormatJSON, CredentialOperation: fleetprov.OperationCreateKeysAndCertificate}},
		{"register thing as credential operation", Config{Client: client, Store: store, TemplateName: testTemplate, Format: fleetprov.FormatJSON, CredentialOperation: fleetprov.OperationRegisterThing}},
		{"empty template", Config{Client: client, Store: store, Format: fleetprov.FormatJSON, CredentialOperation: fleetprov.OperationCreateKeysAndCertificate}},
		{"long template", Config{Client: client, Store: store, TemplateName: strings.Repeat("t", 37), Format: fleetprov.FormatJSON, CredentialOperation: fleetprov.OperationCreateKeysAndCertificate}},
		{"invalid format", Config{Client: client, Store: store, TemplateName: testTemplate, CredentialOperation: fleetprov.OperationCreateKeysAndCertificate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}
