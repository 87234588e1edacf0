package mockservice

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetprov/internal/provisioner"
	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
	"github.com/autopeer-io/fleetprov/pkg/mqtt"
)

func startService(t *testing.T, broker *mqtt.MemoryBroker, templates ...string) *Service {
	t.Helper()
	ctx := context.Background()
	client := broker.NewClient()
	require.NoError(t, client.Start(ctx))
	t.Cleanup(func() { client.Disconnect(ctx) })

	svc, err := New(client, 1, templates...)
	require.NoError(t, err)
	require.NoError(t, svc.Subscribe(ctx))
	return svc
}

func provision(t *testing.T, broker *mqtt.MemoryBroker, template string, format fleetprov.Format, op fleetprov.Operation) (*provisioner.Credentials, error) {
	t.Helper()
	ctx := context.Background()
	device := broker.NewClient()
	require.NoError(t, device.Start(ctx))
	t.Cleanup(func() { device.Disconnect(ctx) })

	p, err := provisioner.New(provisioner.Config{
		Client:              device,
		Store:               provisioner.NewFileStore(t.TempDir()),
		TemplateName:        template,
		Format:              format,
		CredentialOperation: op,
		Parameters:          map[string]string{"SerialNumber": "0001"},
		QoS:                 1,
		Timeout:             5 * time.Second,
	})
	require.NoError(t, err)
	return p.Provision(ctx)
}

func verifyIssued(t *testing.T, svc *Service, certPEM string) {
	t.Helper()
	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM([]byte(svc.CACertificatePEM())))

	block, _ := pem.Decode([]byte(certPEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	assert.NoError(t, err)
}

func TestEndToEnd(t *testing.T) {
	formats := []fleetprov.Format{fleetprov.FormatJSON, fleetprov.FormatCBOR}
	ops := []fleetprov.Operation{fleetprov.OperationCreateKeysAndCertificate, fleetprov.OperationCreateCertificateFromCsr}

	for _, format := range formats {
		for _, op := range ops {
			t.Run(format.String()+"/"+op.String(), func(t *testing.T) {
				broker := mqtt.NewMemoryBroker()
				svc := startService(t, broker)

				creds, err := provision(t, broker, "TestTemplateName", format, op)
				require.NoError(t, err)

				assert.Equal(t, "TestTemplateName_0001", creds.ThingName)
				assert.Len(t, creds.CertificateID, 64)
				assert.Contains(t, creds.PrivateKeyPEM, "PRIVATE KEY")
				assert.Equal(t, creds.CertificateID, creds.DeviceConfiguration["certificateId"])
				verifyIssued(t, svc, creds.CertificatePEM)
			})
		}
	}
}

func TestUnknownTemplateRejected(t *testing.T) {
	broker := mqtt.NewMemoryBroker()
	startService(t, broker, "KnownTemplate")

	_, err := provision(t, broker, "OtherTemplate", fleetprov.FormatJSON, fleetprov.OperationCreateKeysAndCertificate)
	var rejected *provisioner.RejectedError
	require.True(t, errors.As(err, &rejected), "got %v", err)
	assert.Equal(t, 404, rejected.Response.StatusCode)
	assert.Equal(t, "ResourceNotFound", rejected.Response.ErrorCode)
}

func TestOwnershipTokenSingleUse(t *testing.T) {
	svc, err := New(mqtt.NewMemoryBroker().NewClient(), 1)
	require.NoError(t, err)

	token := svc.issueToken("cert")
	id, ok := svc.redeemToken(token)
	assert.True(t, ok)
	assert.Equal(t, "cert", id)

	_, ok = svc.redeemToken(token)
	assert.False(t, ok)
}

func TestSignRejectsGarbage(t *testing.T) {
	ca, err := newAuthority()
	require.NoError(t, err)
	_, _, err = ca.sign("not a csr")
	assert.Error(t, err)
}
