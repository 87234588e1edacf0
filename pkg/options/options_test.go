package options

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
)

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("127.0.0.1:9464"))
	assert.NoError(t, ValidateAddress(":8080"))
	assert.Error(t, ValidateAddress("localhost"))
	assert.Error(t, ValidateAddress("localhost:http"))
	assert.Error(t, ValidateAddress("localhost:70000"))
}

func TestProvisioningOptionsValidate(t *testing.T) {
	o := NewProvisioningOptions()
	assert.NotEmpty(t, o.Validate(), "template name is required")

	o.TemplateName = "fleet-template"
	assert.Empty(t, o.Validate())

	o.Format = "xml"
	o.Mode = "magic"
	assert.Len(t, o.Validate(), 2)
}

func TestValidateTemplateName(t *testing.T) {
	assert.NoError(t, ValidateTemplateName(strings.Repeat("t", fleetprov.TemplateNameMaxLength)))
	assert.Error(t, ValidateTemplateName(""))
	assert.Error(t, ValidateTemplateName(strings.Repeat("t", fleetprov.TemplateNameMaxLength+1)))
	assert.Error(t, ValidateTemplateName("a/b"))
	assert.Error(t, ValidateTemplateName("a+"))
}

func TestProvisioningOptionsFlags(t *testing.T) {
	o := NewProvisioningOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--provisioning.template-name=tpl",
		"--provisioning.format=cbor",
		"--provisioning.mode=csr",
		"--provisioning.parameters=SerialNumber=123,Site=lab",
	}))

	assert.Empty(t, o.Validate())
	assert.Equal(t, fleetprov.FormatCBOR, o.ParsedFormat())
	assert.Equal(t, fleetprov.OperationCreateCertificateFromCsr, o.CredentialOperation())
	assert.Equal(t, map[string]string{"SerialNumber": "123", "Site": "lab"}, o.Parameters)
}

func TestMqttOptions(t *testing.T) {
	o := NewMqttOptions()
	assert.Empty(t, o.Validate())

	cfg := o.ToClientConfig()
	assert.True(t, strings.HasPrefix(cfg.ClientID, "fleetprov-"))
	assert.Equal(t, uint16(60), cfg.KeepAlive)

	o.CertFile = "claim.pem"
	o.QoS = 3
	assert.Len(t, o.Validate(), 2)
}
