package app

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
)

func TestTopicsCommand(t *testing.T) {
	cmd := newTopicsCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--template-name", "TestTemplateName"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, len(fleetprov.AllTopics)+1)
	assert.Contains(t, out.String(), "$aws/provisioning-templates/TestTemplateName/provision/cbor/rejected")
	assert.Contains(t, out.String(), fleetprov.CreateKeysAndCertificateJSONAcceptedTopic)
}

func TestTopicsCommandRequiresTemplate(t *testing.T) {
	cmd := newTopicsCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())

	cmd = newTopicsCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--template-name", strings.Repeat("x", fleetprov.TemplateNameMaxLength+1)})
	assert.Error(t, cmd.Execute())
}

func TestMatchCommand(t *testing.T) {
	cmd := newMatchCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"$aws/provisioning-templates/TestTemplateName/provision/json/accepted",
		fleetprov.CreateCertificateFromCsrCBORPublishTopic,
	})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "JSONRegisterThingAccepted")
	assert.Contains(t, out.String(), "TestTemplateName")
	assert.Contains(t, out.String(), "CBORCreateCertificateFromCsrPublish")
}

func TestMatchCommandUnmatched(t *testing.T) {
	cmd := newMatchCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"$aws/certificates/create/xml", fleetprov.CreateKeysAndCertificateJSONPublishTopic})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out.String(), "JSONCreateKeysAndCertificatePublish")
}
