package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"$aws/certificates/create/json/accepted", "$aws/certificates/create/json/accepted", true},
		{"$aws/certificates/create/json/+", "$aws/certificates/create/json/accepted", true},
		{"$aws/certificates/create/json/+", "$aws/certificates/create/json", false},
		{"$aws/provisioning-templates/+/provision/cbor/#", "$aws/provisioning-templates/tpl/provision/cbor/rejected", true},
		{"$aws/certificates/#", "$aws/certificates/create-from-csr/cbor", true},
		{"#", "$aws/certificates/create/json", false},
		{"+/certificates/create/json", "$aws/certificates/create/json", false},
		{"a/b", "a/c", false},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, topicsMatch(tt.filter, tt.topic), "filter %q topic %q", tt.filter, tt.topic)
	}
}

func TestTopicFilter(t *testing.T) {
	assert.Equal(t, "a/b/+", topicFilter("$share/group/a/b/+"))
	assert.Equal(t, "$aws/certificates/create/json", topicFilter("$aws/certificates/create/json"))
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "tls://broker:8883", CertFile: "claim.pem"})
	assert.Error(t, err)

	cfg := &ClientConfig{BrokerURL: "tls://broker:8883"}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
	assert.Equal(t, uint16(60), cfg.KeepAlive)
	assert.NotZero(t, cfg.ConnectTimeout)
}

func TestTLSConfigMissingFiles(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "tls://broker:8883", CAFile: "/nonexistent/ca.pem"}
	_, err := cfg.TLSConfig()
	assert.Error(t, err)

	cfg = &ClientConfig{BrokerURL: "tls://broker:8883", CertFile: "/nonexistent/c.pem", KeyFile: "/nonexistent/k.pem"}
	_, err = cfg.TLSConfig()
	assert.Error(t, err)
}
