package agent

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/autopeer-io/fleetprov/internal/provisioner"
	"github.com/autopeer-io/fleetprov/internal/server"
	"github.com/autopeer-io/fleetprov/pkg/mqtt"
	"github.com/autopeer-io/fleetprov/pkg/options"
)

type Config struct {
	MqttOptions         *options.MqttOptions
	ProvisioningOptions *options.ProvisioningOptions
	HttpOptions         *options.HttpOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := provisioner.NewMetrics(registry)

	mqttClient, err := mqtt.NewClient(cfg.MqttOptions.ToClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	store := provisioner.NewFileStore(cfg.ProvisioningOptions.CredentialsDir)

	prov, err := provisioner.New(provisioner.Config{
		Client:              mqttClient,
		Store:               store,
		Metrics:             metrics,
		TemplateName:        cfg.ProvisioningOptions.TemplateName,
		Format:              cfg.ProvisioningOptions.ParsedFormat(),
		CredentialOperation: cfg.ProvisioningOptions.CredentialOperation(),
		CSRFile:             cfg.ProvisioningOptions.CSRFile,
		Parameters:          cfg.ProvisioningOptions.Parameters,
		QoS:                 cfg.MqttOptions.QoS,
		Timeout:             cfg.ProvisioningOptions.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init provisioner: %w", err)
	}

	a := NewAgent(mqttClient, store, prov, metrics, cfg.ProvisioningOptions.StayAlive)
	if cfg.MqttOptions.ConnectTimeout > 0 {
		a.connectTimeout = cfg.MqttOptions.ConnectTimeout
	}
	if cfg.HttpOptions != nil && cfg.HttpOptions.Addr != "" {
		a.server = server.NewServer(cfg.HttpOptions, registry, a.Ready)
	}
	return a, nil
}
