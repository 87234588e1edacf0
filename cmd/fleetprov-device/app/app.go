package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/fleetprov/cmd/fleetprov-device/app/options"
	"github.com/autopeer-io/fleetprov/pkg/app"
	"github.com/autopeer-io/fleetprov/pkg/log"
)

const (
	commandName = "fleetprov-device"
	commandDesc = `fleetprov-device connects to the broker with a claim certificate, obtains
a device certificate through the fleet provisioning MQTT API, registers the
thing against a provisioning template and stores the issued credentials.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Provision a device through the fleet provisioning MQTT API",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithConfigReload(func() error {
			return log.SetLevel(opts.Log.Level)
		}),
		app.WithSubCommands(newTopicsCommand(), newMatchCommand()),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync() //nolint:errcheck

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
