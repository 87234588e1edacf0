package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fleetprov/internal/agent"
	"github.com/autopeer-io/fleetprov/pkg/app"
	"github.com/autopeer-io/fleetprov/pkg/log"
	"github.com/autopeer-io/fleetprov/pkg/options"
)

type AgentOptions struct {
	MqttOptions         *options.MqttOptions         `json:"mqtt" mapstructure:"mqtt"`
	ProvisioningOptions *options.ProvisioningOptions `json:"provisioning" mapstructure:"provisioning"`
	HttpOptions         *options.HttpOptions         `json:"http" mapstructure:"http"`
	Log                 *log.Options                 `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		MqttOptions:         options.NewMqttOptions(),
		ProvisioningOptions: options.NewProvisioningOptions(),
		HttpOptions:         options.NewHttpOptions(),
		Log:                 log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.ProvisioningOptions.AddFlags(fss.FlagSet("provisioning"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.ProvisioningOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		MqttOptions:         o.MqttOptions,
		ProvisioningOptions: o.ProvisioningOptions,
		HttpOptions:         o.HttpOptions,
	}, nil
}
