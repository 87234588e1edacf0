package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
)

var _ IOptions = (*ProvisioningOptions)(nil)

// Credential modes.
const (
	// ModeCreateKeys lets the service generate the key pair (CreateKeysAndCertificate).
	ModeCreateKeys = "keys"

	// ModeCSR keeps the private key on the device (CreateCertificateFromCsr).
	ModeCSR = "csr"
)

// ProvisioningOptions configures the fleet provisioning handshake.
type ProvisioningOptions struct {
	// TemplateName is the provisioning template registered with the service.
	TemplateName string `json:"template-name" mapstructure:"template-name"`

	// Format is the payload format, "json" or "cbor".
	Format string `json:"format" mapstructure:"format"`

	// Mode selects how the device certificate is obtained, "keys" or "csr".
	Mode string `json:"mode" mapstructure:"mode"`

	// CSRFile is an existing PEM certificate signing request used in csr mode.
	// A key pair and CSR are generated when empty.
	CSRFile string `json:"csr-file" mapstructure:"csr-file"`

	// Parameters are passed to the provisioning template.
	Parameters map[string]string `json:"parameters" mapstructure:"parameters"`

	// Timeout bounds each request/response exchange.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// CredentialsDir receives the issued certificate, key and metadata.
	CredentialsDir string `json:"credentials-dir" mapstructure:"credentials-dir"`

	// StayAlive keeps the process serving metrics after provisioning ends.
	StayAlive bool `json:"stay-alive" mapstructure:"stay-alive"`
}

// NewProvisioningOptions creates ProvisioningOptions with default values.
func NewProvisioningOptions() *ProvisioningOptions {
	return &ProvisioningOptions{
		Format:         fleetprov.FormatJSONFragment,
		Mode:           ModeCreateKeys,
		Parameters:     map[string]string{},
		Timeout:        30 * time.Second,
		CredentialsDir: "/var/lib/fleetprov",
	}
}

// Validate checks the template name, format and mode.
func (o *ProvisioningOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if err := ValidateTemplateName(o.TemplateName); err != nil {
		errs = append(errs, err)
	}
	if _, err := fleetprov.ParseFormat(o.Format); err != nil {
		errs = append(errs, fmt.Errorf("--provisioning.format: %w", err))
	}
	if o.Mode != ModeCreateKeys && o.Mode != ModeCSR {
		errs = append(errs, fmt.Errorf("--provisioning.mode must be %q or %q, got %q", ModeCreateKeys, ModeCSR, o.Mode))
	}
	if o.CSRFile != "" && o.Mode != ModeCSR {
		errs = append(errs, fmt.Errorf("--provisioning.csr-file requires --provisioning.mode=%s", ModeCSR))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("--provisioning.timeout must be positive"))
	}
	if o.CredentialsDir == "" {
		errs = append(errs, fmt.Errorf("--provisioning.credentials-dir is required"))
	}

	return errs
}

// AddFlags adds flags for ProvisioningOptions to the specified FlagSet.
func (o *ProvisioningOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.TemplateName, "provisioning.template-name", o.TemplateName, "Name of the provisioning template.")
	fs.StringVar(&o.Format, "provisioning.format", o.Format, "Payload format of the provisioning APIs ('json' or 'cbor').")
	fs.StringVar(&o.Mode, "provisioning.mode", o.Mode, "How to obtain the device certificate: 'keys' (CreateKeysAndCertificate) or 'csr' (CreateCertificateFromCsr).")
	fs.StringVar(&o.CSRFile, "provisioning.csr-file", o.CSRFile, "PEM certificate signing request to submit in csr mode. Generated when empty.")
	fs.StringToStringVar(&o.Parameters, "provisioning.parameters", o.Parameters, "Template parameters as key=value pairs.")
	fs.DurationVar(&o.Timeout, "provisioning.timeout", o.Timeout, "Timeout for each provisioning request.")
	fs.StringVar(&o.CredentialsDir, "provisioning.credentials-dir", o.CredentialsDir, "Directory receiving the issued credentials.")
	fs.BoolVar(&o.StayAlive, "provisioning.stay-alive", o.StayAlive, "Keep serving metrics after provisioning finishes.")
}

// ParsedFormat returns the validated format.
func (o *ProvisioningOptions) ParsedFormat() fleetprov.Format {
	f, _ := fleetprov.ParseFormat(o.Format)
	return f
}

// CredentialOperation returns the API used to obtain the certificate.
func (o *ProvisioningOptions) CredentialOperation() fleetprov.Operation {
	if o.Mode == ModeCSR {
		return fleetprov.OperationCreateCertificateFromCsr
	}
	return fleetprov.OperationCreateKeysAndCertificate
}

// ValidateTemplateName checks that name can be carried in a RegisterThing topic.
func ValidateTemplateName(name string) error {
	if name == "" {
		return fmt.Errorf("--provisioning.template-name is required")
	}
	if len(name) > fleetprov.TemplateNameMaxLength {
		return fmt.Errorf("template name %q longer than %d characters", name, fleetprov.TemplateNameMaxLength)
	}
	if strings.ContainsAny(name, "/+#") {
		return fmt.Errorf("template name %q must not contain '/', '+' or '#'", name)
	}
	return nil
}
