package topic

import (
	"fmt"

	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
)

// Builder renders the provisioning topics a device publishes and subscribes
// to for one template and payload format.
type Builder struct {
	templateName string
	format       fleetprov.Format
}

// NewBuilder creates a Builder. templateName is only needed for RegisterThing.
func NewBuilder(templateName string, format fleetprov.Format) *Builder {
	return &Builder{templateName: templateName, format: format}
}

// Request returns the topic a request for op is published on.
func (b *Builder) Request(op fleetprov.Operation) (string, error) {
	return fleetprov.TopicFor(op, b.format, fleetprov.APIPublish).Name(b.templateName)
}

// Response returns the accepted or rejected topic of op.
func (b *Builder) Response(op fleetprov.Operation, api fleetprov.APITopic) (string, error) {
	if api == fleetprov.APIPublish {
		return "", fmt.Errorf("%w: %s is not a response topic", fleetprov.ErrBadParameter, api)
	}
	return fleetprov.TopicFor(op, b.format, api).Name(b.templateName)
}

// ResponseWildcard returns a filter matching both response topics of op.
// Result: {request topic}/+
func (b *Builder) ResponseWildcard(op fleetprov.Operation) (string, error) {
	req, err := b.Request(op)
	if err != nil {
		return "", err
	}
	return req + Separator + Wildcard, nil
}
