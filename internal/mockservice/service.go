// Package mockservice answers fleet provisioning requests the way the cloud
// service does, for local development against a plain MQTT broker.
package mockservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/autopeer-io/fleetprov/internal/provisioner"
	"github.com/autopeer-io/fleetprov/pkg/codec"
	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
	"github.com/autopeer-io/fleetprov/pkg/log"
	"github.com/autopeer-io/fleetprov/pkg/mqtt"
)

// Request filters the service subscribes to.
const (
	CertificatesFilter  = "$aws/certificates/+/+"
	RegisterThingFilter = "$aws/provisioning-templates/+/provision/+"
)

// Service issues certificates from an in-memory CA and registers things.
type Service struct {
	client mqtt.Client
	ca     *authority
	qos    int

	// templates restricts RegisterThing to known templates. Empty allows any.
	templates map[string]bool

	mu     sync.Mutex
	tokens map[string]string // ownership token -> certificate id
}

// New creates a Service publishing its responses through client.
func New(client mqtt.Client, qos int, templates ...string) (*Service, error) {
	ca, err := newAuthority()
	if err != nil {
		return nil, err
	}

	s := &Service{
		client:    client,
		ca:        ca,
		qos:       qos,
		templates: make(map[string]bool, len(templates)),
		tokens:    make(map[string]string),
	}
	for _, t := range templates {
		s.templates[t] = true
	}
	return s, nil
}

// CACertificatePEM returns the certificate of the issuing CA.
func (s *Service) CACertificatePEM() string {
	return s.ca.certPEM
}

// Subscribe registers the request handlers on the client.
func (s *Service) Subscribe(ctx context.Context) error {
	for _, filter := range []string{CertificatesFilter, RegisterThingFilter} {
		if err := s.client.Subscribe(ctx, filter, s.qos, s.Handle); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", filter, err)
		}
	}
	return nil
}

// Handle answers one request message.
func (s *Service) Handle(ctx context.Context, topic string, payload []byte) {
	m, err := fleetprov.ParseTopic(topic)
	if err != nil || m.Topic.API() != fleetprov.APIPublish {
		return
	}

	c, err := codec.For(m.Topic.Format())
	if err != nil {
		return
	}

	api, resp := s.respond(m, c, payload)

	respTopic, err := fleetprov.TopicFor(m.Topic.Operation(), m.Topic.Format(), api).Name(m.TemplateName)
	if err != nil {
		log.Error(err, "Failed to build response topic", "request", topic)
		return
	}
	data, err := c.Marshal(resp)
	if err != nil {
		log.Error(err, "Failed to encode response", "topic", respTopic)
		return
	}

	log.Info("Answering provisioning request", "request", m.Topic, "response", respTopic)
	if err := s.client.Publish(ctx, respTopic, s.qos, false, data); err != nil {
		log.Error(err, "Failed to publish response", "topic", respTopic)
	}
}

func (s *Service) respond(m fleetprov.Match, c codec.Codec, payload []byte) (fleetprov.APITopic, any) {
	switch m.Topic.Operation() {
	case fleetprov.OperationCreateKeysAndCertificate:
		keys, err := provisioner.GenerateCSR("fleetprov-device")
		if err != nil {
			return internalError(err)
		}
		id, certPEM, err := s.ca.sign(keys.CSRPEM)
		if err != nil {
			return internalError(err)
		}
		return fleetprov.APIAccepted, provisioner.CreateKeysAndCertificateResponse{
			CertificateID:             id,
			CertificatePem:            certPEM,
			PrivateKey:                keys.PrivateKeyPEM,
			CertificateOwnershipToken: s.issueToken(id),
		}

	case fleetprov.OperationCreateCertificateFromCsr:
		var req provisioner.CreateCertificateFromCsrRequest
		if err := c.Unmarshal(payload, &req); err != nil {
			return invalidRequest(err.Error())
		}
		id, certPEM, err := s.ca.sign(req.CertificateSigningRequest)
		if err != nil {
			return invalidRequest(err.Error())
		}
		return fleetprov.APIAccepted, provisioner.CreateCertificateFromCsrResponse{
			CertificateID:             id,
			CertificatePem:            certPEM,
			CertificateOwnershipToken: s.issueToken(id),
		}

	case fleetprov.OperationRegisterThing:
		var req provisioner.RegisterThingRequest
		if err := c.Unmarshal(payload, &req); err != nil {
			return invalidRequest(err.Error())
		}
		if len(s.templates) > 0 && !s.templates[m.TemplateName] {
			return fleetprov.APIRejected, provisioner.ErrorResponse{
				StatusCode:   404,
				ErrorCode:    "ResourceNotFound",
				ErrorMessage: fmt.Sprintf("provisioning template %s not found", m.TemplateName),
			}
		}
		certID, ok := s.redeemToken(req.CertificateOwnershipToken)
		if !ok {
			return fleetprov.APIRejected, provisioner.ErrorResponse{
				StatusCode:   400,
				ErrorCode:    "InvalidCertificateOwnershipToken",
				ErrorMessage: "certificate ownership token is invalid or already used",
			}
		}
		return fleetprov.APIAccepted, provisioner.RegisterThingResponse{
			ThingName: thingName(m.TemplateName, req.Parameters),
			DeviceConfiguration: map[string]any{
				"certificateId": certID,
				"template":      m.TemplateName,
			},
		}
	}
	return invalidRequest("unknown operation")
}

func (s *Service) issueToken(certID string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = certID
	s.mu.Unlock()
	return token
}

// redeemToken consumes a token. Tokens are single use.
func (s *Service) redeemToken(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	delete(s.tokens, token)
	return id, ok
}

func thingName(template string, params map[string]string) string {
	if serial := params["SerialNumber"]; serial != "" {
		return template + "_" + serial
	}
	return template + "_" + uuid.NewString()[:8]
}

func invalidRequest(msg string) (fleetprov.APITopic, any) {
	return fleetprov.APIRejected, provisioner.ErrorResponse{StatusCode: 400, ErrorCode: "InvalidPayload", ErrorMessage: msg}
}

func internalError(err error) (fleetprov.APITopic, any) {
	return fleetprov.APIRejected, provisioner.ErrorResponse{StatusCode: 500, ErrorCode: "InternalFailure", ErrorMessage: err.Error()}
}
