package provisioner

import "fmt"

// CreateKeysAndCertificateRequest is the (empty) CreateKeysAndCertificate request.
type CreateKeysAndCertificateRequest struct{}

// CreateKeysAndCertificateResponse is published on the accepted topic of
// CreateKeysAndCertificate.
type CreateKeysAndCertificateResponse struct {
	CertificateID             string `json:"certificateId"`
	CertificatePem            string `json:"certificatePem"`
	PrivateKey                string `json:"privateKey"`
	CertificateOwnershipToken string `json:"certificateOwnershipToken"`
}

// CreateCertificateFromCsrRequest carries a PEM certificate signing request.
type CreateCertificateFromCsrRequest struct {
	CertificateSigningRequest string `json:"certificateSigningRequest"`
}

// CreateCertificateFromCsrResponse is published on the accepted topic of
// CreateCertificateFromCsr.
type CreateCertificateFromCsrResponse struct {
	CertificateID             string `json:"certificateId"`
	CertificatePem            string `json:"certificatePem"`
	CertificateOwnershipToken string `json:"certificateOwnershipToken"`
}

// RegisterThingRequest registers the device against a provisioning template.
type RegisterThingRequest struct {
	CertificateOwnershipToken string            `json:"certificateOwnershipToken"`
	Parameters                map[string]string `json:"parameters,omitempty"`
}

// RegisterThingResponse is published on the accepted topic of RegisterThing.
type RegisterThingResponse struct {
	DeviceConfiguration map[string]any `json:"deviceConfiguration,omitempty"`
	ThingName           string         `json:"thingName"`
}

// ErrorResponse is published on every rejected topic.
type ErrorResponse struct {
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// RejectedError is returned when the service answers on a rejected topic.
type RejectedError struct {
	Topic    string
	Response ErrorResponse
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("request rejected on %s: %d %s: %s",
		e.Topic, e.Response.StatusCode, e.Response.ErrorCode, e.Response.ErrorMessage)
}
