// Package fleetprov builds and classifies the MQTT topics of the fleet
// provisioning APIs: CreateCertificateFromCsr, CreateKeysAndCertificate and
// RegisterThing, each in JSON or CBOR, each with a request topic and
// accepted/rejected response topics.
//
// The builder writes into caller-owned buffers and the matcher walks the topic
// in place, so neither allocates. All functions are safe for concurrent use.
package fleetprov
