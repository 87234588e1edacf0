// Package codec encodes and decodes provisioning payloads in the two formats
// the provisioning APIs accept.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
)

// Codec marshals payloads for one provisioning format.
type Codec interface {
	Format() fleetprov.Format
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// JSON is the codec for fleetprov.FormatJSON topics.
	JSON Codec = jsonCodec{}

	// CBOR is the codec for fleetprov.FormatCBOR topics.
	CBOR Codec
)

func init() {
	// Deterministic output so identical requests produce identical payloads.
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding: the service may add fields at any time.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err := decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}

	CBOR = cborCodec{enc: encMode, dec: decMode}
}

// For returns the codec for format.
func For(format fleetprov.Format) (Codec, error) {
	switch format {
	case fleetprov.FormatJSON:
		return JSON, nil
	case fleetprov.FormatCBOR:
		return CBOR, nil
	default:
		return nil, fmt.Errorf("no codec for %s", format)
	}
}

type jsonCodec struct{}

func (jsonCodec) Format() fleetprov.Format { return fleetprov.FormatJSON }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func (cborCodec) Format() fleetprov.Format { return fleetprov.FormatCBOR }

func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
