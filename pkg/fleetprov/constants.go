// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fleetprov

// Topic fragments used by the fleet provisioning API.
// These are the wire contract with the broker-side provisioning service and
// must not change.
const (
	// CreateCertificateFromCsrPrefix is the prefix of every CreateCertificateFromCsr topic.
	CreateCertificateFromCsrPrefix = "$aws/certificates/create-from-csr/"

	// CreateKeysAndCertificatePrefix is the prefix of every CreateKeysAndCertificate topic.
	CreateKeysAndCertificatePrefix = "$aws/certificates/create/"

	// RegisterThingPrefix is the prefix of every RegisterThing topic.
	// Structure: $aws/provisioning-templates/{templateName}/provision/{format}[suffix]
	RegisterThingPrefix = "$aws/provisioning-templates/"

	// RegisterThingBridge separates the template name from the format.
	RegisterThingBridge = "/provision/"

	FormatJSONFragment = "json"
	FormatCBORFragment = "cbor"

	AcceptedSuffix = "/accepted"
	RejectedSuffix = "/rejected"
)

// Fragment lengths.
const (
	CreateCertificateFromCsrPrefixLength = len(CreateCertificateFromCsrPrefix)
	CreateKeysAndCertificatePrefixLength = len(CreateKeysAndCertificatePrefix)
	RegisterThingPrefixLength            = len(RegisterThingPrefix)
	RegisterThingBridgeLength            = len(RegisterThingBridge)
	FormatJSONFragmentLength             = len(FormatJSONFragment)
	FormatCBORFragmentLength             = len(FormatCBORFragment)
	AcceptedSuffixLength                 = len(AcceptedSuffix)
	RejectedSuffixLength                 = len(RejectedSuffix)
)

// TemplateNameMaxLength is the longest provisioning template name accepted
// when building RegisterThing topics.
const TemplateNameMaxLength = 36

// CreateCertificateFromCsr topics.
const (
	CreateCertificateFromCsrJSONPublishTopic  = CreateCertificateFromCsrPrefix + FormatJSONFragment
	CreateCertificateFromCsrJSONAcceptedTopic = CreateCertificateFromCsrJSONPublishTopic + AcceptedSuffix
	CreateCertificateFromCsrJSONRejectedTopic = CreateCertificateFromCsrJSONPublishTopic + RejectedSuffix
	CreateCertificateFromCsrCBORPublishTopic  = CreateCertificateFromCsrPrefix + FormatCBORFragment
	CreateCertificateFromCsrCBORAcceptedTopic = CreateCertificateFromCsrCBORPublishTopic + AcceptedSuffix
	CreateCertificateFromCsrCBORRejectedTopic = CreateCertificateFromCsrCBORPublishTopic + RejectedSuffix
)

// CreateKeysAndCertificate topics.
const (
	CreateKeysAndCertificateJSONPublishTopic  = CreateKeysAndCertificatePrefix + FormatJSONFragment
	CreateKeysAndCertificateJSONAcceptedTopic = CreateKeysAndCertificateJSONPublishTopic + AcceptedSuffix
	CreateKeysAndCertificateJSONRejectedTopic = CreateKeysAndCertificateJSONPublishTopic + RejectedSuffix
	CreateKeysAndCertificateCBORPublishTopic  = CreateKeysAndCertificatePrefix + FormatCBORFragment
	CreateKeysAndCertificateCBORAcceptedTopic = CreateKeysAndCertificateCBORPublishTopic + AcceptedSuffix
	CreateKeysAndCertificateCBORRejectedTopic = CreateKeysAndCertificateCBORPublishTopic + RejectedSuffix
)
