package types

// Version is the canonical project version.
// The CLI, the inbound HTTP surface, and the completion event share it.
const Version = "0.3.0"

// ContractVersion is the version of the completion event payload published
// through adapters. Versioning is lockstep: it always equals Version.
const ContractVersion = Version
