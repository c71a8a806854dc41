package entitle

import "github.com/vetsage/entitle/id"

// ID is the primary identifier type for generated entitlement records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
