package config

import "github.com/hearthd/hearth/pkg/observability"

// ObservabilityConfig aliases the observability package's own config so
// it can be embedded in the root config without an import cycle.
type ObservabilityConfig = observability.Config
