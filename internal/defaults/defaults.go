// Package defaults provides the embedded example configuration written
// by the hermitd init subcommand.
package defaults

import _ "embed"

// ConfigYAML is a commented hermitd.yaml listing every setting with its
// default value.
//
//go:embed hermitd.example.yaml
var ConfigYAML []byte
