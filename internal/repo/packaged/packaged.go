// Package packaged embeds the read-only default repository shipped
// inside the starbash binary itself, for the "packaged resource"
// repository scheme.
package packaged

import "embed"

//go:embed defaults
var Defaults embed.FS

// DefaultsConfigFile is the document path within Defaults.
const DefaultsConfigFile = "defaults/starbash.toml"
