// Package content turns coordinates into room flavor. Selection is a pure
// function of seed and position, so a re-generated instance with the same
// seed describes the same delve.
package content

import "embed"

//go:embed themes.yaml
var dataFS embed.FS
