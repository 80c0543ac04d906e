// Package db holds the service schema. Deployments apply schema.sql
// directly; tests load it through Schema.
package db

import _ "embed"

//go:embed schema.sql
var Schema string
