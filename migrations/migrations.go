// Package migrations ships the SQL schema of the service. The up script is
// idempotent and runs at startup when auto migration is enabled.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// InitUp returns the schema creation script
func InitUp() (string, error) {
	data, err := FS.ReadFile("001_init.up.sql")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
