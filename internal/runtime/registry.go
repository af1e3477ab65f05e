package runtime

import (
	"github.com/mohammad-safakhou/docwatch/internal/queue/streams"
)

// InitSchemaRegistry returns a registry with every queue payload schema
// registered.
func InitSchemaRegistry() (*streams.SchemaRegistry, error) {
	reg := streams.NewSchemaRegistry()
	if err := streams.RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
