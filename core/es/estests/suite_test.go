package estests

import (
	"testing"

	"github.com/codewandler/chargebridge/core/es"
)

func TestInMemoryStore(t *testing.T) {
	RunStoreSuite(t, func(*testing.T) es.EventStore { return es.NewInMemoryStore() })
}
