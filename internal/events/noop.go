// Package events provides the no-op publisher used when no broker is
// configured.
package events

import "github.com/finbook/ledger-engine/internal/interfaces"

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, any) error { return nil }

var _ interfaces.EventPublisher = NoopPublisher{}
