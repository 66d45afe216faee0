// Package app wires the voicebridge subsystems into a running application.
//
// The [SessionManager] owns one bridge session plus its context publisher
// per resident. main.go populates [Providers] via the config registry;
// tests inject the mock provider packages instead.
package app

import (
	"github.com/aldervale/voicebridge/pkg/capture"
	"github.com/aldervale/voicebridge/pkg/provider/avatar"
	"github.com/aldervale/voicebridge/pkg/provider/convai"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry, or by tests with mocks.
type Providers struct {
	Conversational convai.Provider
	Avatar         avatar.Provider
	Capture        capture.Platform
}
