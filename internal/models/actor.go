package models

import (
	"fmt"
	"slices"
	"time"
)

// Capability names an administrative permission.
type Capability string

// Capabilities granted to actors.
const (
	CapOptimizeContent Capability = "optimize_content"
	CapManageSettings  Capability = "manage_settings"
	CapRunAudits       Capability = "run_audits"
	CapViewReports     Capability = "view_reports"
	CapExportData      Capability = "export_data"
)

// AllCapabilities lists every known capability.
var AllCapabilities = []Capability{
	CapOptimizeContent,
	CapManageSettings,
	CapRunAudits,
	CapViewReports,
	CapExportData,
}

// ParseCapability validates a capability name.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !slices.Contains(AllCapabilities, c) {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// Actor is an authenticated caller: a web session, an API key or the CLI.
type Actor struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities"`
}

// Can reports whether the actor holds capability c.
func (a Actor) Can(c Capability) bool {
	return slices.Contains(a.Capabilities, c)
}

// APIKey maps a hashed bearer token to an actor.
type APIKey struct {
	KeyHash      string       `json:"-"`
	Actor        string       `json:"actor"`
	Capabilities []Capability `json:"capabilities"`
	CreatedAt    time.Time    `json:"created_at"`
}
