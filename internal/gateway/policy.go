package gateway

import (
	"slices"
	"time"

	"github.com/persistorai/seovault/internal/models"
)

// Action names.
const (
	ActionExportCSV     = "export_csv"
	ActionApplyDraft    = "apply_draft"
	ActionGenerateMeta  = "generate_meta"
	ActionSaveSettings  = "save_settings"
	ActionRotateSecrets = "rotate_secrets"
	ActionPurgeAudit    = "purge_audit"
	ActionListAudit     = "list_audit"
)

// Scope selects how a policy's bucket is keyed.
type Scope int

const (
	// ScopeGlobal shares one bucket between every caller of the action.
	ScopeGlobal Scope = iota
	// ScopeActor gives each actor its own bucket.
	ScopeActor
)

// Policy is a fixed-window rate limit.
type Policy struct {
	Limit  int
	Window time.Duration
	Scope  Scope
}

type handlerFunc func(g *Gateway, inv *invocation) error

type action struct {
	capability models.Capability
	policy     Policy
	event      string
	handle     handlerFunc
}

func defaultActions() map[string]action {
	return map[string]action{
		ActionExportCSV: {
			capability: models.CapExportData,
			policy:     Policy{Limit: 10, Window: time.Minute, Scope: ScopeGlobal},
			event:      models.EventExportCSV,
			handle:     (*Gateway).exportCSV,
		},
		ActionApplyDraft: {
			capability: models.CapOptimizeContent,
			policy:     Policy{Limit: 5, Window: time.Minute, Scope: ScopeGlobal},
			event:      models.EventAppliedDraft,
			handle:     (*Gateway).applyDraft,
		},
		ActionGenerateMeta: {
			capability: models.CapOptimizeContent,
			policy:     Policy{Limit: 20, Window: time.Minute, Scope: ScopeActor},
			event:      models.EventGeneratedMeta,
			handle:     (*Gateway).generateMeta,
		},
		ActionSaveSettings: {
			capability: models.CapManageSettings,
			policy:     Policy{Limit: 30, Window: time.Minute, Scope: ScopeActor},
			event:      models.EventSettingsSaved,
			handle:     (*Gateway).saveSettings,
		},
		ActionRotateSecrets: {
			capability: models.CapManageSettings,
			policy:     Policy{Limit: 2, Window: 5 * time.Minute, Scope: ScopeGlobal},
			event:      models.EventSecretRotated,
			handle:     (*Gateway).rotateSecrets,
		},
		ActionPurgeAudit: {
			capability: models.CapManageSettings,
			policy:     Policy{Limit: 2, Window: time.Minute, Scope: ScopeGlobal},
			event:      models.EventAuditPurged,
			handle:     (*Gateway).purgeAudit,
		},
		ActionListAudit: {
			capability: models.CapViewReports,
			policy:     Policy{Limit: 60, Window: time.Minute, Scope: ScopeActor},
			handle:     (*Gateway).listAudit,
		},
	}
}

// ActionNames returns every action the gateway knows, sorted.
func ActionNames() []string {
	actions := defaultActions()
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// bucket returns the limiter key for an invocation. Action-only keys give
// a limit shared by all callers.
func bucket(name string, p Policy, actorID string) string {
	if p.Scope == ScopeActor {
		return "gw:" + name + ":" + actorID
	}
	return "gw:" + name
}
