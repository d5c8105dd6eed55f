package queue

import "github.com/aegis-mobile/synccore/internal/models"

// Action is the closed set of outbound mutation verbs the queue delivers.
type Action string

const (
	ActionCriticalAlert   Action = "critical_alert"
	ActionPaymentRequest  Action = "payment_request"
	ActionAIRequest       Action = "ai_request"
	ActionGuardianMessage Action = "guardian_message"
	ActionPatternUpdate   Action = "pattern_update"
	ActionFlagUpdate      Action = "flag_update"
	ActionContactUpdate   Action = "contact_update"
	ActionSettingUpdate   Action = "setting_update"
	ActionAnalytics       Action = "analytics"
)

// Priority bands: critical alerts first, then payment/AI requests, then
// guardian/pattern/flag/contact updates, then settings, then analytics.
const (
	PriorityCritical   = 100
	PriorityRequest    = 75
	PriorityUpdate     = 50
	PrioritySetting    = 25
	PriorityBackground = 10
)

// Actions lists every known action.
func Actions() []Action {
	return []Action{
		ActionCriticalAlert,
		ActionPaymentRequest,
		ActionAIRequest,
		ActionGuardianMessage,
		ActionPatternUpdate,
		ActionFlagUpdate,
		ActionContactUpdate,
		ActionSettingUpdate,
		ActionAnalytics,
	}
}

// DefaultPriority classifies an action into its priority band.
func DefaultPriority(action Action) int {
	switch action {
	case ActionCriticalAlert:
		return PriorityCritical
	case ActionPaymentRequest, ActionAIRequest:
		return PriorityRequest
	case ActionGuardianMessage, ActionPatternUpdate, ActionFlagUpdate, ActionContactUpdate:
		return PriorityUpdate
	case ActionSettingUpdate:
		return PrioritySetting
	case ActionAnalytics:
		return PriorityBackground
	}
	return PrioritySetting
}

// ActionForKind maps an entity kind to the action used when its record is
// re-queued for upload (after a client-wins or merge resolution).
func ActionForKind(kind models.Kind) Action {
	switch kind {
	case models.KindTransaction:
		return ActionFlagUpdate
	case models.KindConversation:
		return ActionAIRequest
	case models.KindPattern:
		return ActionPatternUpdate
	case models.KindGuardianMessage:
		return ActionGuardianMessage
	case models.KindSetting:
		return ActionSettingUpdate
	case models.KindEmergencyContact:
		return ActionContactUpdate
	}
	return ActionSettingUpdate
}
