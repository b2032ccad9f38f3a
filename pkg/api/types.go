package api

import "github.com/Majboor/smart-presentation-builder/pkg/entitlement"

// SubscriptionResponse is the account view of the session's entitlement
type SubscriptionResponse struct {
	Loading      bool                `json:"loading"`
	UserID       string              `json:"user_id"`
	Email        string              `json:"email,omitempty"`
	Plan         string              `json:"plan"`
	Subscription *entitlement.Record `json:"subscription"`
	CanCreate    bool                `json:"can_create"`
	UsageLabel   string              `json:"usage_label"`
	Degraded     bool                `json:"degraded,omitempty"` // serving the fallback record
}
