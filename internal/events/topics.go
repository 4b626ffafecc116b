package events

// Topic constants for entity changes made through the rate administration screens.
const (
	TopicZoneChanged        = "zone.changed"
	TopicServiceChanged     = "shipping_service.changed"
	TopicRateTierChanged    = "rate_tier.changed"
	TopicTaxRateChanged     = "tax_rate.changed"
	TopicTaxSettingsChanged = "tax_settings.changed"
	// TopicReloadRequested forces a reload without any entity having changed.
	TopicReloadRequested = "snapshot.reload"
)

// Actions describing what happened to the entity.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// DefaultTopics returns every topic that invalidates the rate snapshot.
func DefaultTopics() []string {
	return []string{
		TopicZoneChanged,
		TopicServiceChanged,
		TopicRateTierChanged,
		TopicTaxRateChanged,
		TopicTaxSettingsChanged,
		TopicReloadRequested,
	}
}

// IsKnownTopic reports whether topic is one of DefaultTopics.
func IsKnownTopic(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
