package domain

import "time"

// EventType names a notification raised by the engine.
type EventType string

const (
	EventCampaignStarted   EventType = "campaign.started"
	EventCampaignProgress  EventType = "campaign.progress"
	EventCampaignCompleted EventType = "campaign.completed"
	EventCampaignFailed    EventType = "campaign.failed"
	EventAccountFloodWait  EventType = "account.flood_wait"
	EventAccountError      EventType = "account.error"
	EventAccountBlocked    EventType = "account.blocked"
	EventAccountActivated  EventType = "account.activated"
	EventEngineStarted     EventType = "engine.started"
	EventEngineStopped     EventType = "engine.stopped"
)

// Event is a fire-and-forget operator notification. Delivery is best-effort;
// failures never propagate into the dispatcher.
type Event struct {
	Type       EventType
	OwnerID    int64
	CampaignID string
	AccountID  int64
	Text       string
	At         time.Time
}
