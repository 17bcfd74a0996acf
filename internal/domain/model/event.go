// Package model contains domain models passed between layers.
package model

import "time"

// ObjectType names the kind of remote object a webhook delivery refers to.
type ObjectType string

// Object types delivered by the platform.
const (
	ObjectActivity ObjectType = "activity"
	ObjectAthlete  ObjectType = "athlete"
)

// EventKind is the lifecycle change reported by a delivery.
type EventKind string

// Event kinds, matching the platform's aspect_type values.
const (
	KindCreated EventKind = "create"
	KindUpdated EventKind = "update"
	KindDeleted EventKind = "delete"
)

// InboundEvent is one webhook delivery after validation.
// It is immutable once received.
type InboundEvent struct {
	DeliveryID     string            // uuid assigned on receipt
	ObjectType     ObjectType        // activity or athlete
	EntityID       int64             // object_id
	PrincipalID    int64             // owner_id
	Kind           EventKind         // aspect_type
	EventTime      time.Time         // platform event time, second precision
	SubscriptionID int64             // subscription_id, zero when absent
	Updates        map[string]string // changed fields on update deliveries
	RawPayload     []byte            // body as received, kept for the audit log
	ReceivedAt     time.Time
}

// IsActivity reports whether the event concerns an activity.
func (e InboundEvent) IsActivity() bool {
	return e.ObjectType == ObjectActivity
}

// ListQuery selects a page of a principal's activities.
type ListQuery struct {
	Page    int
	PerPage int
	After   time.Time // zero means unbounded
	Before  time.Time // zero means unbounded
}
