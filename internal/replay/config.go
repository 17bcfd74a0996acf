// Package replay generates and submits synthetic webhook deliveries to a
// running service, then reports how they were acknowledged.
package replay

import "time"

// Config holds configuration for a replay run.
type Config struct {
	BaseURL       string        // Base URL of the service
	NumEvents     int           // Number of distinct deliveries to generate
	Principals    []int64       // owner ids to spread events over
	DuplicateRate float64       // share of deliveries sent a second time, 0..1
	Workers       int           // Number of concurrent submitters
	Timeout       time.Duration // HTTP request timeout
	VerifyToken   string        // when set, the subscription challenge is checked first
	InputFile     string        // replay deliveries from this file instead of generating
	OutputFile    string        // write the submitted deliveries here
	Verbose       bool
}

// Delivery is one webhook push body.
type Delivery struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates"`
}

// Ack is the webhook response body.
type Ack struct {
	Status string `json:"status"`
}

// Stats holds run statistics.
type Stats struct {
	Generated int
	Submitted int
	Accepted  int
	Duplicate int
	Dropped   int
	Rejected  int // 4xx answers
	Failed    int // transport errors and 5xx answers
	StartTime time.Time
	Duration  time.Duration
}
