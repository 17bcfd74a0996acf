package model

import "time"

// Activity is the local copy of a remote activity.
// Pointer fields are only supplied by detail payloads; nil keeps the stored value.
type Activity struct {
	ID                 int64
	OwnerID            int64
	Name               string
	Type               string
	SportType          string
	StartDate          time.Time
	StartDateLocal     time.Time
	Timezone           string
	Distance           float64 // meters
	MovingTime         int64   // seconds
	ElapsedTime        int64   // seconds
	TotalElevationGain float64 // meters
	AverageSpeed       float64 // meters per second
	MaxSpeed           float64 // meters per second
	KudosCount         int64

	AverageHeartrate *float64
	MaxHeartrate     *float64
	AverageWatts     *float64
	AverageCadence   *float64
	Calories         *float64
	DeviceName       *string
	GearID           *string

	LastSyncedAt time.Time
}

// Totals aggregates stored activities of one owner.
type Totals struct {
	OwnerID       int64
	Count         int64
	Distance      float64
	MovingTime    int64
	ElevationGain float64
}
