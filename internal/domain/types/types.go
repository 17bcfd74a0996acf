// Package types contains the JSON read shapes served by the HTTP API.
package types

import (
	"time"

	"github.com/okian/stravasync/internal/domain/model"
)

// Activity is the API representation of a stored activity.
type Activity struct {
	ID                 int64     `json:"id"`
	OwnerID            int64     `json:"owner_id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type,omitempty"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Timezone           string    `json:"timezone,omitempty"`
	Distance           float64   `json:"distance"`
	MovingTime         int64     `json:"moving_time"`
	ElapsedTime        int64     `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	KudosCount         int64     `json:"kudos_count"`
	AverageHeartrate   *float64  `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64  `json:"max_heartrate,omitempty"`
	AverageWatts       *float64  `json:"average_watts,omitempty"`
	AverageCadence     *float64  `json:"average_cadence,omitempty"`
	Calories           *float64  `json:"calories,omitempty"`
	DeviceName         *string   `json:"device_name,omitempty"`
	GearID             *string   `json:"gear_id,omitempty"`
	LastSyncedAt       time.Time `json:"last_synced_at"`
}

// Totals is the API representation of an owner's aggregate.
type Totals struct {
	OwnerID       int64   `json:"owner_id"`
	Count         int64   `json:"count"`
	Distance      float64 `json:"distance"`
	MovingTime    int64   `json:"moving_time"`
	ElevationGain float64 `json:"elevation_gain"`
}

// SyncOutcome reports the result of a synchronous admin refresh.
type SyncOutcome struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FromActivity converts a domain activity.
func FromActivity(a model.Activity) Activity {
	return Activity{
		ID:                 a.ID,
		OwnerID:            a.OwnerID,
		Name:               a.Name,
		Type:               a.Type,
		SportType:          a.SportType,
		StartDate:          a.StartDate.UTC(),
		StartDateLocal:     a.StartDateLocal.UTC(),
		Timezone:           a.Timezone,
		Distance:           a.Distance,
		MovingTime:         a.MovingTime,
		ElapsedTime:        a.ElapsedTime,
		TotalElevationGain: a.TotalElevationGain,
		AverageSpeed:       a.AverageSpeed,
		MaxSpeed:           a.MaxSpeed,
		KudosCount:         a.KudosCount,
		AverageHeartrate:   a.AverageHeartrate,
		MaxHeartrate:       a.MaxHeartrate,
		AverageWatts:       a.AverageWatts,
		AverageCadence:     a.AverageCadence,
		Calories:           a.Calories,
		DeviceName:         a.DeviceName,
		GearID:             a.GearID,
		LastSyncedAt:       a.LastSyncedAt.UTC(),
	}
}

// FromTotals converts a domain aggregate.
func FromTotals(t model.Totals) Totals {
	return Totals(t)
}

// FromResult converts a sync result.
func FromResult(r model.SyncResult) SyncOutcome {
	out := SyncOutcome{Status: string(r.Status), Reason: string(r.Reason)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}
