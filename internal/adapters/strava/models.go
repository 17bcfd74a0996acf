package strava

import (
	"time"

	"github.com/okian/stravasync/internal/domain/model"
)

// apiActivity is the activity payload of the REST API. Summary payloads from
// list endpoints omit the pointer fields.
type apiActivity struct {
	ID                 int64      `json:"id"`
	Athlete            apiAthlete `json:"athlete"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	SportType          string     `json:"sport_type"`
	StartDate          time.Time  `json:"start_date"`
	StartDateLocal     time.Time  `json:"start_date_local"`
	Timezone           string     `json:"timezone"`
	Distance           float64    `json:"distance"`             // meters
	MovingTime         int64      `json:"moving_time"`          // seconds
	ElapsedTime        int64      `json:"elapsed_time"`         // seconds
	TotalElevationGain float64    `json:"total_elevation_gain"` // meters
	AverageSpeed       float64    `json:"average_speed"`        // m/s
	MaxSpeed           float64    `json:"max_speed"`            // m/s
	KudosCount         int64      `json:"kudos_count"`
	AverageHeartrate   *float64   `json:"average_heartrate"`
	MaxHeartrate       *float64   `json:"max_heartrate"`
	AverageWatts       *float64   `json:"average_watts"`
	AverageCadence     *float64   `json:"average_cadence"`
	Calories           *float64   `json:"calories"`
	DeviceName         *string    `json:"device_name"`
	GearID             *string    `json:"gear_id"`
}

type apiAthlete struct {
	ID int64 `json:"id"`
}

func (a apiActivity) toModel() model.Activity {
	return model.Activity{
		ID:                 a.ID,
		OwnerID:            a.Athlete.ID,
		Name:               a.Name,
		Type:               a.Type,
		SportType:          a.SportType,
		StartDate:          a.StartDate,
		StartDateLocal:     a.StartDateLocal,
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
	}
}
