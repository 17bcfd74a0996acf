package replay

import (
	"crypto/rand"
	"math/big"
	"time"
)

// One in followUpOdds deliveries revisits an earlier activity; one in
// deleteOdds of those deletes it.
const (
	firstActivityID = 10_000_000_000
	followUpOdds    = 4
	deleteOdds      = 10
)

// randIntn returns a uniform value in [0, n).
func randIntn(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

func randFloat() float64 {
	return float64(randIntn(1_000_000)) / 1_000_000
}

// Generate builds n deliveries spread over principals. Most are creates of
// fresh activities; some are updates or deletes of earlier ones. Each
// delivery is repeated with probability dupRate, directly after itself.
func Generate(n int, principals []int64, dupRate float64, now time.Time) []Delivery {
	if n <= 0 || len(principals) == 0 {
		return nil
	}
	out := make([]Delivery, 0, n+int(float64(n)*dupRate)+1)
	base := now.Unix()
	var created []Delivery

	for i := 0; i < n; i++ {
		d := Delivery{
			ObjectType:     "activity",
			ObjectID:       firstActivityID + int64(i),
			AspectType:     "create",
			OwnerID:        principals[randIntn(int64(len(principals)))],
			SubscriptionID: 1,
			EventTime:      base + int64(i),
		}
		if len(created) > 0 && randIntn(followUpOdds) == 0 {
			prev := created[randIntn(int64(len(created)))]
			d.ObjectID, d.OwnerID = prev.ObjectID, prev.OwnerID
			if randIntn(deleteOdds) == 0 {
				d.AspectType = "delete"
			} else {
				d.AspectType = "update"
				d.Updates = map[string]string{"title": "Renamed activity"}
			}
		} else {
			created = append(created, d)
		}

		out = append(out, d)
		if randFloat() < dupRate {
			out = append(out, d)
		}
	}
	return out
}
