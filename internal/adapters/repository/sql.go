package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/stravasync/internal/domain/model"
	"github.com/okian/stravasync/pkg/logger"
	"github.com/okian/stravasync/pkg/metrics"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql for both supported dialects.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	timeout time.Duration
	now     func() time.Time
	logger  logger.Logger
}

func newSQLStore(db *sql.DB, d dialect, opts ...Option) *sqlStore {
	s := &sqlStore{
		db:      db,
		dialect: d,
		timeout: DefaultOperationTimeout,
		now:     time.Now,
		logger:  logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// migrate creates missing tables.
func (s *sqlStore) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordRepositoryError(op)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n, nil
}

func (s *sqlStore) UpsertActivity(ctx context.Context, a model.Activity) (int64, error) {
	return s.exec(ctx, "upsert_activity", upsertActivitySQL,
		a.ID, a.OwnerID, a.Name, a.Type, a.SportType,
		unix(a.StartDate), unix(a.StartDateLocal), a.Timezone,
		a.Distance, a.MovingTime, a.ElapsedTime, a.TotalElevationGain,
		a.AverageSpeed, a.MaxSpeed, a.KudosCount,
		nullFloat(a.AverageHeartrate), nullFloat(a.MaxHeartrate), nullFloat(a.AverageWatts),
		nullFloat(a.AverageCadence), nullFloat(a.Calories),
		nullString(a.DeviceName), nullString(a.GearID),
		unix(a.LastSyncedAt),
	)
}

func (s *sqlStore) DeleteActivity(ctx context.Context, id int64) (int64, error) {
	return s.exec(ctx, "delete_activity", deleteActivitySQL, id)
}

func (s *sqlStore) GetActivity(ctx context.Context, id int64) (model.Activity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		a                                            model.Activity
		startDate, startDateLocal, lastSynced        int64
		avgHR, maxHR, avgWatts, avgCadence, calories sql.NullFloat64
		deviceName, gearID                           sql.NullString
	)
	start := time.Now()
	err := s.db.QueryRowContext(ctx, s.rebind(selectActivitySQL), id).Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Type, &a.SportType, &startDate, &startDateLocal, &a.Timezone,
		&a.Distance, &a.MovingTime, &a.ElapsedTime, &a.TotalElevationGain, &a.AverageSpeed, &a.MaxSpeed,
		&a.KudosCount, &avgHR, &maxHR, &avgWatts, &avgCadence,
		&calories, &deviceName, &gearID, &lastSynced,
	)
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Activity{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordRepositoryError("get_activity")
		return model.Activity{}, fmt.Errorf("get_activity: %w", err)
	}

	a.StartDate = fromUnix(startDate)
	a.StartDateLocal = fromUnix(startDateLocal)
	a.LastSyncedAt = fromUnix(lastSynced)
	a.AverageHeartrate = floatPtr(avgHR)
	a.MaxHeartrate = floatPtr(maxHR)
	a.AverageWatts = floatPtr(avgWatts)
	a.AverageCadence = floatPtr(avgCadence)
	a.Calories = floatPtr(calories)
	a.DeviceName = stringPtr(deviceName)
	a.GearID = stringPtr(gearID)
	return a, nil
}

func (s *sqlStore) CountActivities(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int64
	start := time.Now()
	err := s.db.QueryRowContext(ctx, countActivitiesSQL).Scan(&n)
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordRepositoryError("count_activities")
		return 0, fmt.Errorf("count_activities: %w", err)
	}
	return n, nil
}

func (s *sqlStore) Totals(ctx context.Context, ownerID int64) (model.Totals, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	t := model.Totals{OwnerID: ownerID}
	var movingTime float64
	start := time.Now()
	err := s.db.QueryRowContext(ctx, s.rebind(totalsSQL), ownerID).
		Scan(&t.Count, &t.Distance, &movingTime, &t.ElevationGain)
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordRepositoryError("totals")
		return model.Totals{}, fmt.Errorf("totals: %w", err)
	}
	t.MovingTime = int64(movingTime)
	return t, nil
}

func (s *sqlStore) RecordWebhookEvent(ctx context.Context, e model.InboundEvent, r model.SyncResult) error {
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	_, err := s.exec(ctx, "record_webhook_event", recordEventSQL,
		e.EventTime.Unix(), e.EntityID, string(e.Kind), string(e.ObjectType), e.PrincipalID,
		e.SubscriptionID, e.DeliveryID, string(e.RawPayload),
		string(r.Status), string(r.Reason), errText,
		unix(e.ReceivedAt), s.now().Unix(),
	)
	return err
}

func (s *sqlStore) SaveCredential(ctx context.Context, c model.Credential) error {
	_, err := s.exec(ctx, "save_credential", saveCredentialSQL,
		c.PrincipalID, c.AccessToken, c.RefreshToken, c.ExpiresAt.Unix(), s.now().Unix(),
	)
	return err
}

func (s *sqlStore) LoadCredentials(ctx context.Context) ([]model.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, loadCredentialsSQL)
	if err != nil {
		metrics.RecordRepositoryError("load_credentials")
		return nil, fmt.Errorf("load_credentials: %w", err)
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		var c model.Credential
		var expires int64
		if err := rows.Scan(&c.PrincipalID, &c.AccessToken, &c.RefreshToken, &expires); err != nil {
			return nil, fmt.Errorf("load_credentials: scanning: %w", err)
		}
		c.ExpiresAt = time.Unix(expires, 0)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load_credentials: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
