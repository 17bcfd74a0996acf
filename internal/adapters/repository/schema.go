package repository

// schema is shared by both dialects. Times are stored as unix seconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS activities (
		id                   BIGINT PRIMARY KEY,
		owner_id             BIGINT NOT NULL,
		name                 TEXT NOT NULL DEFAULT '',
		type                 TEXT NOT NULL DEFAULT '',
		sport_type           TEXT NOT NULL DEFAULT '',
		start_date           BIGINT NOT NULL DEFAULT 0,
		start_date_local     BIGINT NOT NULL DEFAULT 0,
		timezone             TEXT NOT NULL DEFAULT '',
		distance             DOUBLE PRECISION NOT NULL DEFAULT 0,
		moving_time          BIGINT NOT NULL DEFAULT 0,
		elapsed_time         BIGINT NOT NULL DEFAULT 0,
		total_elevation_gain DOUBLE PRECISION NOT NULL DEFAULT 0,
		average_speed        DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_speed            DOUBLE PRECISION NOT NULL DEFAULT 0,
		kudos_count          BIGINT NOT NULL DEFAULT 0,
		average_heartrate    DOUBLE PRECISION,
		max_heartrate        DOUBLE PRECISION,
		average_watts        DOUBLE PRECISION,
		average_cadence      DOUBLE PRECISION,
		calories             DOUBLE PRECISION,
		device_name          TEXT,
		gear_id              TEXT,
		last_synced_at       BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_owner ON activities (owner_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		event_time      BIGINT NOT NULL,
		object_id       BIGINT NOT NULL,
		aspect_type     TEXT NOT NULL,
		object_type     TEXT NOT NULL,
		owner_id        BIGINT NOT NULL,
		subscription_id BIGINT NOT NULL DEFAULT 0,
		delivery_id     TEXT NOT NULL DEFAULT '',
		payload         TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		reason          TEXT NOT NULL DEFAULT '',
		error           TEXT NOT NULL DEFAULT '',
		received_at     BIGINT NOT NULL DEFAULT 0,
		processed_at    BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (event_time, object_id, aspect_type)
	)`,
	`CREATE TABLE IF NOT EXISTS credentials (
		principal_id  BIGINT PRIMARY KEY,
		access_token  TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at    BIGINT NOT NULL,
		updated_at    BIGINT NOT NULL DEFAULT 0
	)`,
}

const upsertActivitySQL = `
	INSERT INTO activities (
		id, owner_id, name, type, sport_type, start_date, start_date_local, timezone,
		distance, moving_time, elapsed_time, total_elevation_gain, average_speed, max_speed,
		kudos_count, average_heartrate, max_heartrate, average_watts, average_cadence,
		calories, device_name, gear_id, last_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		name = excluded.name,
		type = excluded.type,
		sport_type = excluded.sport_type,
		start_date = excluded.start_date,
		start_date_local = excluded.start_date_local,
		timezone = excluded.timezone,
		distance = excluded.distance,
		moving_time = excluded.moving_time,
		elapsed_time = excluded.elapsed_time,
		total_elevation_gain = excluded.total_elevation_gain,
		average_speed = excluded.average_speed,
		max_speed = excluded.max_speed,
		kudos_count = excluded.kudos_count,
		average_heartrate = COALESCE(excluded.average_heartrate, activities.average_heartrate),
		max_heartrate = COALESCE(excluded.max_heartrate, activities.max_heartrate),
		average_watts = COALESCE(excluded.average_watts, activities.average_watts),
		average_cadence = COALESCE(excluded.average_cadence, activities.average_cadence),
		calories = COALESCE(excluded.calories, activities.calories),
		device_name = COALESCE(excluded.device_name, activities.device_name),
		gear_id = COALESCE(excluded.gear_id, activities.gear_id),
		last_synced_at = excluded.last_synced_at`

const selectActivitySQL = `
	SELECT id, owner_id, name, type, sport_type, start_date, start_date_local, timezone,
		distance, moving_time, elapsed_time, total_elevation_gain, average_speed, max_speed,
		kudos_count, average_heartrate, max_heartrate, average_watts, average_cadence,
		calories, device_name, gear_id, last_synced_at
	FROM activities WHERE id = ?`

const deleteActivitySQL = `DELETE FROM activities WHERE id = ?`

const countActivitiesSQL = `SELECT COUNT(*) FROM activities`

const totalsSQL = `
	SELECT COUNT(*), COALESCE(SUM(distance), 0), COALESCE(SUM(moving_time), 0),
		COALESCE(SUM(total_elevation_gain), 0)
	FROM activities WHERE owner_id = ?`

const recordEventSQL = `
	INSERT INTO webhook_events (
		event_time, object_id, aspect_type, object_type, owner_id, subscription_id,
		delivery_id, payload, status, reason, error, received_at, processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_time, object_id, aspect_type) DO UPDATE SET
		delivery_id = excluded.delivery_id,
		payload = excluded.payload,
		status = excluded.status,
		reason = excluded.reason,
		error = excluded.error,
		received_at = excluded.received_at,
		processed_at = excluded.processed_at`

const saveCredentialSQL = `
	INSERT INTO credentials (principal_id, access_token, refresh_token, expires_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(principal_id) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at`

const loadCredentialsSQL = `
	SELECT principal_id, access_token, refresh_token, expires_at
	FROM credentials ORDER BY principal_id`
