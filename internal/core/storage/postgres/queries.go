package postgres

const (
	queryUpsertAggregate = `
		INSERT INTO window_aggregates (
			stream, window_id, kind, key, value, partitions, profile_fingerprint, written_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stream, window_id, kind, key)
		DO UPDATE SET
			value               = EXCLUDED.value,
			partitions          = EXCLUDED.partitions,
			profile_fingerprint = EXCLUDED.profile_fingerprint,
			written_at          = EXCLUDED.written_at
	`

	queryQueryWindow = `
		SELECT stream, window_id, kind, key, value, partitions, profile_fingerprint
		FROM window_aggregates
		WHERE stream = $1 AND window_id = $2 AND kind = $3
		ORDER BY key ASC
	`
)
