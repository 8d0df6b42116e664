package postgres

// SQL for profile cell storage.

const (
	// queryUpsertCell writes one cell; a rewrite of the same period replaces it.
	queryUpsertCell = `
		INSERT INTO profile_cells (
			row_key, family, qualifier, value, period_start, written_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (row_key, family, qualifier)
		DO UPDATE SET
			value        = EXCLUDED.value,
			period_start = EXCLUDED.period_start,
			written_at   = EXCLUDED.written_at,
			expires_at   = EXCLUDED.expires_at
	`

	// querySelectCells reads live cells of a set of rows.
	// A NULL expires_at never expires.
	querySelectCells = `
		SELECT row_key, family, qualifier, value, period_start, expires_at
		FROM profile_cells
		WHERE family = $1
		  AND row_key = ANY($2)
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY period_start ASC, qualifier ASC
	`

	queryPurgeExpired = `
		DELETE FROM profile_cells
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'profile_cells'
		)
	`
)
