package db

func (d *DB) InsertUsageSnapshot(s UsageSnapshot) error {
	_, err := d.sql.Exec(`
		INSERT INTO usage_snapshots (
			ts_ms, poll_id, api_percent, auto_percent, total_percent,
			used, usage_limit, remaining, membership_type, detailed_total
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.TsMs, s.PollID, s.APIPercent, s.AutoPercent, s.TotalPercent,
		s.Used, s.Limit, s.Remaining, s.MembershipType, s.DetailedTotal,
	)
	return err
}

// GetLatestUsageSnapshot returns the newest snapshot, or nil if none exist.
func (d *DB) GetLatestUsageSnapshot() (*UsageSnapshot, error) {
	snaps, err := d.GetUsageSnapshots(1)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return &snaps[0], nil
}

// GetUsageSnapshots returns up to limit snapshots, newest first.
func (d *DB) GetUsageSnapshots(limit int) ([]UsageSnapshot, error) {
	rows, err := d.sql.Query(`
		SELECT id, ts_ms, poll_id, api_percent, auto_percent, total_percent,
			used, usage_limit, remaining, membership_type, detailed_total
		FROM usage_snapshots
		ORDER BY ts_ms DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []UsageSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// PruneUsageSnapshots keeps the newest keep snapshots and deletes the rest.
func (d *DB) PruneUsageSnapshots(keep int) error {
	_, err := d.sql.Exec(`
		DELETE FROM usage_snapshots WHERE id NOT IN (
			SELECT id FROM usage_snapshots ORDER BY ts_ms DESC, id DESC LIMIT ?
		)`, keep)
	return err
}

func scanSnapshot(row rowScanner) (UsageSnapshot, error) {
	var s UsageSnapshot
	err := row.Scan(
		&s.ID, &s.TsMs, &s.PollID, &s.APIPercent, &s.AutoPercent, &s.TotalPercent,
		&s.Used, &s.Limit, &s.Remaining, &s.MembershipType, &s.DetailedTotal,
	)
	return s, err
}
