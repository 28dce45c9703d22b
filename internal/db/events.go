package db

// RecordConnectionEvent logs a bridge connection transition.
func (db *DB) RecordConnectionEvent(bridge string, connected bool, kind, message string) error {
	_, err := db.Exec(
		"INSERT INTO connection_events (bridge, connected, kind, message) VALUES (?, ?, ?, ?)",
		bridge, boolInt(connected), kind, message)
	return err
}

// RecordModeEvent logs a controller mode starting or stopping.
func (db *DB) RecordModeEvent(mode string, enabled bool) error {
	_, err := db.Exec(
		"INSERT INTO mode_events (mode, enabled) VALUES (?, ?)",
		mode, boolInt(enabled))
	return err
}

// RecordDriftCorrection logs an applied scan-match correction and the
// resulting total offset.
func (db *DB) RecordDriftCorrection(dx, dz, totalDx, totalDz float64) error {
	_, err := db.Exec(
		"INSERT INTO drift_corrections (dx, dz, total_dx, total_dz) VALUES (?, ?, ?, ?)",
		dx, dz, totalDx, totalDz)
	return err
}

// RecordRemoteCommand logs a remote command and its outcome.
func (db *DB) RecordRemoteCommand(command string, ok bool, errMsg string) error {
	_, err := db.Exec(
		"INSERT INTO remote_commands (command, ok, error) VALUES (?, ?, ?)",
		command, boolInt(ok), errMsg)
	return err
}

// ConnectionEvent is one row of the connection_events table.
type ConnectionEvent struct {
	Bridge    string
	Connected bool
	Kind      string
	Message   string
}

// RecentConnectionEvents returns up to limit newest-first connection events.
func (db *DB) RecentConnectionEvents(limit int) ([]ConnectionEvent, error) {
	rows, err := db.Query(
		"SELECT bridge, connected, kind, message FROM connection_events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		var connected int
		if err := rows.Scan(&e.Bridge, &connected, &e.Kind, &e.Message); err != nil {
			return nil, err
		}
		e.Connected = connected != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
