package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"directindex/internal/model"
)

// SaveWeights replaces the constituent set stored for asOf.
func (s *Store) SaveWeights(asOf time.Time, ws []model.IndexWeight) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	day := asOf.Format(dayFormat)
	if _, err := tx.Exec(`DELETE FROM index_weights WHERE as_of = ?`, day); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO index_weights (as_of, ticker, weight) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, w := range ws {
		if _, err := stmt.Exec(day, w.Ticker, w.Weight); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LatestWeights loads the most recent constituent set. An empty store
// yields an empty slice and zero time.
func (s *Store) LatestWeights() ([]model.IndexWeight, time.Time, error) {
	var day sql.NullString
	if err := s.db.QueryRow(`SELECT MAX(as_of) FROM index_weights`).Scan(&day); err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite latest weights: %w", err)
	}
	if !day.Valid {
		return nil, time.Time{}, nil
	}

	asOf, err := time.Parse(dayFormat, day.String)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite weights as_of %q: %w", day.String, err)
	}

	rows, err := s.db.Query(`SELECT ticker, weight FROM index_weights WHERE as_of = ? ORDER BY ticker`, day.String)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("sqlite query weights: %w", err)
	}
	defer rows.Close()

	var ws []model.IndexWeight
	for rows.Next() {
		var w model.IndexWeight
		if err := rows.Scan(&w.Ticker, &w.Weight); err != nil {
			return nil, time.Time{}, fmt.Errorf("sqlite scan weight: %w", err)
		}
		ws = append(ws, w)
	}
	return ws, asOf, rows.Err()
}

// SaveInstruments upserts resolved ticker→conid mappings.
func (s *Store) SaveInstruments(ins []model.Instrument) error {
	if len(ins) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO instruments (ticker, conid, exchange, name) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, in := range ins {
		if _, err := stmt.Exec(in.Ticker, in.ConID, in.Exchange, in.Name); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Instruments returns all cached instrument resolutions, ticker-sorted.
func (s *Store) Instruments() ([]model.Instrument, error) {
	rows, err := s.db.Query(`SELECT ticker, conid, exchange, name FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var ins []model.Instrument
	for rows.Next() {
		var in model.Instrument
		if err := rows.Scan(&in.Ticker, &in.ConID, &in.Exchange, &in.Name); err != nil {
			return nil, fmt.Errorf("sqlite scan instrument: %w", err)
		}
		ins = append(ins, in)
	}
	return ins, rows.Err()
}

// AppendNAV records one NAV mark. Marks are keyed by day; a later mark
// the same day replaces the earlier one.
func (s *Store) AppendNAV(p model.NAVPoint) error {
	day := p.TS.UTC().Format(dayFormat)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO nav_history (day, ts, nav, index_return) VALUES (?, ?, ?, ?)`,
		day, p.TS.Unix(), p.NAV, p.IndexReturn)
	if err != nil {
		return fmt.Errorf("sqlite insert nav: %w", err)
	}
	return nil
}

// NAVs returns NAV marks at or after since, oldest first.
func (s *Store) NAVs(since time.Time) ([]model.NAVPoint, error) {
	rows, err := s.db.Query(`SELECT ts, nav, index_return FROM nav_history WHERE ts >= ? ORDER BY day ASC`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query nav: %w", err)
	}
	defer rows.Close()

	var points []model.NAVPoint
	for rows.Next() {
		var tsUnix int64
		var p model.NAVPoint
		if err := rows.Scan(&tsUnix, &p.NAV, &p.IndexReturn); err != nil {
			return nil, fmt.Errorf("sqlite scan nav: %w", err)
		}
		p.TS = time.Unix(tsUnix, 0).UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}
