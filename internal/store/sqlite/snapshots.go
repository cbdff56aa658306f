package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"directindex/internal/model"
)

// SavePortfolio appends a new portfolio snapshot version.
func (s *Store) SavePortfolio(p model.Portfolio) error {
	return s.saveSnapshot("portfolio_snapshots", p)
}

// LatestPortfolio loads the most recent portfolio snapshot. The bool is
// false when no snapshot exists yet.
func (s *Store) LatestPortfolio() (model.Portfolio, bool, error) {
	var p model.Portfolio
	ok, err := s.latestSnapshot("portfolio_snapshots", &p)
	return p, ok, err
}

// SaveDesired appends a new desired-portfolio version.
func (s *Store) SaveDesired(d model.DesiredPortfolio) error {
	return s.saveSnapshot("desired_snapshots", d)
}

// LatestDesired loads the most recent desired portfolio.
func (s *Store) LatestDesired() (model.DesiredPortfolio, bool, error) {
	var d model.DesiredPortfolio
	ok, err := s.latestSnapshot("desired_snapshots", &d)
	return d, ok, err
}

func (s *Store) saveSnapshot(table string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, table), string(data)); err != nil {
		return fmt.Errorf("sqlite insert %s: %w", table, err)
	}

	// Prune old versions — keep last snapshotKeep
	_, err = s.db.Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT %d)`,
		table, table, snapshotKeep))
	if err != nil {
		log.Printf("[sqlite] prune %s warning: %v", table, err)
	}
	return nil
}

func (s *Store) latestSnapshot(table string, v any) (bool, error) {
	var data string
	err := s.db.QueryRow(fmt.Sprintf(`SELECT data FROM %s ORDER BY id DESC LIMIT 1`, table)).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite read %s: %w", table, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", table, err)
	}
	return true, nil
}
