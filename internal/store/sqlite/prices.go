package sqlite

import (
	"fmt"
	"time"
)

const dayFormat = "2006-01-02"

// WriteCloses upserts one day of closing prices in a single transaction.
func (s *Store) WriteCloses(date time.Time, closes map[string]float64) error {
	if len(closes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO daily_closes (ticker, day, close) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	day := date.Format(dayFormat)
	for ticker, px := range closes {
		if _, err := stmt.Exec(ticker, day, px); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// History returns, per ticker, up to days of the most recent closes
// oldest first. Tickers with no stored closes are absent from the map.
func (s *Store) History(tickers []string, days int) (map[string][]float64, error) {
	out := make(map[string][]float64, len(tickers))
	for _, ticker := range tickers {
		closes, err := s.tickerHistory(ticker, days)
		if err != nil {
			return nil, err
		}
		if len(closes) > 0 {
			out[ticker] = closes
		}
	}
	return out, nil
}

func (s *Store) tickerHistory(ticker string, days int) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT close FROM (
			SELECT day, close FROM daily_closes
			WHERE ticker = ?
			ORDER BY day DESC
			LIMIT ?
		) ORDER BY day ASC
	`, ticker, days)
	if err != nil {
		return nil, fmt.Errorf("sqlite query closes %s: %w", ticker, err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("sqlite scan close: %w", err)
		}
		closes = append(closes, c)
	}
	return closes, rows.Err()
}
