package notify

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/MinaFoundation/uptime-service-validation/internal/store"
)

// WriteScoreboardCSV renders scoreboard rows as CSV with a header row,
// one line per producer.
func WriteScoreboardCSV(w io.Writer, rows []store.ScoreboardRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"producer_key", "score", "percentile", "last_updated"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ProducerKey,
			strconv.FormatFloat(row.Score, 'f', 2, 64),
			strconv.FormatFloat(row.Percentile, 'f', 2, 64),
			row.LastUpdated.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
