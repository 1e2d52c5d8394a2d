package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/fetch/internal/config"
	"github.com/italolelis/fetch/internal/storage/sqlite"
)

var errUnknownRun = errors.New("no attempts recorded for run")

// listHistory prints the recorded attempts of cfg.HistoryRunID as a table.
func listHistory(ctx context.Context, cfg *config.Config, w io.Writer) error {
	database, err := sqlite.InitDB(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer database.Close()

	records, err := sqlite.NewAttemptRepository(database).ListAttempts(ctx, cfg.HistoryRunID)
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}

	if len(records) == 0 {
		return fmt.Errorf("%w: %s", errUnknownRun, cfg.HistoryRunID)
	}

	fmt.Fprintf(w, "run %s: %s -> %s\n", cfg.HistoryRunID, records[0].URL, records[0].Destination)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPT\tSTATUS\tCODE\tSIZE\tDURATION\tERROR")

	for _, rec := range records {
		code := "-"
		if rec.StatusCode != 0 {
			code = strconv.Itoa(rec.StatusCode)
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.Attempt,
			rec.Status,
			code,
			humanize.Bytes(uint64(rec.Bytes)),
			rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond),
			rec.Error,
		)
	}

	return tw.Flush()
}
