package schema

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteSubmissionsCSV writes the dashboard export: one row per submission
// with the stopped-vehicle count and the summed spot offers.
func WriteSubmissionsCSV(w io.Writer, subs []*Submission) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"id", "operational_date", "unit_id", "stopped", "spot_total"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, sub := range subs {
		stopped := 0
		for _, vs := range sub.VehicleStatuses {
			if !vs.Running {
				stopped++
			}
		}
		spotTotal := 0
		for _, n := range sub.OfferCounts {
			spotTotal += n
		}

		row := []string{
			sub.ID,
			sub.OperationalDate,
			sub.UnitID,
			strconv.Itoa(stopped),
			strconv.Itoa(spotTotal),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", sub.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
