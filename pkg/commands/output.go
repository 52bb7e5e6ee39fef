package commands

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/contentmigrate/migrate-framework/migration"
	"github.com/contentmigrate/migrate-framework/runner"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(header)

	return table
}

func writeReports(w io.Writer, reports []runner.Report) {
	if len(reports) == 0 {
		return
	}
	table := newTable(w, "Migration", "Operation", "State", "Processed", "Created", "Updated",
		"Skipped", "Failed", "Up to date", "Rolled back", "Error")
	for _, rep := range reports {
		errText := ""
		if rep.Err != nil {
			errText = rep.Err.Message
		}
		c := rep.Counts
		table.Append([]string{
			rep.Def.ID, string(rep.Operation), c.State,
			strconv.Itoa(c.Processed), strconv.Itoa(c.Created), strconv.Itoa(c.Updated),
			strconv.Itoa(c.Skipped), strconv.Itoa(c.Failed), strconv.Itoa(c.UpToDate),
			strconv.Itoa(c.RolledBack), errText,
		})
	}
	table.Render()
}

func writeStatuses(w io.Writer, statuses []runner.Status) {
	table := newTable(w, "Migration", "Status", "Total", "Imported", "Unprocessed", "Needs update",
		"Ignored", "Failed", "Last imported")
	for _, st := range statuses {
		state := "Idle"
		if st.Running {
			state = "Running"
		}
		lastImported := "-"
		if st.LastImport != nil && st.LastImport.Timestamp != nil {
			lastImported = st.LastImport.Timestamp.Format(time.RFC3339)
		}
		table.Append([]string{
			st.ID, state, countOrNA(st.Total), strconv.Itoa(st.IDMap.Imported), countOrNA(st.Unprocessed),
			strconv.Itoa(st.IDMap.NeedsUpdate), strconv.Itoa(st.IDMap.Ignored), strconv.Itoa(st.IDMap.Failed),
			lastImported,
		})
	}
	table.Render()
}

func writeDefinitions(w io.Writer, defs []migration.Definition) {
	table := newTable(w, "Migration", "Label", "Version", "Tags", "Requires", "Optional")
	for _, d := range defs {
		version := migration.DefaultVersion
		if d.Version != nil {
			version = d.Version.String()
		}
		table.Append([]string{
			d.ID, d.Label, version, strings.Join(d.Tags, ","),
			strings.Join(d.Dependencies.Required, ","), strings.Join(d.Dependencies.Optional, ","),
		})
	}
	table.Render()
}

// countOrNA renders the counts sources could not provide.
func countOrNA(n int) string {
	if n < 0 {
		return "n/a"
	}

	return strconv.Itoa(n)
}
