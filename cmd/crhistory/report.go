package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/loykin/crthrottle/internal/visits"
)

// Columns picks the fields printed per visit, in this order.
type Columns struct {
	VisitID       bool
	URLID         bool
	VisitTime     bool
	URL           bool
	URLBase       bool
	Title         bool
	VisitCount    bool
	LastVisitTime bool
}

func (c *Columns) register(f *pflag.FlagSet) {
	f.BoolVar(&c.VisitID, "show-visit-id", false, "show the visit ID")
	f.BoolVar(&c.URLID, "show-url-id", false, "show the URL ID")
	f.BoolVar(&c.VisitTime, "show-visit-time", false, "show the visit time")
	f.BoolVar(&c.URL, "show-url", false, "show the entire URL")
	f.BoolVar(&c.URLBase, "show-urlbase", false, "show the URL scheme, host and port")
	f.BoolVar(&c.Title, "show-title", false, "show the page title")
	f.BoolVar(&c.VisitCount, "show-visit-count", false, "show the number of visits to the URL")
	f.BoolVar(&c.LastVisitTime, "show-last-visit-time", false, "show the last visit time of the URL")
}

func (c Columns) any() bool {
	return c.VisitID || c.URLID || c.VisitTime || c.URL || c.URLBase || c.Title || c.VisitCount || c.LastVisitTime
}

func report(ctx context.Context, dsn string, q visits.Query, f *Flags, w io.Writer) error {
	store, err := visits.Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if q.OrderBy, err = visits.ParseOrderBy(f.OrderBy); err != nil {
		return err
	}
	rows, err := store.Query(ctx, q)
	if err != nil {
		return err
	}
	slog.Debug("history query", "file", dsn, "filters", len(q.Filters), "order_by", q.OrderBy, "rows", len(rows))

	if f.JSON {
		enc := json.NewEncoder(w)
		for _, v := range rows {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	}
	for _, v := range rows {
		if _, err := fmt.Fprintln(w, formatVisit(v, f.Show, f.ReportRawTimes)); err != nil {
			return err
		}
	}
	return nil
}

// formatVisit renders the selected columns separated by spaces, or every
// field separated by tabs when no column is selected.
func formatVisit(v visits.Visit, c Columns, raw bool) string {
	ts := func(us int64) string {
		if raw {
			return strconv.FormatInt(us, 10)
		}
		return visits.FormatTimestamp(us)
	}
	if !c.any() {
		return strings.Join([]string{
			strconv.FormatInt(v.ID, 10),
			strconv.FormatInt(v.URLID, 10),
			ts(v.VisitTime),
			strconv.FormatInt(v.FromVisit, 10),
			v.URL,
			v.Title,
			strconv.FormatInt(v.VisitCount, 10),
			ts(v.LastVisitTime),
			strconv.FormatBool(v.Hidden),
		}, "\t")
	}

	var cols []string
	add := func(on bool, s string) {
		if on {
			cols = append(cols, s)
		}
	}
	add(c.VisitID, strconv.FormatInt(v.ID, 10))
	add(c.URLID, strconv.FormatInt(v.URLID, 10))
	add(c.VisitTime, ts(v.VisitTime))
	add(c.URL, v.URL)
	add(c.URLBase, visits.URLBase(v.URL))
	add(c.Title, v.Title)
	add(c.VisitCount, strconv.FormatInt(v.VisitCount, 10))
	add(c.LastVisitTime, ts(v.LastVisitTime))
	return strings.Join(cols, " ")
}

func joinFields() string {
	return strings.Join(visits.Fields, ", ")
}
