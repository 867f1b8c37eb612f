package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/arko05roy/swarm/internal/registry"
)

var jsonOut bool

// emit writes v as indented JSON when --json is set, otherwise calls text.
func emit(w io.Writer, v any, text func(io.Writer)) error {
	if !jsonOut {
		text(w)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetColumnSeparator("")
	t.SetHeaderLine(false)
	t.SetAutoWrapText(false)
	return t
}

func printListings(w io.Writer, ls []registry.Listing) {
	if len(ls) == 0 {
		fmt.Fprintln(w, "no agents")
		return
	}
	t := newTable(w, "ID", "NAME", "OWNER", "PRICE", "CALLS", "REP", "CAPABILITIES", "STATE")
	for _, l := range ls {
		state := "active"
		if !l.Active {
			state = "paused"
		}
		t.Append([]string{
			l.ID,
			l.Name,
			l.Owner,
			money(l.Pricing.BasePrice + l.Pricing.PricePerCall),
			humanize.Comma(l.Metadata.Calls),
			strconv.FormatFloat(l.Metadata.Reputation, 'f', 0, 64),
			strings.Join(l.Capabilities, ","),
			state,
		})
	}
	t.Render()
}

// money formats an amount without trailing zeros.
func money(v float64) string {
	return humanize.FtoaWithDigits(v, 6)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}
