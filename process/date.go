package process

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// unixFormat is the format character for seconds since the epoch.
const unixFormat = "U"

// phpDateTokens maps the date format characters of migration definitions to Go layout
// elements.
var phpDateTokens = map[byte]string{
	'd': "02",
	'j': "2",
	'D': "Mon",
	'l': "Monday",
	'm': "01",
	'n': "1",
	'M': "Jan",
	'F': "January",
	'Y': "2006",
	'y': "06",
	'H': "15",
	'h': "03",
	'g': "3",
	'i': "04",
	's': "05",
	'A': "PM",
	'a': "pm",
	'T': "MST",
	'O': "-0700",
	'P': "-07:00",
	'c': "2006-01-02T15:04:05-07:00",
	'r': "Mon, 02 Jan 2006 15:04:05 -0700",
}

// dateLayout converts a date format such as "Y-m-d H:i:s" into a Go layout. A backslash makes
// the next character literal.
func dateLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' && i+1 < len(format) {
			i++
			b.WriteByte(format[i])

			continue
		}
		if tok, ok := phpDateTokens[c]; ok {
			b.WriteString(tok)
			continue
		}
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return "", fmt.Errorf("unsupported date format character %q", c)
		}
		b.WriteByte(c)
	}

	return b.String(), nil
}

// FormatDate converts a date from one format and timezone to another.
type FormatDate struct {
	fromFormat string
	toFormat   string
	fromLayout string
	toLayout   string
	fromLoc    *time.Location
	toLoc      *time.Location
}

// NewFormatDate is the Factory of the format_date plugin.
func NewFormatDate(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		FromFormat   string `yaml:"from_format"`
		ToFormat     string `yaml:"to_format"`
		FromTimezone string `yaml:"from_timezone"`
		ToTimezone   string `yaml:"to_timezone"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.FromFormat == "" || c.ToFormat == "" {
		return nil, errors.New("format_date: from_format and to_format are required")
	}

	f := &FormatDate{fromFormat: c.FromFormat, toFormat: c.ToFormat}
	var err error
	if c.FromFormat != unixFormat {
		if f.fromLayout, err = dateLayout(c.FromFormat); err != nil {
			return nil, fmt.Errorf("format_date: from_format: %w", err)
		}
	}
	if c.ToFormat != unixFormat {
		if f.toLayout, err = dateLayout(c.ToFormat); err != nil {
			return nil, fmt.Errorf("format_date: to_format: %w", err)
		}
	}
	if f.fromLoc, err = loadLocation(c.FromTimezone); err != nil {
		return nil, fmt.Errorf("format_date: from_timezone: %w", err)
	}
	if f.toLoc, err = loadLocation(c.ToTimezone); err != nil {
		return nil, fmt.Errorf("format_date: to_timezone: %w", err)
	}

	return f, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(name)
}

func (f *FormatDate) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if value.IsNull() || value.String() == "" {
		return row.Null(), nil
	}
	if !value.IsScalar() {
		return row.Null(), invalidInput("format_date", value, "a scalar")
	}

	var t time.Time
	if f.fromFormat == unixFormat {
		secs, ok := value.AsInt()
		if !ok {
			return row.Null(), fmt.Errorf("format_date: %q is not a timestamp", value.String())
		}
		t = time.Unix(secs, 0).In(f.fromLoc)
	} else {
		parsed, err := time.ParseInLocation(f.fromLayout, value.String(), f.fromLoc)
		if err != nil {
			return row.Null(), fmt.Errorf("format_date: %q does not match %q: %w", value.String(), f.fromFormat, err)
		}
		t = parsed
	}

	t = t.In(f.toLoc)
	if f.toFormat == unixFormat {
		return row.String(strconv.FormatInt(t.Unix(), 10)), nil
	}

	return row.String(t.Format(f.toLayout)), nil
}
