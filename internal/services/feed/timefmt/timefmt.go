// Package timefmt renders feed timestamps as relative or calendar labels.
package timefmt

import (
	"time"

	"github.com/louisbranch/snapfeed/internal/platform/i18n/catalog"
)

const (
	msPerMinute = int64(60 * 1000)
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

const (
	keyJustNow    = "feed.date.just_now"
	keyMinutesAgo = "feed.date.minutes_ago"
	keyHoursAgo   = "feed.date.hours_ago"
	keyDaysAgo    = "feed.date.days_ago"
	keyLongLayout = "feed.date.long_layout"
)

// Formatter renders timestamps for one locale.
type Formatter struct {
	// Locale selects the message catalog; unknown locales fall back to en-US.
	Locale string
	// Now reports the current time. Nil means time.Now.
	Now func() time.Time
	// Location is used for calendar dates. Nil means time.Local.
	Location *time.Location
}

// NewFormatter returns a Formatter for locale using the wall clock.
func NewFormatter(locale string) Formatter {
	return Formatter{Locale: locale}
}

// FormatDate formats date in the base locale relative to the wall clock.
func FormatDate(date time.Time) string {
	return Formatter{}.Format(date)
}

// Format returns "just now" under a minute, then whole minutes, hours and
// days (floored, no plural agreement) up to a week, and a long calendar date
// after that. Future dates read as "just now".
func (f Formatter) Format(date time.Time) string {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	diff := now().Sub(date).Milliseconds()

	bundle := catalog.Default()
	printer := bundle.Printer(f.Locale)

	minutes := floorDiv(diff, msPerMinute)
	hours := floorDiv(diff, msPerHour)
	days := floorDiv(diff, msPerDay)
	switch {
	case minutes < 1:
		return printer.Sprintf(keyJustNow)
	case minutes < 60:
		return printer.Sprintf(keyMinutesAgo, minutes)
	case hours < 24:
		return printer.Sprintf(keyHoursAgo, hours)
	case days < 7:
		return printer.Sprintf(keyDaysAgo, days)
	}

	layout, ok := bundle.Message(bundle.Match(f.Locale), keyLongLayout)
	if !ok {
		layout = "January 2, 2006"
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return date.In(loc).Format(layout)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
