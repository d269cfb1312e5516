package sds

import (
	"fmt"
	"path/filepath"
	"time"
)

// DayFileName returns the SDS file name for one UTC day of one stream:
// NET.STA.LOC.CHA.D.YYYY.DOY with the day of year zero-padded to three
// digits.
func DayFileName(key StreamKey, year, doy int) string {
	return fmt.Sprintf("%s.%s.%s.%s.D.%d.%03d",
		key.Network, key.Station, key.Location, key.Channel, year, doy)
}

// DayFilePath returns the full path of a day file below root:
// <root>/<YYYY>/<NET>/<STA>/<CHA>.D/<NET>.<STA>.<LOC>.<CHA>.D.<YYYY>.<DOY>
func DayFilePath(root string, key StreamKey, year, doy int) string {
	return filepath.Join(
		root,
		fmt.Sprintf("%d", year),
		key.Network,
		key.Station,
		key.Channel+".D",
		DayFileName(key, year, doy),
	)
}

// DayOf returns the UTC year and day-of-year containing t.
func DayOf(t time.Time) (year, doy int) {
	u := t.UTC()
	return u.Year(), u.YearDay()
}

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStart returns midnight UTC of the day after the one containing t.
func NextDayStart(t time.Time) time.Time {
	return DayStart(t).Add(24 * time.Hour)
}
