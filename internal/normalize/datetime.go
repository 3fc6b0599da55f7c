package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	daySeconds  = 86400
	halfDaySecs = 12 * 3600
)

// Date formats accepted by the HTTP ingest endpoint
const (
	DateFormatNone  = "NONE"  // no date parameter, current time is used
	DateFormatEpoch = "EPOCH" // epoch seconds or milliseconds
	DateFormatYMD   = "YMD"
	DateFormatMDY   = "MDY"
	DateFormatDMY   = "DMY"
)

// dayNumber returns days since the Unix epoch for a calendar date
func dayNumber(year, month, day int) int64 {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Unix() / daySeconds
}

func expandYear(yy int) int {
	if yy < 100 {
		return yy + 2000
	}
	return yy
}

// timeOfDay splits an HHMMSS integer into seconds of day
func timeOfDay(hms int64) int64 {
	hh := (hms / 10000) % 100
	mm := (hms / 100) % 100
	ss := hms % 100
	return hh*3600 + mm*60 + ss
}

// reconcileDay shifts a nominal day number when two independently-clocked
// times of day disagree by more than 12 hours, indicating the reference
// time of day belongs to the adjacent calendar day.
//
//	refTOD 23:00 against gmtTOD 01:00 means GMT has already rolled into
//	the next day; 01:00 against 23:00 means it is still the previous one.
func reconcileDay(day, refTOD, gmtTOD int64) int64 {
	dif := refTOD - gmtTOD
	if dif < 0 {
		dif = -dif
	}
	if dif > halfDaySecs {
		if refTOD > gmtTOD {
			day++
		} else {
			day--
		}
	}
	return day
}

// UTCSecondsDMY computes UTC seconds from a DDMMYY date and an HHMMSS
// time, both GMT. A zero date infers the day from the current time using
// the 12-hour reconciliation rule.
func UTCSecondsDMY(dmy, hms int64, now time.Time) int64 {
	tod := timeOfDay(hms)

	var day int64
	if dmy > 0 {
		yy := expandYear(int(dmy % 100))
		mm := int((dmy / 100) % 100)
		dd := int((dmy / 10000) % 100)
		day = dayNumber(yy, mm, dd)
	} else {
		utc := now.UTC().Unix()
		day = reconcileDay(utc/daySeconds, utc%daySeconds, tod)
	}

	return day*daySeconds + tod
}

// UTCSecondsLocalGMT computes UTC seconds from a YYMMDDhhmmss value in the
// device's (unknown) local timezone and an HHMMSS time known to be GMT.
// The calendar day comes from the local value; when the two times of day
// are more than 12 hours apart the day is shifted across the boundary:
//
//	local 2011/07/10 23:00 with GMT 01:00 resolves to 2011/07/11 01:00 GMT
//	local 2011/07/10 01:00 with GMT 23:00 resolves to 2011/07/09 23:00 GMT
func UTCSecondsLocalGMT(locYMDhms, gmtHMS int64, now time.Time) int64 {
	gmtTOD := timeOfDay(gmtHMS)
	locTOD := timeOfDay(locYMDhms % 1000000)

	ymd := locYMDhms / 1000000
	var day int64
	if ymd > 0 {
		dd := int(ymd % 100)
		mm := int((ymd / 100) % 100)
		yy := expandYear(int((ymd / 10000) % 100))
		day = reconcileDay(dayNumber(yy, mm, dd), locTOD, gmtTOD)
	} else {
		utc := now.UTC().Unix()
		day = reconcileDay(utc/daySeconds, utc%daySeconds, gmtTOD)
	}

	return day*daySeconds + gmtTOD
}

// UTCSecondsTOD computes UTC seconds from a bare seconds-of-day value,
// inferring the day from the current time with the 12-hour rule. Used by
// protocols that report GPS time of day without a date.
func UTCSecondsTOD(tod int64, now time.Time) int64 {
	utc := now.UTC().Unix()
	day := reconcileDay(utc/daySeconds, utc%daySeconds, tod)
	return day*daySeconds + tod
}

var dateSeparators = strings.NewReplacer("-", "", "/", "", ".", "", ":", "", " ", "")

// ParseDate parses the HTTP ingest date/time parameters into UTC seconds.
// Dates are accepted with or without separators and with 2- or 4-digit
// years; times are HHMMSS, HHMM or HH with optional separators.
func ParseDate(format, dateStr, timeStr string, now time.Time) (int64, error) {
	switch format {
	case DateFormatNone, "":
		return now.UTC().Unix(), nil

	case DateFormatEpoch:
		epoch, err := strconv.ParseInt(strings.TrimSpace(dateStr), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid epoch date %q", dateStr)
		}
		if epoch > 99999999999 { // milliseconds
			epoch /= 1000
		}
		return epoch, nil

	case DateFormatYMD, DateFormatMDY, DateFormatDMY:
		digits := dateSeparators.Replace(strings.TrimSpace(dateStr))
		if digits == "" {
			// date parameter omitted entirely
			return now.UTC().Unix(), nil
		}
		var y, m, d int
		var err error
		switch len(digits) {
		case 8: // 4-digit year
			y, m, d, err = splitDate(digits, format, 4)
		case 6: // 2-digit year
			y, m, d, err = splitDate(digits, format, 2)
		default:
			return 0, fmt.Errorf("invalid date %q for format %s", dateStr, format)
		}
		if err != nil {
			return 0, err
		}

		tod, err := parseTimeOfDay(timeStr)
		if err != nil {
			return 0, err
		}

		return dayNumber(expandYear(y), m, d)*daySeconds + tod, nil
	}

	return 0, fmt.Errorf("unknown date format %q", format)
}

func splitDate(digits, format string, yearLen int) (y, m, d int, err error) {
	atoi := func(s string) int {
		v, aerr := strconv.Atoi(s)
		if aerr != nil {
			err = fmt.Errorf("invalid date digits %q", digits)
		}
		return v
	}

	switch format {
	case DateFormatYMD:
		y = atoi(digits[:yearLen])
		m = atoi(digits[yearLen : yearLen+2])
		d = atoi(digits[yearLen+2:])
	case DateFormatMDY:
		m = atoi(digits[:2])
		d = atoi(digits[2:4])
		y = atoi(digits[4:])
	case DateFormatDMY:
		d = atoi(digits[:2])
		m = atoi(digits[2:4])
		y = atoi(digits[4:])
	}
	if err != nil {
		return 0, 0, 0, err
	}
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return 0, 0, 0, fmt.Errorf("date %q out of range", digits)
	}
	return y, m, d, nil
}

func parseTimeOfDay(timeStr string) (int64, error) {
	digits := dateSeparators.Replace(strings.TrimSpace(timeStr))
	if digits == "" {
		return 0, nil
	}
	if len(digits)%2 != 0 || len(digits) > 6 {
		return 0, fmt.Errorf("invalid time %q", timeStr)
	}
	for len(digits) < 6 {
		digits += "00"
	}
	hms, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", timeStr)
	}
	return timeOfDay(hms), nil
}
