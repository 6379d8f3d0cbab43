// Package calendar implements the business-day calendar for the primary
// (AMRS) region and the weekend carry-forward rule that decides which store
// dates mirror a trading day's data.
//
// Holidays are pre-computed for 2020-2029 from the US federal holiday rules,
// with Saturday holidays observed on the preceding Friday and Sunday
// holidays on the following Monday. All functions are pure.
package calendar

import (
	"time"

	"fund-etl-service/internal/models"
)

const (
	holidayYearFrom = 2020
	holidayYearTo   = 2029
)

var holidays = buildHolidays()

// IsTradingDay reports whether the date is a trading day for the primary
// region: a weekday that is not a recognized holiday.
func IsTradingDay(date time.Time) bool {
	d := models.DateOnly(date)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !holidays[d]
}

// PriorTradingDay returns the most recent trading day strictly before the
// given date. Terminates because not all days are holidays.
func PriorTradingDay(date time.Time) time.Time {
	prior := models.DateOnly(date).AddDate(0, 0, -1)
	for !IsTradingDay(prior) {
		prior = prior.AddDate(0, 0, -1)
	}
	return prior
}

// IsPreWeekendDay reports whether the date is the trading day whose data is
// mirrored onto the following weekend. Source data is published per trading
// day; Friday's file must be visible under Saturday and Sunday for
// continuity queries. A Thursday before a Friday holiday is not mirrored;
// the holiday gap is closed by the carry-forward path instead.
func IsPreWeekendDay(date time.Time) bool {
	return models.DateOnly(date).Weekday() == time.Friday
}

// MirrorDates returns the weekend dates that mirror the given trading day,
// or nil when the date is not a pre-weekend day.
func MirrorDates(date time.Time) []time.Time {
	if !IsPreWeekendDay(date) {
		return nil
	}
	d := models.DateOnly(date)
	return []time.Time{d.AddDate(0, 0, 1), d.AddDate(0, 0, 2)}
}

// ExpandForWeekend applies the weekend carry-forward rule: when dataDate is
// a pre-weekend trading day, every record is duplicated with its date
// rewritten to each following weekend date, and the duplicates are appended
// to the original set. Otherwise the input is returned unchanged.
func ExpandForWeekend(records []*models.FundRecord, dataDate time.Time) []*models.FundRecord {
	mirrors := MirrorDates(dataDate)
	if len(mirrors) == 0 {
		return records
	}

	expanded := make([]*models.FundRecord, 0, len(records)*(1+len(mirrors)))
	expanded = append(expanded, records...)
	for _, mirror := range mirrors {
		for _, record := range records {
			expanded = append(expanded, record.WithDate(mirror))
		}
	}
	return expanded
}

// buildHolidays computes the observed US federal holiday set for the
// supported year span.
func buildHolidays() map[time.Time]bool {
	set := make(map[time.Time]bool)

	addObserved := func(d time.Time) {
		switch d.Weekday() {
		case time.Saturday:
			set[d.AddDate(0, 0, -1)] = true
		case time.Sunday:
			set[d.AddDate(0, 0, 1)] = true
		default:
			set[d] = true
		}
	}

	for year := holidayYearFrom; year <= holidayYearTo; year++ {
		// Fixed-date holidays, shifted when they land on a weekend.
		addObserved(date(year, time.January, 1))   // New Year's Day
		if year >= 2021 {
			addObserved(date(year, time.June, 19)) // Juneteenth
		}
		addObserved(date(year, time.July, 4))      // Independence Day
		addObserved(date(year, time.November, 11)) // Veterans Day
		addObserved(date(year, time.December, 25)) // Christmas Day

		// Floating holidays, always weekdays.
		set[nthWeekday(year, time.January, time.Monday, 3)] = true   // MLK Day
		set[nthWeekday(year, time.February, time.Monday, 3)] = true  // Presidents' Day
		set[lastWeekday(year, time.May, time.Monday)] = true         // Memorial Day
		set[nthWeekday(year, time.September, time.Monday, 1)] = true // Labor Day
		set[nthWeekday(year, time.October, time.Monday, 2)] = true   // Columbus Day
		set[nthWeekday(year, time.November, time.Thursday, 4)] = true // Thanksgiving
	}

	return set
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// nthWeekday returns the nth given weekday of the month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := date(year, month, 1)
	offset := (int(weekday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset+(n-1)*7)
}

// lastWeekday returns the last given weekday of the month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := date(year, month+1, 1).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset)
}
