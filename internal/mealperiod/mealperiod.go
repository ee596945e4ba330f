// Package mealperiod formats event timestamps and classifies them into the
// dining period they fall in.
//
// A formatted timestamp looks like "08:15 AM -- Oct 18, 2026". The first two
// characters hold the 12-hour clock hour, characters 6-7 hold AM/PM and the
// date starts at offset 12.
package mealperiod

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrMalformedTimestamp = errors.New("malformed timestamp")

const (
	Breakfast = "B"
	Lunch     = "L"
	Dinner    = "D"
	Extended  = "ED"
)

const (
	hourEnd     = 2
	periodStart = 6
	periodEnd   = 8
	dateStart   = 12
)

// Format renders t in the layout Classify understands. The hour is taken
// modulo 12, so noon and midnight are written as "00".
func Format(t time.Time) string {
	period := "AM"
	if t.Hour() >= 12 {
		period = "PM"
	}
	return fmt.Sprintf("%02d:%02d %s -- %s %02d, %d",
		t.Hour()%12, t.Minute(), period, t.Format("Jan"), t.Day(), t.Year())
}

// Classify returns the meal period code for ts followed by the date part of ts.
//
// Noon written as "12:xx PM" falls through every window and is classified as
// Extended. Format never produces that string (it writes "00:xx PM").
func Classify(ts string) (string, error) {
	hour, period, date, err := parse(ts)
	if err != nil {
		return "", err
	}

	var code string
	switch {
	case hour >= 7 && hour < 11 && period == "AM":
		code = Breakfast
	case (hour >= 11 && period == "AM") || (hour < 5 && period == "PM"):
		code = Lunch
	case hour >= 5 && hour < 9 && period == "PM":
		code = Dinner
	default:
		code = Extended
	}
	return code + date, nil
}

func parse(ts string) (hour int, period, date string, err error) {
	if len(ts) < dateStart || ts[hourEnd] != ':' {
		return 0, "", "", fmt.Errorf("%w: %q", ErrMalformedTimestamp, ts)
	}

	hour, err = strconv.Atoi(ts[:hourEnd])
	if err != nil || hour < 0 || hour > 12 {
		return 0, "", "", fmt.Errorf("%w: bad hour in %q", ErrMalformedTimestamp, ts)
	}

	period = ts[periodStart:periodEnd]
	if period != "AM" && period != "PM" {
		return 0, "", "", fmt.Errorf("%w: bad period in %q", ErrMalformedTimestamp, ts)
	}

	return hour, period, ts[dateStart:], nil
}
