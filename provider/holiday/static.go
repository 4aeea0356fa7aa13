package holiday

import (
	"sort"
	"time"

	"featureflow/models"
)

type fixedDay struct {
	month time.Month
	day   int
	name  string
}

// easterOffset places a movable feast relative to Easter Sunday.
type easterOffset struct {
	days int
	name string
}

type nationalTable struct {
	fixed   []fixedDay
	movable []easterOffset
}

var nationalTables = map[string]nationalTable{
	"DE": {
		fixed: []fixedDay{
			{time.January, 1, "Neujahr"},
			{time.May, 1, "Tag der Arbeit"},
			{time.October, 3, "Tag der Deutschen Einheit"},
			{time.December, 25, "1. Weihnachtstag"},
			{time.December, 26, "2. Weihnachtstag"},
		},
		movable: []easterOffset{
			{-2, "Karfreitag"},
			{1, "Ostermontag"},
			{39, "Christi Himmelfahrt"},
			{50, "Pfingstmontag"},
		},
	},
	"AT": {
		fixed: []fixedDay{
			{time.January, 1, "Neujahr"},
			{time.January, 6, "Heilige Drei Könige"},
			{time.May, 1, "Staatsfeiertag"},
			{time.August, 15, "Mariä Himmelfahrt"},
			{time.October, 26, "Nationalfeiertag"},
			{time.November, 1, "Allerheiligen"},
			{time.December, 8, "Mariä Empfängnis"},
			{time.December, 25, "Christtag"},
			{time.December, 26, "Stefanitag"},
		},
		movable: []easterOffset{
			{1, "Ostermontag"},
			{39, "Christi Himmelfahrt"},
			{50, "Pfingstmontag"},
			{60, "Fronleichnam"},
		},
	},
	"CH": {
		fixed: []fixedDay{
			{time.January, 1, "Neujahr"},
			{time.August, 1, "Bundesfeiertag"},
			{time.December, 25, "Weihnachtstag"},
		},
		movable: []easterOffset{
			{39, "Auffahrt"},
		},
	},
}

var genericTable = nationalTable{
	fixed: []fixedDay{
		{time.January, 1, "New Year's Day"},
		{time.December, 25, "Christmas Day"},
		{time.December, 26, "St. Stephen's Day"},
	},
}

// EasterSunday computes Gregorian Easter with the anonymous algorithm.
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// StaticHolidays lists the national public holidays of country for year,
// sorted by date. Countries without a table get New Year and Christmas.
func StaticHolidays(country string, year int) []Holiday {
	table, ok := nationalTables[country]
	if !ok {
		table = genericTable
	}

	out := make([]Holiday, 0, len(table.fixed)+len(table.movable))
	for _, f := range table.fixed {
		d := time.Date(year, f.month, f.day, 0, 0, 0, 0, time.UTC)
		out = append(out, Holiday{Date: models.FormatDate(d), Name: f.name, Type: TypePublic})
	}
	if len(table.movable) > 0 {
		easter := EasterSunday(year)
		for _, m := range table.movable {
			out = append(out, Holiday{Date: models.FormatDate(easter.AddDate(0, 0, m.days)), Name: m.name, Type: TypePublic})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func staticCalendar(country string) func(int) []Holiday {
	return func(year int) []Holiday {
		return StaticHolidays(country, year)
	}
}
