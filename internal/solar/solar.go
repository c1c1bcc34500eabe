// Package solar computes sunrise and sunset with the sunrise equation.
// Accuracy is within a couple of minutes, which is plenty for switching a
// desktop theme.
package solar

import (
	"math"
	"time"
)

const (
	j2000      = 2451545.0
	unixEpochJ = 2440587.5
	obliquity  = 23.4397
	// Apparent sunrise: refraction plus the solar disc radius.
	horizon = -0.833
)

// Day is the solar schedule of one calendar date.
type Day struct {
	Sunrise time.Time
	Sunset  time.Time
	Noon    time.Time

	// Polar is set when the sun does not cross the horizon that day.
	// PolarNight distinguishes the sun staying below from staying above.
	Polar      bool
	PolarNight bool
}

// Compute returns the schedule for the calendar date of date in its own
// location. Latitude is north positive, longitude east positive.
func Compute(date time.Time, lat, lon float64) Day {
	y, m, d := date.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	jd0 := float64(midnight.Unix())/86400 + unixEpochJ

	n := math.Ceil(jd0 - j2000 + 0.0008)
	jStar := n - lon/360

	meanAnomaly := math.Mod(357.5291+0.98560028*jStar, 360)
	mRad := rad(meanAnomaly)
	center := 1.9148*math.Sin(mRad) + 0.0200*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)
	eclipticLon := math.Mod(meanAnomaly+center+180+102.9372, 360)
	lRad := rad(eclipticLon)

	transit := j2000 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lRad)

	sinDecl := math.Sin(lRad) * math.Sin(rad(obliquity))
	cosDecl := math.Cos(math.Asin(sinDecl))
	cosHour := (math.Sin(rad(horizon)) - math.Sin(rad(lat))*sinDecl) / (math.Cos(rad(lat)) * cosDecl)

	day := Day{Noon: fromJulian(transit)}
	switch {
	case cosHour > 1:
		day.Polar, day.PolarNight = true, true
		return day
	case cosHour < -1:
		day.Polar = true
		return day
	}

	hourAngle := deg(math.Acos(cosHour))
	day.Sunrise = fromJulian(transit - hourAngle/360)
	day.Sunset = fromJulian(transit + hourAngle/360)
	return day
}

// IsNight reports whether now falls outside daylight at the given position
// and returns the next instant at which that may change.
//
// The neighbouring dates are considered too, so the answer does not depend
// on now's location matching the coordinates.
func IsNight(now time.Time, lat, lon float64) (night bool, next time.Time) {
	night = true
	for offset := -1; offset <= 1; offset++ {
		day := Compute(now.AddDate(0, 0, offset), lat, lon)

		var start, end time.Time
		switch {
		case !day.Polar:
			start, end = day.Sunrise, day.Sunset
		case !day.PolarNight:
			start, end = day.Noon.Add(-12*time.Hour), day.Noon.Add(12*time.Hour)
		default:
			continue
		}

		if !now.Before(start) && now.Before(end) {
			night = false
		}
		for _, b := range []time.Time{start, end} {
			if b.After(now) && (next.IsZero() || b.Before(next)) {
				next = b
			}
		}
	}
	if next.IsZero() {
		next = now.Add(24 * time.Hour)
	}
	return night, next
}

func fromJulian(j float64) time.Time {
	secs := (j - unixEpochJ) * 86400
	whole := math.Floor(secs)
	return time.Unix(int64(whole), int64((secs-whole)*1e9)).UTC()
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
