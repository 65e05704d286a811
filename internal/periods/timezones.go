package periods

import "time"

// marketplaceZones maps marketplace country codes to the IANA timezone the
// reporting API buckets data in. Reports for the US marketplace are bucketed
// in Pacific time regardless of the advertiser's own location; the other
// entries follow the marketplace's published reporting zone.
var marketplaceZones = map[string]string{
	"US": "America/Los_Angeles",
	"CA": "America/Toronto",
	"MX": "America/Mexico_City",
	"BR": "America/Sao_Paulo",
	"GB": "Europe/London",
	"UK": "Europe/London",
	"DE": "Europe/Berlin",
	"FR": "Europe/Paris",
	"IT": "Europe/Rome",
	"ES": "Europe/Madrid",
	"NL": "Europe/Amsterdam",
	"BE": "Europe/Brussels",
	"SE": "Europe/Stockholm",
	"PL": "Europe/Warsaw",
	"TR": "Europe/Istanbul",
	"EG": "Africa/Cairo",
	"SA": "Asia/Riyadh",
	"AE": "Asia/Dubai",
	"IN": "Asia/Kolkata",
	"JP": "Asia/Tokyo",
	"SG": "Asia/Singapore",
	"AU": "Australia/Sydney",
}

// Location resolves a marketplace country code to its reporting timezone.
// Unknown country codes and unloadable zones fall back to UTC; the function
// never fails so that cadence and calendar computation stay total.
func Location(countryCode string) *time.Location {
	name, ok := marketplaceZones[countryCode]
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
