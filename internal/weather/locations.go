package weather

import (
	"sort"
	"strings"
	"time"
)

// Location represents a tracked city and its settlement station.
type Location struct {
	Name       string   `json:"name" yaml:"name"`
	Aliases    []string `json:"aliases" yaml:"aliases"`
	Latitude   float64  `json:"latitude" yaml:"latitude"`
	Longitude  float64  `json:"longitude" yaml:"longitude"`
	TimezoneID string   `json:"timezone" yaml:"timezone"` // IANA timezone (e.g., "America/New_York")
	Station    string   `json:"station" yaml:"station"`   // ICAO code of the settlement station
	Unit       Unit     `json:"unit" yaml:"unit"`
}

// Key is the normalized store key for the city.
func (l *Location) Key() string {
	return strings.ToLower(l.Name)
}

// TZ loads the city's timezone, falling back to UTC.
func (l *Location) TZ() *time.Location {
	loc, err := time.LoadLocation(l.TimezoneID)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Today returns the city's current local date.
func (l *Location) Today(now time.Time) Date {
	return DateOf(now, l.TZ())
}

// AllCities contains the cities with daily high-temperature markets.
// US stations settle in Fahrenheit, everything else in Celsius.
var AllCities = []Location{
	{Name: "London", Aliases: []string{"lon", "伦敦"}, Latitude: 51.5074, Longitude: -0.1278, TimezoneID: "Europe/London", Station: "EGLC", Unit: Celsius},
	{Name: "Paris", Aliases: []string{"par", "巴黎"}, Latitude: 48.8566, Longitude: 2.3522, TimezoneID: "Europe/Paris", Station: "LFPG", Unit: Celsius},
	{Name: "Ankara", Aliases: []string{"ank", "安卡拉"}, Latitude: 39.9334, Longitude: 32.8597, TimezoneID: "Europe/Istanbul", Station: "LTAC", Unit: Celsius},
	{Name: "Seoul", Aliases: []string{"sel", "seo", "首尔"}, Latitude: 37.5665, Longitude: 126.9780, TimezoneID: "Asia/Seoul", Station: "RKSI", Unit: Celsius},
	{Name: "Toronto", Aliases: []string{"tor", "多伦多"}, Latitude: 43.6532, Longitude: -79.3832, TimezoneID: "America/Toronto", Station: "CYYZ", Unit: Celsius},
	{Name: "Wellington", Aliases: []string{"wel", "惠灵顿"}, Latitude: -41.2866, Longitude: 174.7756, TimezoneID: "Pacific/Auckland", Station: "NZWN", Unit: Celsius},
	{Name: "Buenos Aires", Aliases: []string{"ba", "布宜诺斯艾利斯"}, Latitude: -34.6037, Longitude: -58.3816, TimezoneID: "America/Argentina/Buenos_Aires", Station: "SAEZ", Unit: Celsius},
	{Name: "New York", Aliases: []string{"nyc", "ny", "纽约"}, Latitude: 40.7812, Longitude: -73.9665, TimezoneID: "America/New_York", Station: "KLGA", Unit: Fahrenheit},
	{Name: "Chicago", Aliases: []string{"chi", "芝加哥"}, Latitude: 41.8781, Longitude: -87.6298, TimezoneID: "America/Chicago", Station: "KORD", Unit: Fahrenheit},
	{Name: "Seattle", Aliases: []string{"sea", "西雅图"}, Latitude: 47.6062, Longitude: -122.3321, TimezoneID: "America/Los_Angeles", Station: "KSEA", Unit: Fahrenheit},
	{Name: "Miami", Aliases: []string{"mia", "迈阿密"}, Latitude: 25.7617, Longitude: -80.1918, TimezoneID: "America/New_York", Station: "KMIA", Unit: Fahrenheit},
	{Name: "Atlanta", Aliases: []string{"atl", "亚特兰大"}, Latitude: 33.7490, Longitude: -84.3880, TimezoneID: "America/New_York", Station: "KATL", Unit: Fahrenheit},
	{Name: "Dallas", Aliases: []string{"dal", "达拉斯"}, Latitude: 32.7767, Longitude: -96.7970, TimezoneID: "America/Chicago", Station: "KDAL", Unit: Fahrenheit},
	{Name: "Los Angeles", Aliases: []string{"la", "洛杉矶"}, Latitude: 34.0522, Longitude: -118.2437, TimezoneID: "America/Los_Angeles", Station: "KLAX", Unit: Fahrenheit},
}

// Directory resolves user input to a Location.
type Directory struct {
	cities []Location
}

// NewDirectory builds a directory from cities. Later entries with the same
// name replace earlier ones.
func NewDirectory(cities []Location) *Directory {
	byKey := make(map[string]int)
	d := &Directory{}
	for _, c := range cities {
		if c.Unit == "" {
			c.Unit = Celsius
		}
		if i, ok := byKey[c.Key()]; ok {
			d.cities[i] = c
			continue
		}
		byKey[c.Key()] = len(d.cities)
		d.cities = append(d.cities, c)
	}
	return d
}

// All returns the cities sorted by name.
func (d *Directory) All() []Location {
	out := append([]Location(nil), d.cities...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find resolves name by exact alias, then full name, then prefix (at least
// two characters) over aliases and names.
func (d *Directory) Find(name string) *Location {
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return nil
	}
	for i := range d.cities {
		for _, alias := range d.cities[i].Aliases {
			if strings.ToLower(alias) == q {
				return &d.cities[i]
			}
		}
	}
	for i := range d.cities {
		if d.cities[i].Key() == q {
			return &d.cities[i]
		}
	}
	if len(q) < 2 {
		return nil
	}
	for i := range d.cities {
		for _, alias := range d.cities[i].Aliases {
			if strings.HasPrefix(strings.ToLower(alias), q) {
				return &d.cities[i]
			}
		}
	}
	for i := range d.cities {
		if strings.HasPrefix(d.cities[i].Key(), q) {
			return &d.cities[i]
		}
	}
	return nil
}
