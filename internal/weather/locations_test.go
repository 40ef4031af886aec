package weather

import "testing"

func TestDirectory_Find(t *testing.T) {
	dir := NewDirectory(AllCities)

	tests := []struct {
		input string
		want  string
	}{
		{"nyc", "New York"},
		{"伦敦", "London"},
		{"Ankara", "Ankara"},
		{"  buenos aires ", "Buenos Aires"},
		{"dal", "Dallas"},
		{"seat", "Seattle"},
		{"wellin", "Wellington"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			loc := dir.Find(tt.input)
			if loc == nil {
				t.Fatalf("Find(%q) = nil, want %s", tt.input, tt.want)
			}
			if loc.Name != tt.want {
				t.Errorf("Find(%q) = %s, want %s", tt.input, loc.Name, tt.want)
			}
		})
	}

	for _, miss := range []string{"", "x", "atlantis"} {
		if loc := dir.Find(miss); loc != nil {
			t.Errorf("Find(%q) = %s, want nil", miss, loc.Name)
		}
	}
}

func TestNewDirectory_OverridesByName(t *testing.T) {
	custom := append([]Location(nil), AllCities...)
	custom = append(custom,
		Location{Name: "ankara", TimezoneID: "Europe/Istanbul", Station: "LTBA"},
		Location{Name: "Reykjavik", TimezoneID: "Atlantic/Reykjavik"},
	)
	dir := NewDirectory(custom)

	if got := len(dir.All()); got != len(AllCities)+1 {
		t.Errorf("cities = %d, want %d", got, len(AllCities)+1)
	}
	if loc := dir.Find("ankara"); loc == nil || loc.Station != "LTBA" {
		t.Errorf("expected override station LTBA, got %+v", loc)
	}
	if loc := dir.Find("reykjavik"); loc == nil || loc.Unit != Celsius {
		t.Errorf("expected default Celsius unit, got %+v", loc)
	}
}
