package weather

// WMO weather code → weather-icons CSS class, day variants. The render page
// maps these classes onto the icon font.
var iconDay = map[int]string{
	0:  "wi-day-sunny",
	1:  "wi-day-sunny-overcast",
	2:  "wi-day-cloudy",
	3:  "wi-cloudy",
	45: "wi-fog",
	48: "wi-day-fog",
	51: "wi-sprinkle",
	53: "wi-sprinkle",
	55: "wi-sprinkle",
	56: "wi-sprinkle",
	57: "wi-sprinkle",
	61: "wi-rain",
	63: "wi-rain",
	65: "wi-rain-wind",
	66: "wi-rain-wind",
	67: "wi-rain-wind",
	71: "wi-snow",
	73: "wi-snow",
	75: "wi-snowflake-cold",
	77: "wi-snow",
	80: "wi-showers",
	81: "wi-showers",
	82: "wi-showers",
	85: "wi-snow",
	86: "wi-snow",
	95: "wi-thunderstorm",
	96: "wi-thunderstorm",
	99: "wi-thunderstorm",
}

// Night overrides for the codes where a moon variant exists.
var iconNight = map[int]string{
	0: "wi-night-clear",
	1: "wi-night-alt-cloudy",
	2: "wi-night-alt-cloudy",
}

const iconUnknown = "wi-na"

// iconClass resolves a WMO weather code into an icon class, preferring the
// night variant outside daylight hours.
func iconClass(code *int, day bool) string {
	if code == nil {
		return iconUnknown
	}
	if !day {
		if c, ok := iconNight[*code]; ok {
			return c
		}
	}
	if c, ok := iconDay[*code]; ok {
		return c
	}
	return iconUnknown
}
