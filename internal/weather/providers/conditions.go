package providers

import "strings"

// Condition codes follow OpenWeatherMap's "main" group names so readings from
// different providers share one vocabulary.
const (
	conditionClear        = "Clear"
	conditionClouds       = "Clouds"
	conditionRain         = "Rain"
	conditionDrizzle      = "Drizzle"
	conditionSnow         = "Snow"
	conditionThunderstorm = "Thunderstorm"
	conditionMist         = "Mist"
	conditionFog          = "Fog"
)

func mapWeatherAPICondition(text string) string {
	switch {
	case text == "":
		return ""
	case contains(text, "thunder") || contains(text, "storm"):
		return conditionThunderstorm
	case contains(text, "drizzle"):
		return conditionDrizzle
	case contains(text, "rain") || contains(text, "shower"):
		return conditionRain
	case contains(text, "snow") || contains(text, "sleet") || contains(text, "blizzard") || contains(text, "ice"):
		return conditionSnow
	case contains(text, "fog"):
		return conditionFog
	case contains(text, "mist"):
		return conditionMist
	case contains(text, "cloud") || contains(text, "overcast"):
		return conditionClouds
	case contains(text, "sunny") || contains(text, "clear"):
		return conditionClear
	default:
		return text
	}
}

// mapOpenMeteoCondition maps WMO weather codes to a condition and description.
func mapOpenMeteoCondition(code int) (string, string) {
	switch {
	case code == 0:
		return conditionClear, "clear sky"
	case code >= 1 && code <= 3:
		return conditionClouds, "partly cloudy"
	case code == 45 || code == 48:
		return conditionFog, "fog"
	case code >= 51 && code <= 57:
		return conditionDrizzle, "drizzle"
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return conditionRain, "rain"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return conditionSnow, "snow"
	case code >= 95:
		return conditionThunderstorm, "thunderstorm"
	default:
		return "", ""
	}
}

func contains(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
