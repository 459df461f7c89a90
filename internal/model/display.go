package model

import (
	"fmt"
	"time"
)

// DisplayEvent is the render-ready projection of an Event. Past status is
// computed when the projection is built, i.e. at render time.
type DisplayEvent struct {
	Time  string `json:"time"`
	Title string `json:"title"`
	Past  bool   `json:"past"`
}

// DisplayWeather carries pre-formatted weather strings so the render page
// never has to deal with missing fields.
type DisplayWeather struct {
	Temp     string `json:"temp"`
	HiLo     string `json:"hilo"`
	Humidity string `json:"humidity"`
	Icon     string `json:"icon"`
}

// DisplayModel is the full payload handed to the render backend.
type DisplayModel struct {
	User     string         `json:"user"`
	Clock    string         `json:"clock"`
	Date     string         `json:"date"`
	Weather  DisplayWeather `json:"weather"`
	Today    []DisplayEvent `json:"today"`
	Tomorrow []DisplayEvent `json:"tomorrow"`
}

// BuildDisplayModel projects app data into the shape the render backend
// consumes. now must already be in the user's timezone.
func BuildDisplayModel(userID string, data UserAppData, now time.Time) DisplayModel {
	return DisplayModel{
		User:     userID,
		Clock:    now.Format("15:04"),
		Date:     now.Format("Mon, 02 Jan"),
		Weather:  buildDisplayWeather(data.Weather),
		Today:    buildDisplayEvents(data.TodayEvents, now),
		Tomorrow: buildDisplayEvents(data.TomorrowEvents, now),
	}
}

func buildDisplayEvents(events []Event, now time.Time) []DisplayEvent {
	out := make([]DisplayEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, DisplayEvent{
			Time:  ev.DisplayTime,
			Title: ev.Title,
			Past:  ev.Past(now),
		})
	}
	return out
}

func buildDisplayWeather(w WeatherSnapshot) DisplayWeather {
	dw := DisplayWeather{
		Temp:     "--°C",
		HiLo:     "H:--° L:--°",
		Humidity: "Hum: --%",
		Icon:     w.IconClass,
	}
	if dw.Icon == "" {
		dw.Icon = "wi-na"
	}
	if w.Temperature != nil {
		dw.Temp = fmt.Sprintf("%.0f°C", *w.Temperature)
	}
	if w.High != nil && w.Low != nil {
		dw.HiLo = fmt.Sprintf("H:%.0f° L:%.0f°", *w.High, *w.Low)
	}
	if w.Humidity != nil {
		dw.Humidity = fmt.Sprintf("Hum: %.0f%%", *w.Humidity)
	}
	return dw
}
