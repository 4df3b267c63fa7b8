package metservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAPI struct {
	obs      *LocalObs
	forecast *LocalForecast
	hourly   *HourlyObsAndForecast
	err      error

	obsCalls      int
	forecastCalls int
	hourlyCalls   int
}

func (f *fakeAPI) LocalObs(_ context.Context, _ string) (*LocalObs, error) {
	f.obsCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.obs, nil
}

func (f *fakeAPI) LocalForecast(_ context.Context, _ string) (*LocalForecast, error) {
	f.forecastCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.forecast, nil
}

func (f *fakeAPI) HourlyObsAndForecast(_ context.Context, _ string) (*HourlyObsAndForecast, error) {
	f.hourlyCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.hourly, nil
}

// 13:00 in Auckland (NZDT).
var middayNZ = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		obs: &LocalObs{ThreeHour: Observation{
			Temp:          "21",
			Pressure:      "1015",
			Humidity:      "68",
			WindSpeed:     "15",
			WindDirection: "SW",
		}},
		forecast: &LocalForecast{Days: []ForecastDay{
			{
				DateISO:      "2024-01-15T00:00:00+13:00",
				ForecastWord: "Partly cloudy",
				Max:          "24",
				Min:          "16",
				RiseSet: &RiseSet{
					SunRiseISO: "2024-01-15T06:15:00+13:00",
					SunSetISO:  "2024-01-15T20:40:00+13:00",
				},
			},
			{DateISO: "2024-01-16T00:00:00+13:00", ForecastWord: "Showers", Max: "22", Min: "15"},
			{DateISO: "2024-01-17T00:00:00+13:00", ForecastWord: "Hail", Max: "19.6", Min: "12"},
		}},
		hourly: &HourlyObsAndForecast{ForecastData: []HourlyForecast{
			{DateISO: "2024-01-15T14:00:00+13:00", RainFall: "0.4", Temperature: "21", WindDir: "SW", WindSpeed: "14"},
			{DateISO: "2024-01-15T15:00:00+13:00", RainFall: "0", Temperature: "22", WindDir: "W", WindSpeed: "18"},
		}},
	}
}

func newTestWeather(t *testing.T, mode Mode, api API) (*Weather, *clock.MockClock) {
	t.Helper()
	city, err := LookupCity("Auckland")
	require.NoError(t, err)
	c := clock.NewMockClock(middayNZ)
	return NewWeather(city, mode, api, c, zap.NewNop()), c
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDaily, mode)

	mode, err = ParseMode("hourly")
	require.NoError(t, err)
	assert.Equal(t, ModeHourly, mode)

	_, err = ParseMode("weekly")
	assert.Error(t, err)
}

func TestMapCondition(t *testing.T) {
	tests := []struct {
		word  string
		want  string
		known bool
	}{
		{"Partly cloudy", "partlycloudy", true},
		{"Few showers", "rainy", true},
		{"Wind rain", "rainy", true},
		{"Fine", "sunny", true},
		{"Thunder", "lightning", true},
		{"Fog", "fog", true},
		{"Windy", "windy", true},
		{"Hail", "sunny", false},
		{"", "sunny", false},
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			got, known := MapCondition(tt.word)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestWeather_UpdateDaily(t *testing.T) {
	api := newFakeAPI()
	w, _ := newTestWeather(t, ModeDaily, api)

	require.NoError(t, w.Update(context.Background()))

	r := w.Record()
	assert.Equal(t, "auckland_daily", r.UniqueID)
	assert.Equal(t, "Auckland", r.Name)
	assert.True(t, r.Available)
	assert.Equal(t, "partlycloudy", r.Condition)
	assert.Equal(t, 21, *r.Temperature)
	assert.Equal(t, 1015, *r.Pressure)
	assert.Equal(t, 68, *r.Humidity)
	assert.Equal(t, 15, *r.WindSpeed)
	assert.Equal(t, "SW", r.WindBearing)
	assert.Equal(t, "°C", r.TemperatureUnit)
	assert.Equal(t, Attribution, r.Attribution)
	assert.Equal(t, middayNZ, r.LastUpdate)

	require.Len(t, r.Forecast, 3)
	assert.Equal(t, "partlycloudy", r.Forecast[0].Condition)
	assert.Equal(t, 24, *r.Forecast[0].Temperature)
	assert.Equal(t, 16, *r.Forecast[0].TempLow)
	assert.True(t, r.Forecast[0].Datetime.Equal(time.Date(2024, 1, 14, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, "rainy", r.Forecast[1].Condition)
	// Unknown words fall back to sunny, decimals are rounded.
	assert.Equal(t, "sunny", r.Forecast[2].Condition)
	assert.Equal(t, 20, *r.Forecast[2].Temperature)
	assert.Nil(t, r.Forecast[0].Precipitation)

	assert.Equal(t, 0, api.hourlyCalls)
}

func TestWeather_UpdateHourly(t *testing.T) {
	api := newFakeAPI()
	w, _ := newTestWeather(t, ModeHourly, api)

	require.NoError(t, w.Update(context.Background()))

	r := w.Record()
	assert.Equal(t, "auckland_hourly", r.UniqueID)
	assert.Equal(t, "partlycloudy", r.Condition)
	require.Len(t, r.Forecast, 2)

	first := r.Forecast[0]
	assert.Empty(t, first.Condition)
	assert.Nil(t, first.TempLow)
	assert.Equal(t, 21, *first.Temperature)
	assert.InDelta(t, 0.4, *first.Precipitation, 1e-9)
	assert.Equal(t, "SW", first.WindBearing)
	assert.InDelta(t, 14.0, *first.WindSpeed, 1e-9)

	assert.Equal(t, 1, api.forecastCalls)
	assert.Equal(t, 1, api.hourlyCalls)
}

func TestWeather_ClearNight(t *testing.T) {
	api := newFakeAPI()
	w, c := newTestWeather(t, ModeDaily, api)
	require.NoError(t, w.Update(context.Background()))
	assert.Equal(t, "partlycloudy", w.Condition())

	// 23:00 in Auckland, after sunset.
	c.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, ConditionClearNight, w.Condition())

	// 05:00 in Auckland, before sunrise.
	c2 := clock.NewMockClock(time.Date(2024, 1, 14, 16, 0, 0, 0, time.UTC))
	city, _ := LookupCity("auckland")
	early := NewWeather(city, ModeDaily, api, c2, zap.NewNop())
	require.NoError(t, early.Update(context.Background()))
	assert.Equal(t, ConditionClearNight, early.Condition())
}

func TestWeather_ClearNightWithoutRiseSet(t *testing.T) {
	api := newFakeAPI()
	api.forecast.Days[0].RiseSet = nil
	w, c := newTestWeather(t, ModeDaily, api)

	require.NoError(t, w.Update(context.Background()))
	assert.Equal(t, "partlycloudy", w.Condition())

	c.Set(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, ConditionClearNight, w.Condition())
}

func TestWeather_Throttle(t *testing.T) {
	api := newFakeAPI()
	w, c := newTestWeather(t, ModeHourly, api)
	ctx := context.Background()

	require.NoError(t, w.Update(ctx))
	require.NoError(t, w.Update(ctx))
	assert.Equal(t, 1, api.obsCalls)
	assert.Equal(t, 1, api.forecastCalls)

	c.Advance(10 * time.Minute)
	require.NoError(t, w.Update(ctx))
	assert.Equal(t, 2, api.obsCalls)
	assert.Equal(t, 1, api.forecastCalls)

	c.Advance(20 * time.Minute)
	require.NoError(t, w.Update(ctx))
	assert.Equal(t, 3, api.obsCalls)
	assert.Equal(t, 2, api.forecastCalls)
	assert.Equal(t, 2, api.hourlyCalls)
}

func TestWeather_UpdateError(t *testing.T) {
	api := newFakeAPI()
	w, c := newTestWeather(t, ModeDaily, api)
	ctx := context.Background()

	require.NoError(t, w.Update(ctx))
	require.True(t, w.Available())

	c.Advance(30 * time.Minute)
	api.err = errors.New("503 Service Unavailable")
	err := w.Update(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auckland")
	assert.False(t, w.Available())

	// Failed fetches are not throttled.
	api.err = nil
	require.NoError(t, w.Update(ctx))
	assert.True(t, w.Available())
	assert.Equal(t, 3, api.obsCalls)
}

func TestWeather_EmptyForecast(t *testing.T) {
	api := newFakeAPI()
	api.forecast = &LocalForecast{}
	w, _ := newTestWeather(t, ModeDaily, api)

	require.Error(t, w.Update(context.Background()))
	assert.False(t, w.Available())
	assert.Empty(t, w.Condition())
}

func TestWeather_InvalidObservationValues(t *testing.T) {
	api := newFakeAPI()
	api.obs.ThreeHour.Humidity = "-"
	api.obs.ThreeHour.Pressure = nil
	api.obs.ThreeHour.Temp = 18.6
	w, _ := newTestWeather(t, ModeDaily, api)

	require.NoError(t, w.Update(context.Background()))

	r := w.Record()
	assert.Nil(t, r.Humidity)
	assert.Nil(t, r.Pressure)
	assert.Equal(t, 19, *r.Temperature)

	attrs := r.Attributes()
	assert.NotContains(t, attrs, "humidity")
	assert.Equal(t, 19, attrs["temperature"])
	assert.Equal(t, "daily", attrs["mode"])
}

func TestToInt(t *testing.T) {
	for _, tt := range []struct {
		in   interface{}
		want int
	}{
		{"12", 12},
		{"08", 8},
		{"12.5", 13},
		{15.0, 15},
		{7, 7},
	} {
		got, err := toInt(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got)
	}

	for _, in := range []interface{}{nil, "", "n/a"} {
		_, err := toInt(in)
		assert.Error(t, err, "%v", in)
	}
}
