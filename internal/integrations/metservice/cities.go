package metservice

import (
	"fmt"
	"sort"
	"strings"
)

// City is a MetService forecast location.
type City struct {
	Name      string
	ID        string
	Latitude  float64
	Longitude float64
}

var cities = []City{
	{"Auckland", "auckland", -36.8485, 174.7633},
	{"Blenheim", "blenheim", -41.5134, 173.9612},
	{"Christchurch", "christchurch", -43.5321, 172.6362},
	{"Dannevirke", "dannevirke", -40.2061, 176.1000},
	{"Dunedin", "dunedin", -45.8788, 170.5028},
	{"Gisborne", "gisborne", -38.6623, 178.0176},
	{"Gore", "gore", -46.0988, 168.9459},
	{"Greymouth", "greymouth", -42.4504, 171.2108},
	{"Hamilton", "hamilton", -37.7870, 175.2793},
	{"Hastings", "hastings", -39.6381, 176.8492},
	{"Hokitika", "hokitika", -42.7162, 170.9682},
	{"Invercargill", "invercargill", -46.4132, 168.3538},
	{"Kaikoura", "kaikoura", -42.4008, 173.6814},
	{"Kaitaia", "kaitaia", -35.1149, 173.2630},
	{"Levin", "levin", -40.6218, 175.2867},
	{"Masterton", "masterton", -40.9597, 175.6575},
	{"Napier", "napier", -39.4928, 176.9120},
	{"Nelson", "nelson", -41.2706, 173.2840},
	{"New Plymouth", "new-plymouth", -39.0556, 174.0752},
	{"Oamaru", "oamaru", -45.0975, 170.9704},
	{"Palmerston North", "palmerston-north", -40.3523, 175.6082},
	{"Queenstown", "queenstown", -45.0312, 168.6626},
	{"Rotorua", "rotorua", -38.1368, 176.2497},
	{"Taumarunui", "taumarunui", -38.8837, 175.2627},
	{"Taupo", "taupo", -38.6857, 176.0702},
	{"Tauranga", "tauranga", -37.6878, 176.1651},
	{"Timaru", "timaru", -44.3970, 171.2550},
	{"Tokoroa", "tokoroa", -38.2211, 175.8710},
	{"Wanaka", "wanaka", -44.7032, 169.1321},
	{"Whanganui", "whanganui", -39.9301, 175.0479},
	{"Wellington", "wellington", -41.2866, 174.7756},
	{"Westport", "westport", -41.7545, 171.6006},
	{"Whakatane", "whakatane", -37.9533, 176.9908},
	{"Whangarei", "whangarei", -35.7251, 174.3237},
}

// Cities returns every known location, sorted by name.
func Cities() []City {
	out := make([]City, len(cities))
	copy(out, cities)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupCity finds a location by name or id, ignoring case.
func LookupCity(name string) (City, error) {
	for _, c := range cities {
		if strings.EqualFold(c.Name, name) || strings.EqualFold(c.ID, name) {
			return c, nil
		}
	}
	return City{}, fmt.Errorf("unknown city %q", name)
}
