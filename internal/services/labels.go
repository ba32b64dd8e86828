package services

// deviceLabels maps the classifier's raw label vocabulary to the display
// names shown on the dashboard. Labels absent from the map pass through
// unchanged so new vocabularies never fail closed.
var deviceLabels = map[string]string{
	"fridge":          "Kühlschrank",
	"freezer":         "Gefrierschrank",
	"washing_machine": "Waschmaschine",
	"dishwasher":      "Spülmaschine",
	"dryer":           "Trockner",
	"oven":            "Backofen",
	"stove":           "Herd",
	"kettle":          "Wasserkocher",
	"microwave":       "Mikrowelle",
	"tv":              "Fernseher",
	"heat_pump":       "Wärmepumpe",
	"water_heater":    "Boiler",
}

// DisplayName resolves a raw classifier label to its display name.
func DisplayName(label string) string {
	if name, ok := deviceLabels[label]; ok {
		return name
	}
	return label
}
