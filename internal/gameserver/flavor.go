package gameserver

// DayPhase describes the game clock at one world time.
type DayPhase struct {
	Hour   GameHour   `json:"hour"`
	Clock  string     `json:"clock"`
	Period TimePeriod `json:"period"`
	Dark   bool       `json:"dark"`
	Sky    string     `json:"sky"`
}

// PhaseAt returns the day phase for worldSeconds.
//
// Postcondition: Sky is non-empty.
func PhaseAt(worldSeconds float64) DayPhase {
	h := HourAt(worldSeconds)
	p := h.Period()
	return DayPhase{Hour: h, Clock: h.String(), Period: p, Dark: IsDarkPeriod(p), Sky: SkyText(p)}
}

// SkyText returns a short description of the sky during period.
func SkyText(period TimePeriod) string {
	switch period {
	case PeriodMidnight:
		return "Deep darkness; only faint starlight over the fields."
	case PeriodLateNight:
		return "The camps are quiet and the forests still."
	case PeriodDawn:
		return "First light edges the horizon."
	case PeriodMorning:
		return "Morning light; gatherers head out."
	case PeriodAfternoon:
		return "The sun hangs high over the quarries."
	case PeriodDusk:
		return "The sky burns orange as the sun sinks."
	case PeriodEvening:
		return "Twilight settles; the first stars appear."
	default:
		return "A canopy of stars above the world."
	}
}

// IsDarkPeriod reports whether a period is night-time.
//
// Postcondition: Returns true for Midnight, LateNight, Night.
func IsDarkPeriod(period TimePeriod) bool {
	return period == PeriodMidnight || period == PeriodLateNight || period == PeriodNight
}
