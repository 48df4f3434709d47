package arrivals

// Line colours keyed by the first character of the line id
const (
	ColorRed     = "#E2001A"
	ColorPink    = "#C6007E"
	ColorBlue    = "#0072BC"
	ColorGreen   = "#00963F"
	ColorDefault = "#6D2077"
)

// Color is a display hint derived from the leading character of lineID
func Color(lineID string) string {
	if lineID == "" {
		return ColorDefault
	}
	switch lineID[0] {
	case '1':
		return ColorRed
	case '2':
		return ColorPink
	case '3':
		return ColorBlue
	case '4':
		return ColorGreen
	default:
		return ColorDefault
	}
}
