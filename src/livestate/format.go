package livestate

import "fmt"

// TimeFormat enumerates the display formats a timer record can use.
type TimeFormat string

const (
	FormatSeconds  TimeFormat = "SS"
	FormatMinSec   TimeFormat = "MM:SS"
	FormatHourMin  TimeFormat = "HH:MM:SS"
)

// FormatElapsed renders elapsed seconds under format. SS is a zero-padded
// (minimum width 2) rendering of the full integer second count — it does
// NOT wrap at 60 or 100, matching a plain `%02d` of the total seconds
// rather than a modulus.
func FormatElapsed(elapsedSeconds float64, format TimeFormat) string {
	total := int64(elapsedSeconds)
	if total < 0 {
		total = 0
	}

	switch format {
	case FormatSeconds:
		return fmt.Sprintf("%02d", total)
	case FormatHourMin:
		hours := total / 3600
		minutes := (total % 3600) / 60
		seconds := total % 60
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case FormatMinSec:
		fallthrough
	default:
		minutes := total / 60
		seconds := total % 60
		return fmt.Sprintf("%02d:%02d", minutes, seconds)
	}
}

// NormalizeFormat defaults an unrecognized/empty format to MM:SS.
func NormalizeFormat(format string) TimeFormat {
	switch TimeFormat(format) {
	case FormatSeconds, FormatMinSec, FormatHourMin:
		return TimeFormat(format)
	default:
		return FormatMinSec
	}
}
