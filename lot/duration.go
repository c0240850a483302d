package lot

import (
	"fmt"
	"time"
)

// FormatDuration renders the time elapsed since entry as HH:MM:SS. A future
// entry time yields 00:00:00.
func FormatDuration(entry, now time.Time) string {
	elapsed := now.Sub(entry)
	if elapsed < 0 {
		return "00:00:00"
	}
	seconds := int64(elapsed / time.Second)
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
