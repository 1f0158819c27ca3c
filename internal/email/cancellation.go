package email

import (
	"fmt"
	"time"
)

// CancellationEmail is the message sent to participants when a coach
// cancels a class instance.
type CancellationEmail struct {
	Subject string
	Body    string
}

// BuildCancellationEmail renders the plain-text cancellation notice.
func BuildCancellationEmail(orgName, className string, start time.Time) CancellationEmail {
	return CancellationEmail{
		Subject: fmt.Sprintf("Class cancelled: %s", className),
		Body: fmt.Sprintf(
			"Hi,\n\nYour class %q on %s at %s has been cancelled by the coach.\n"+
				"If you paid with a clip card, your clip has been refunded.\n\n%s",
			className,
			start.Format("Monday, 2 January 2006"),
			start.Format("15:04"),
			orgName,
		),
	}
}
