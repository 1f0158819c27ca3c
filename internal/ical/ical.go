// Package ical serializes calendar events as a minimal iCalendar document.
// Only the properties calendar clients need for a read-only subscription
// feed are emitted; UIDs are supplied by the caller and must be stable so
// repeated fetches don't duplicate events.
package ical

import (
	"strings"
	"time"
)

const (
	prodID   = "-//studiobook//calendar feed//EN"
	timeUTC  = "20060102T150405Z"
	uidHost  = "studiobook.app"
	crlf     = "\r\n"
	maxLine  = 75
)

// Event is a single VEVENT.
type Event struct {
	UID         string
	Start       time.Time
	End         time.Time
	Summary     string
	Description string
}

// Encode renders a complete VCALENDAR document. now becomes each event's
// DTSTAMP; pass a fixed value in tests for deterministic output.
func Encode(events []Event, now time.Time) []byte {
	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:"+prodID)
	writeLine(&b, "CALSCALE:GREGORIAN")

	stamp := now.UTC().Format(timeUTC)
	for _, e := range events {
		writeLine(&b, "BEGIN:VEVENT")
		writeLine(&b, "UID:"+e.UID+"@"+uidHost)
		writeLine(&b, "DTSTAMP:"+stamp)
		writeLine(&b, "DTSTART:"+e.Start.UTC().Format(timeUTC))
		writeLine(&b, "DTEND:"+e.End.UTC().Format(timeUTC))
		writeLine(&b, "SUMMARY:"+escape(e.Summary))
		if e.Description != "" {
			writeLine(&b, "DESCRIPTION:"+escape(e.Description))
		}
		writeLine(&b, "END:VEVENT")
	}

	writeLine(&b, "END:VCALENDAR")
	return []byte(b.String())
}

// escape applies RFC 5545 text escaping.
func escape(s string) string {
	r := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\r\n", "\\n",
		"\n", "\\n",
	)
	return r.Replace(s)
}

// writeLine emits a content line, folding anything longer than 75 octets
// with a CRLF plus space continuation.
func writeLine(b *strings.Builder, line string) {
	for len(line) > maxLine {
		b.WriteString(line[:maxLine])
		b.WriteString(crlf)
		b.WriteString(" ")
		line = line[maxLine:]
	}
	b.WriteString(line)
	b.WriteString(crlf)
}
