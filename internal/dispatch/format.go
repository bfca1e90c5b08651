package dispatch

import "strings"

const receivedLayout = "1/2/2006 3:04 PM"

// Title builds the notification title, e.g. "SF Dispatch - HOMELESS COMPLAINT".
func Title(prefix string, r Record) string {
	callType := r.CallType
	if callType == "" {
		callType = "Unknown"
	}
	if prefix == "" {
		return callType
	}
	return prefix + " - " + callType
}

// FormatMessage renders a record as the plain-text notification body.
// Sensitive calls have their location suppressed and the neighborhood omitted.
func FormatMessage(r Record) string {
	received := "Unknown time"
	switch {
	case !r.ReceivedAt.IsZero():
		received = r.ReceivedAt.Format(receivedLayout)
	case r.ReceivedRaw != "":
		received = r.ReceivedRaw
	}

	callType := r.CallType
	if callType == "" {
		callType = "Unknown"
	}
	location := r.Intersection
	if location == "" {
		location = "Unknown location"
	}
	agency := r.Agency
	if agency == "" {
		agency = "Unknown agency"
	}
	if r.Sensitive {
		location = "[Sensitive - location suppressed]"
	}

	lines := []string{
		"Time: " + received,
		"Type: " + callType,
		"Location: " + location,
	}
	if r.Neighborhood != "" && !r.Sensitive {
		lines = append(lines, "Neighborhood: "+r.Neighborhood)
	}
	lines = append(lines, "Agency: "+agency)

	return strings.Join(lines, "\n")
}
