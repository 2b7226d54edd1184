package dialogue

import "strings"

// FormatLine renders a single exchange as
// "speakerName: speakerText; responderName: responseText". Missing names fall
// back to [DefaultSpeakerName] and [DefaultResponderName].
func FormatLine(e Exchange) string {
	var b strings.Builder
	writeLine(&b, e)
	return strings.TrimRight(b.String(), " \t\r\n")
}

// FormatReplay concatenates exchanges, in the given order, into one payload.
// Entries are separated by a single space and trailing whitespace is trimmed.
func FormatReplay(exchanges []Exchange) string {
	var b strings.Builder
	for i, e := range exchanges {
		if i > 0 {
			b.WriteByte(' ')
		}
		writeLine(&b, e)
	}
	return strings.TrimRight(b.String(), " \t\r\n")
}

func writeLine(b *strings.Builder, e Exchange) {
	speaker := e.SpeakerName
	if speaker == "" {
		speaker = DefaultSpeakerName
	}
	responder := e.ResponderName
	if responder == "" {
		responder = DefaultResponderName
	}
	b.WriteString(speaker)
	b.WriteString(": ")
	b.WriteString(e.SpeakerText)
	b.WriteString("; ")
	b.WriteString(responder)
	b.WriteString(": ")
	b.WriteString(e.ResponseText)
}
