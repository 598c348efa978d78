package chat

// Normalize converts caller turns into the intermediate form. Parts with
// non-empty text become text segments, parts with both mimeType and data
// become image segments, everything else is dropped. Turns left with zero
// segments are dropped entirely. Order of turns and segments is preserved.
func Normalize(turns []Turn) []Message {
	msgs := make([]Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == "" || len(turn.Parts) == 0 {
			continue
		}

		segments := make([]Segment, 0, len(turn.Parts))
		for _, part := range turn.Parts {
			switch {
			case part.Text != "":
				segments = append(segments, Segment{Text: part.Text})
			case part.InlineData != nil && part.InlineData.MimeType != "" && part.InlineData.Data != "":
				img := *part.InlineData
				segments = append(segments, Segment{Image: &img})
			}
		}

		if len(segments) == 0 {
			continue
		}
		msgs = append(msgs, Message{Role: turn.Role, Segments: segments})
	}
	return msgs
}
