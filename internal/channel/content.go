package channel

// ContentKind tags the category of an inbound platform event.
type ContentKind int

const (
	KindUnknown ContentKind = iota
	KindText
	KindPhoto
	KindVideo
	KindAudio
	KindVoice
	KindDocument
	KindSticker
	KindLocation
	KindContact
)

var kindNames = map[ContentKind]string{
	KindUnknown:  "unknown",
	KindText:     "text",
	KindPhoto:    "photo",
	KindVideo:    "video",
	KindAudio:    "audio",
	KindVoice:    "voice",
	KindDocument: "document",
	KindSticker:  "sticker",
	KindLocation: "location",
	KindContact:  "contact",
}

func (k ContentKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Placeholder returns the bracketed label standing in for non-text content.
// detail is the document filename or the sticker emoji; a non-empty caption
// is appended after one space. Text, voice and unknown kinds have no label and
// return "".
func Placeholder(kind ContentKind, detail, caption string) string {
	var label string
	switch kind {
	case KindPhoto:
		label = "[Photo]"
	case KindVideo:
		label = "[Video]"
	case KindAudio:
		label = "[Audio]"
	case KindDocument:
		if detail == "" {
			detail = "file"
		}
		label = "[Document: " + detail + "]"
	case KindSticker:
		label = "[Sticker " + detail + "]"
	case KindLocation:
		label = "[Location]"
	case KindContact:
		label = "[Contact]"
	default:
		return ""
	}
	return label + captionSuffix(caption)
}

func captionSuffix(caption string) string {
	if caption == "" {
		return ""
	}
	return " " + caption
}
