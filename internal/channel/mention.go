package channel

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"
)

// Entity is a platform mention annotation. Offset and Length are in UTF-16
// code units, as Telegram reports them. Platforms that resolve mentions
// themselves set Text to the mentioned handle instead.
type Entity struct {
	Type   string
	Offset int
	Length int
	Text   string
}

const entityMention = "mention"

// NewTriggerPattern returns the canonical trigger pattern for an assistant
// name: "@Name" at the start of the text, case-insensitive.
func NewTriggerPattern(assistantName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^@` + regexp.QuoteMeta(assistantName) + `\b`)
}

// CompileTrigger compiles a configured trigger pattern, falling back to the
// canonical one for assistantName when pattern is empty.
func CompileTrigger(pattern, assistantName string) (*regexp.Regexp, error) {
	if pattern == "" {
		return NewTriggerPattern(assistantName), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile trigger pattern %q: %w", pattern, err)
	}
	return re, nil
}

// RewriteMention prepends "@assistantName " to text when one of the mention
// entities addresses "@ownHandle" and trigger does not already match.
func RewriteMention(text string, entities []Entity, ownHandle string, trigger *regexp.Regexp, assistantName string) string {
	if ownHandle == "" || !mentions(text, entities, ownHandle) {
		return text
	}
	if trigger != nil && trigger.MatchString(text) {
		return text
	}
	return "@" + assistantName + " " + text
}

func mentions(text string, entities []Entity, handle string) bool {
	want := "@" + handle
	var units []uint16
	for _, e := range entities {
		if e.Type != entityMention {
			continue
		}
		if e.Text != "" {
			if strings.EqualFold(e.Text, want) {
				return true
			}
			continue
		}
		if units == nil {
			units = utf16.Encode([]rune(text))
		}
		if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		span := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		if strings.EqualFold(span, want) {
			return true
		}
	}
	return false
}

// resolvedMention is the entity for a mention the platform already resolved
// to a user, such as a Discord or Slack user ID that belongs to the bot.
func resolvedMention(handle string) Entity {
	return Entity{Type: entityMention, Text: "@" + handle}
}
