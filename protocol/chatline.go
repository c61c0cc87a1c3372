package protocol

import "strings"

// ChatSeparator joins the fields of a stored chat line. It sits in the
// Unicode private use area so it does not occur in typed text.
const ChatSeparator = "\uE000"

// ChatLine is one chat record as it is persisted and replayed.
type ChatLine struct {
	SenderID   string
	SenderName string
	Content    string
}

// CombineChatLine joins the three fields into one line.
func CombineChatLine(senderID, senderName, content string) string {
	return senderID + ChatSeparator + senderName + ChatSeparator + content
}

// SplitChatLine inverts CombineChatLine. Empty fields are preserved and the
// content may itself contain the separator. Lines with fewer than three
// fields yield ok == false.
func SplitChatLine(line string) (ChatLine, bool) {
	parts := strings.SplitN(line, ChatSeparator, 3)
	if len(parts) != 3 {
		return ChatLine{}, false
	}
	return ChatLine{SenderID: parts[0], SenderName: parts[1], Content: parts[2]}, true
}

func (c ChatLine) String() string {
	return CombineChatLine(c.SenderID, c.SenderName, c.Content)
}
