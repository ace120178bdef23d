package protocol

// Outgoing is a message sent through Client.Send.
type Outgoing interface {
	isOutgoing()
}

// TypingMessage starts or stops the typing indicator.
type TypingMessage struct {
	Started bool
}

// EditMessage replaces the content of an earlier message.
type EditMessage struct {
	TargetID string
	Data     *DataMessage
}

// ReceiptMessage acknowledges messages from one sender.
type ReceiptMessage struct {
	Type       ReceiptType
	SenderID   string
	MessageIDs []string
}

// DeleteSync tells other linked devices that a chat was deleted. Anchors are
// recent messages of the chat, newest last.
type DeleteSync struct {
	Anchors []AddressableMessage
}

func (*DataMessage) isOutgoing()    {}
func (*TypingMessage) isOutgoing()  {}
func (*EditMessage) isOutgoing()    {}
func (*ReceiptMessage) isOutgoing() {}
func (*DeleteSync) isOutgoing()     {}
