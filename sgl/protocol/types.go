package protocol

type MessageType uint8

const (
	MessageTypeManifest MessageType = 1
	MessageTypeBatch    MessageType = 2
	MessageTypeAck      MessageType = 3
	MessageTypeClose    MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeManifest:
		return "MANIFEST"
	case MessageTypeBatch:
		return "BATCH"
	case MessageTypeAck:
		return "ACK"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}
