package offline

import (
	"bytes"
	"encoding/json"
)

// Message 是页面发给缓存管理器的控制消息。
type Message string

const (
	MessageSkipWaiting     Message = "skipWaiting"
	MessageDownloadOffline Message = "downloadOffline"
	// MessageUnknown 表示无法识别的消息，按约定静默忽略。
	MessageUnknown Message = ""
)

// ParseMessage 识别原始文本（skipWaiting）、JSON 字符串（"skipWaiting"）
// 以及 {"data": "skipWaiting"} 三种形式，其余一律返回 MessageUnknown。
func ParseMessage(raw []byte) Message {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return MessageUnknown
	}

	var value string
	switch trimmed[0] {
	case '{':
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return MessageUnknown
		}
		if err := json.Unmarshal(envelope.Data, &value); err != nil {
			return MessageUnknown
		}
	case '"':
		if err := json.Unmarshal(trimmed, &value); err != nil {
			return MessageUnknown
		}
	default:
		value = string(trimmed)
	}

	switch Message(value) {
	case MessageSkipWaiting, MessageDownloadOffline:
		return Message(value)
	default:
		return MessageUnknown
	}
}
