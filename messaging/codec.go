package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope 跨进程传输时的线上格式
type envelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp int64             `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Encode 编码消息；时间戳以纳秒保存
func Encode(msg IMessage) ([]byte, error) {
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := msg.GetPayload()
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return json.Marshal(envelope{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  msg.GetMetadata(),
	})
}

// Decode 解码消息；类型为空时使用 fallbackType
func Decode(data []byte, fallbackType string) (*Message, error) {
	var wire envelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if wire.Type == "" {
		wire.Type = fallbackType
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]string)
	}
	return &Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp).UTC(),
		Payload:   wire.Payload,
		Metadata:  wire.Metadata,
	}, nil
}
