// Package messaging 提供厨房事件的消息抽象：消息、处理器、传输与总线
package messaging

import (
	"encoding/json"
	"time"
)

// 常用元数据键
const (
	MetaCorrelationID = "correlation_id"
	MetaAggregateID   = "aggregate_id"
	MetaAggregateType = "aggregate_type"
)

// IMessage 消息接口
type IMessage interface {
	// GetID 获取消息ID
	GetID() string

	// GetType 获取消息类型，例如 order.created
	GetType() string

	// GetTimestamp 获取时间戳
	GetTimestamp() time.Time

	// GetPayload 获取 JSON 编码的消息体
	GetPayload() json.RawMessage

	// GetMetadata 获取元数据
	GetMetadata() map[string]string
}

// Message 消息基础实现
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (m *Message) GetID() string               { return m.ID }
func (m *Message) GetType() string             { return m.Type }
func (m *Message) GetTimestamp() time.Time     { return m.Timestamp }
func (m *Message) GetPayload() json.RawMessage { return m.Payload }

// GetMetadata 获取元数据（惰性初始化）
func (m *Message) GetMetadata() map[string]string {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	m.GetMetadata()[key] = value
}

// NewMessage 创建新消息
func NewMessage(messageID, messageType string, payload []byte) *Message {
	return &Message{
		ID:        messageID,
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// DecodePayload 将消息体解码到 v
func DecodePayload(message IMessage, v any) error {
	return json.Unmarshal(message.GetPayload(), v)
}
