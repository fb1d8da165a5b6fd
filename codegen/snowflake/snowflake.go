// Package snowflake 生成按时间有序的 64 位 ID（雪花算法）
//
// 布局：41 位毫秒时间戳 | 10 位节点号 | 12 位序列号。
// 服务端用它生成请求 ID，日志与响应头中的 ID 可按时间排序。
package snowflake

import (
	"strconv"
	"sync"
	"time"

	"restaurant/errors"
)

const (
	// Epoch 起始时间 2024-01-01 00:00:00 UTC（毫秒）
	Epoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	MaxNode     = -1 ^ (-1 << nodeBits)     // 1023
	maxSequence = -1 ^ (-1 << sequenceBits) // 4095

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits

	// 时钟回拨不超过该值时等待追平，否则返回错误
	maxClockBackward = 10 * time.Millisecond
)

// ID 雪花 ID
type ID int64

// String 十进制表示
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Time 生成时间
func (id ID) Time() time.Time {
	return time.UnixMilli((int64(id) >> timeShift) + Epoch).UTC()
}

// Node 节点号
func (id ID) Node() int64 {
	return (int64(id) >> nodeShift) & MaxNode
}

// Sequence 毫秒内序列号
func (id ID) Sequence() int64 {
	return int64(id) & maxSequence
}

// Parse 解析十进制 ID
func Parse(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.NewErrorf(errors.ErrCodeInvalidInput, "invalid snowflake id %q", s)
	}
	return ID(n), nil
}

// Generator 并发安全的 ID 生成器
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	lastMs   int64
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewGenerator 创建生成器，node 取值 0..1023
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, errors.NewErrorf(errors.ErrCodeInvalidInput, "snowflake node %d out of range [0, %d]", node, MaxNode)
	}
	return &Generator{node: node, lastMs: -1, now: time.Now, sleep: time.Sleep}, nil
}

// Next 生成下一个 ID
func (g *Generator) Next() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMs {
		behind := time.Duration(g.lastMs-ms) * time.Millisecond
		if behind > maxClockBackward {
			return 0, errors.NewErrorf(errors.ErrCodeInternal, "clock moved backwards by %s", behind)
		}
		g.sleep(behind)
		ms = g.now().UnixMilli()
		if ms < g.lastMs {
			ms = g.lastMs
		}
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for ms <= g.lastMs {
				g.sleep(100 * time.Microsecond)
				ms = g.now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return ID(((ms - Epoch) << timeShift) | (g.node << nodeShift) | g.sequence), nil
}

// MustNext 生成 ID，失败时 panic
func (g *Generator) MustNext() ID {
	id, err := g.Next()
	if err != nil {
		panic(err)
	}
	return id
}
