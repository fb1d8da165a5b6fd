// Package domain 定义领域对象的最小公共契约
package domain

// IValidatable 可验证接口。
// 输入对象在进入存储层之前通过 Validate 自检。
type IValidatable interface {
	// Validate 验证状态是否有效
	// 返回 error 表示验证失败，nil 表示验证成功
	Validate() error
}

// IDomainEvent 领域事件接口。
// 领域层仅关注事件本身的语义，不关心传输信封与存储细节。
type IDomainEvent interface {
	// EventType 返回领域事件类型标识。
	EventType() string

	// AggregateID 返回事件所属聚合的标识
	AggregateID() int64

	// AggregateType 返回聚合类型，例如 "order"
	AggregateType() string
}
