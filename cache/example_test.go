package cache_test

import (
	"fmt"
	"time"

	"restaurant/cache"
)

// ExampleNew 以幂等键缓存已完成的响应
func ExampleNew() {
	responses := cache.New[string, int](cache.Config{
		Name:    "idempotency",
		MaxSize: 1000,
		TTL:     10 * time.Minute,
	})

	responses.Set("create-order-7f3a", 201)
	status, found := responses.Get("create-order-7f3a")
	fmt.Println(found, status)

	_, found = responses.Get("create-order-unknown")
	fmt.Println(found)
	// Output:
	// true 201
	// false
}
