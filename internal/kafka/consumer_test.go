package kafka

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniqueGroupID(t *testing.T) {
	a := UniqueGroupID("ws-delivery")
	b := UniqueGroupID("ws-delivery")

	assert.True(t, strings.HasPrefix(a, "ws-delivery-"))
	// 每个进程实例要落在自己的消费组里
	assert.NotEqual(t, a, b)
}
