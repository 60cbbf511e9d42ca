package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"order.#", "order", true},
		{"order.#", "order.created", true},
		{"order.#", "order.completed.express", true},
		{"order.#", "orders.created", false},
		{"order.#", "payment.order.created", false},
		{"order.#", "", false},
		{"order.*", "order.created", true},
		{"order.*", "order", false},
		{"order.*", "order.completed.express", false},
		{"*.completed.*", "order.completed.express", true},
		{"*.completed.*", "order.failed.express", false},
		{"#", "", true},
		{"#", "anything.at.all", true},
		{"#.express", "order.completed.express", true},
		{"#.express", "express", true},
		{"#.express", "order.completed.standard", false},
		{"order.#.express", "order.express", true},
		{"order.#.express", "order.completed.express", true},
		{"order.#.#.express", "order.a.b.express", true},
		{"order.created", "order.created", true},
		{"order.created", "order.created.standard", false},
		{"*", "", false},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.key))
		})
	}
}

func TestMatches_Direct(t *testing.T) {
	assert.True(t, Matches(KindDirect, "order.express", "order.express"))
	assert.False(t, Matches(KindDirect, "order.express", "order.express.extra"))
	assert.False(t, Matches(KindDirect, "order", "order.express"))
	assert.False(t, Matches(KindDirect, "order.*", "order.express"))
}

func TestMatches_Fanout(t *testing.T) {
	for _, key := range []string{"", "order.express", "anything"} {
		assert.True(t, Matches(KindFanout, "", key))
		assert.True(t, Matches(KindFanout, "ignored", key))
	}
}

func TestMatches_UnknownKind(t *testing.T) {
	assert.False(t, Matches(ExchangeKind("headers"), "a", "a"))
	assert.False(t, ExchangeKind("headers").Valid())
	assert.True(t, KindTopic.Valid())
}
