package messaging

import "strings"

// 主题通配符.
const (
	wildcardOne  = "*"
	wildcardMany = "#"
)

// Matches 判断路由键是否命中绑定.
//
// direct 要求完全相等，fanout 总是命中，topic 按段匹配通配符.
func Matches(kind ExchangeKind, pattern, routingKey string) bool {
	switch kind {
	case KindDirect:
		return pattern == routingKey
	case KindFanout:
		return true
	case KindTopic:
		return MatchTopic(pattern, routingKey)
	}
	return false
}

// MatchTopic 按主题交换机规则匹配路由键.
//
// 模式与路由键都以 "." 分段. "*" 匹配恰好一段，"#" 匹配零段或多段.
//
//	MatchTopic("order.#", "order.completed.express") // true
//	MatchTopic("order.*", "order.completed.express") // false
//	MatchTopic("#", "")                              // true
func MatchTopic(pattern, routingKey string) bool {
	return matchSegments(splitKey(pattern), splitKey(routingKey))
}

// splitKey 将空串视为零段.
func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

func matchSegments(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == wildcardMany {
			rest := pattern[1:]
			// 连续的 # 等价于一个.
			for len(rest) > 0 && rest[0] == wildcardMany {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchSegments(rest, key[i:]) {
					return true
				}
			}
			return false
		}

		if len(key) == 0 {
			return false
		}
		if head != wildcardOne && head != key[0] {
			return false
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
