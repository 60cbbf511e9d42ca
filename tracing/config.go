// Package tracing 初始化 OpenTelemetry 链路追踪.
//
// 消息头中的链路传播由 messaging.Tracer 完成，本包只负责导出器与全局 Provider.
package tracing

// Config 链路追踪配置.
type Config struct {
	// Enabled 是否启用链路追踪
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Endpoint OTLP HTTP 端点，可带 http:// 前缀
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Headers 导出请求头[可选]
	Headers map[string]string `json:"headers" yaml:"headers" mapstructure:"headers"`
	// SamplingRate 采样率 (0.0-1.0)
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// DefaultConfig 返回默认配置，默认关闭.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:     "localhost:4318",
		SamplingRate: 1.0,
	}
}
