package metrics

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: "tripguard"
//	  version: "v0.3.0"
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 OTel Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 OTel Resource 的 service.version
	Version string `mapstructure:"version"`
}
