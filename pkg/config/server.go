package config

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// ListenAddr is the host:port the API binds to.
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// AllowedOrigins lists additional CORS origins beyond localhost.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: ":8080",
	}
}
