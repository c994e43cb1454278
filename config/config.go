package config

// DefaultQueue is the routing key used when the config file does not name one.
const DefaultQueue = "asterisk_cel"

// Config is the reloadable configuration for the CEL bridge: the named broker
// connection profiles plus the single global routing section.
type Config struct {
	Connections map[string]ConnectionConfig `yaml:"connections"`
	CEL         CELConfig                   `yaml:"cel"`
}

// ConnectionConfig describes one broker connection profile.
type ConnectionConfig struct {
	URL string `yaml:"url"`
}

// CELConfig is the routing section. Connection is the profile name to publish
// through; empty means the default profile. Queue doubles as the routing key.
type CELConfig struct {
	Connection string `yaml:"connection"`
	Queue      string `yaml:"queue"`
	Exchange   string `yaml:"exchange"`
}
