package config

import "github.com/spf13/viper"

// Config holds the runtime configuration for the service.
type Config struct {
	ServerAddress string `mapstructure:"SERVER_ADDRESS"`
	PostgresConn  string `mapstructure:"POSTGRES_CONN"`
	MigrationURL  string `mapstructure:"MIGRATION_URL"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	GatewayURL    string `mapstructure:"GATEWAY_URL"`
}

// Load reads configuration from an env file in the given path, falling back
// to process environment variables.
func Load(path string) (cfg Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return
		}
		err = nil
	}
	err = viper.Unmarshal(&cfg)
	return
}
