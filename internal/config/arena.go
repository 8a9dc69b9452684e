package config

import "github.com/caarlos0/env/v11"

// ArenaConfig is the environment-variable surface spec.md §6.3 names for
// the arena server: the ModelGateway and Repository endpoints, the
// admin secret, and ArenaScheduler's admission-control knobs.
type ArenaConfig struct {
	ModelGatewayURL string `env:"MODEL_GATEWAY_URL,required,notEmpty"`
	ModelGatewayKey string `env:"MODEL_GATEWAY_KEY"`

	RepositoryURL string `env:"REPOSITORY_URL"`
	RepositoryKey string `env:"REPOSITORY_KEY"`

	AdminAPIKey string `env:"ADMIN_API_KEY,required,notEmpty"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	MaxLiveMatches      int `env:"MAX_LIVE_MATCHES" envDefault:"2"`
	StartsPerMinute     int `env:"STARTS_PER_MINUTE" envDefault:"5"`
	MatchTimeoutSeconds int `env:"MATCH_TIMEOUT_SECONDS" envDefault:"600"`
	MinJudges           int `env:"MIN_JUDGES" envDefault:"3"`
	MaxJudges           int `env:"MAX_JUDGES" envDefault:"5"`
}

func LoadArena() (ArenaConfig, error) {
	var cfg ArenaConfig
	err := env.Parse(&cfg)
	return cfg, err
}
