package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Env      string `yaml:"env" env:"ENV" env-default:"local" env-description:"Environment" env-choices:"local,dev,prod"`
	ApiPort  int    `yaml:"api_port" env:"API_PORT" env-default:"8080"`
	ApiHost  string `yaml:"api_host" env:"API_HOST" env-default:"localhost"`
	Storage  string `yaml:"storage" env:"STORAGE" env-default:"memory" env-description:"Account store" env-choices:"memory,postgres"`
	Postgres `yaml:"postgres"`
	Auth     `yaml:"auth"`
	Ledger   `yaml:"ledger"`
}

type Postgres struct {
	Host string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"POSTGRES_PORT" env-default:"5433"`
	User string `yaml:"user" env:"POSTGRES_USER" env-default:"frens"`
	Pass string `yaml:"pass" env:"POSTGRES_PASS" env-default:"frens"`
	Db   string `yaml:"db" env:"POSTGRES_DB" env-default:"onlyfrens"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"24h"`
	DemoLogin bool          `yaml:"demo_login" env:"DEMO_LOGIN" env-default:"false"`
}

type Ledger struct {
	// StartingGrant is credited to every new account, written as a decimal string.
	StartingGrant string `yaml:"starting_grant" env:"STARTING_GRANT" env-default:"10"`
}

func MustLoad() *Config {
	path := fetchConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		panic("config file does not exist: " + path)
	}

	cfg, err := Load(path)
	if err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return cfg
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PostgresURL builds the connection string for the configured database.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Pass,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.Db,
	)
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
