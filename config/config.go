package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/montroy2000/Aegis-Growth/internal/domain"
	"gopkg.in/yaml.v3"
)

// Tipos de feed soportados.
const (
	FeedPyth        = "pyth"
	FeedSwitchboard = "switchboard"
	FeedChainlink   = "chainlink"
	FeedStatic      = "static"
)

// Config es la configuración completa del keeper.
type Config struct {
	Keeper  KeeperConfig  `yaml:"keeper"`
	Vault   VaultConfig   `yaml:"vault"`
	Feeds   FeedsConfig   `yaml:"feeds"`
	Solana  SolanaConfig  `yaml:"solana"`
	EVM     EVMConfig     `yaml:"evm"`
	Venue   VenueConfig   `yaml:"venue"`
	Paper   PaperConfig   `yaml:"paper"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// KeeperConfig controla el loop de rebalanceo.
type KeeperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	StatusLimit     int `yaml:"status_limit"` // rebalanceos recientes en status
}

// VaultConfig son los datos fijados en Initialize.
type VaultConfig struct {
	Authority    string             `yaml:"authority"`
	AssetMint    string             `yaml:"asset_mint"`
	ShareMint    string             `yaml:"share_mint"`
	VaultAccount string             `yaml:"vault_account"`
	Params       domain.VaultConfig `yaml:"params"`
}

// FeedsConfig define el feed primario y el secundario opcional.
type FeedsConfig struct {
	Primary   FeedConfig  `yaml:"primary"`
	Secondary *FeedConfig `yaml:"secondary"`
}

// FeedConfig describe un feed de precio.
type FeedConfig struct {
	Kind    string `yaml:"kind"` // pyth | switchboard | chainlink | static
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	// solo static
	Price int64  `yaml:"price"`
	Expo  int32  `yaml:"expo"`
	Conf  uint64 `yaml:"conf"`
}

// SolanaConfig controla el cliente JSON-RPC de Solana.
type SolanaConfig struct {
	RPCURL            string  `yaml:"rpc_url"`
	Commitment        string  `yaml:"commitment"` // processed | confirmed | finalized
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	Retries           int     `yaml:"retries"`
	RetryBaseMs       int     `yaml:"retry_base_ms"`
}

// EVMConfig contiene el RPC para feeds Chainlink.
type EVMConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// VenueConfig parametriza el paper venue.
type VenueConfig struct {
	LiquidationThresholdBps uint64 `yaml:"liquidation_threshold_bps"`
}

// PaperConfig controla la simulación de -mode paper.
type PaperConfig struct {
	Depositor string  `yaml:"depositor"`
	Deposit   uint64  `yaml:"deposit"`
	Expo      int32   `yaml:"expo"`
	PricePath []int64 `yaml:"price_path"` // un precio por ciclo, en Expo
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// MetricsConfig controla el endpoint de Prometheus.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // vacío desactiva el servidor
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	// Los umbrales ausentes del YAML quedan en los defaults de producción.
	cfg := Config{Vault: VaultConfig{Params: domain.DefaultVaultConfig()}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// KeeperInterval devuelve el intervalo del keeper como time.Duration.
func (c *Config) KeeperInterval() time.Duration {
	return time.Duration(c.Keeper.IntervalSeconds) * time.Second
}

// RetryBase devuelve el backoff base del cliente Solana.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Solana.RetryBaseMs) * time.Millisecond
}

// NeedsSolana indica si algún feed lee cuentas de Solana.
func (c *Config) NeedsSolana() bool {
	for _, f := range c.feeds() {
		if f.Kind == FeedPyth || f.Kind == FeedSwitchboard {
			return true
		}
	}
	return false
}

// Validate revisa la coherencia de la configuración cargada.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Vault.Params.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vault.params: %w", err))
	}
	for i, f := range c.feeds() {
		if err := f.validate(); err != nil {
			errs = append(errs, fmt.Errorf("feeds[%d]: %w", i, err))
			continue
		}
		if f.Kind == FeedChainlink && c.EVM.RPCURL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: chainlink feed %q needs evm.rpc_url", i, f.Name))
		}
	}
	if s := c.Feeds.Secondary; s != nil && s.Name == c.Feeds.Primary.Name {
		errs = append(errs, fmt.Errorf("feeds: primary and secondary share name %q", s.Name))
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		errs = append(errs, fmt.Errorf("solana.commitment: unknown %q", c.Solana.Commitment))
	}
	if c.Venue.LiquidationThresholdBps > domain.BpsDenominator {
		errs = append(errs, fmt.Errorf("venue.liquidation_threshold_bps: %d above 10000", c.Venue.LiquidationThresholdBps))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

func (c *Config) feeds() []FeedConfig {
	out := []FeedConfig{c.Feeds.Primary}
	if c.Feeds.Secondary != nil {
		out = append(out, *c.Feeds.Secondary)
	}
	return out
}

func (f FeedConfig) validate() error {
	switch f.Kind {
	case FeedPyth, FeedSwitchboard, FeedChainlink:
		if f.Address == "" {
			return fmt.Errorf("%s feed %q needs an address", f.Kind, f.Name)
		}
	case FeedStatic:
		if f.Price <= 0 {
			return fmt.Errorf("static feed %q needs a positive price", f.Name)
		}
	default:
		return fmt.Errorf("unknown feed kind %q", f.Kind)
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		cfg.Solana.RPCURL = v
	}
	if v := os.Getenv("EVM_RPC_URL"); v != "" {
		cfg.EVM.RPCURL = v
	}
	if v := os.Getenv("VAULT_AUTHORITY"); v != "" {
		cfg.Vault.Authority = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Keeper.IntervalSeconds <= 0 {
		cfg.Keeper.IntervalSeconds = 60
	}
	if cfg.Keeper.StatusLimit <= 0 {
		cfg.Keeper.StatusLimit = 10
	}
	for _, f := range []*FeedConfig{&cfg.Feeds.Primary, cfg.Feeds.Secondary} {
		if f == nil {
			continue
		}
		if f.Kind == "" {
			f.Kind = FeedPyth
		}
		if f.Name == "" {
			f.Name = f.Kind
		}
	}
	if cfg.Solana.RPCURL == "" {
		cfg.Solana.RPCURL = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.Commitment == "" {
		cfg.Solana.Commitment = "confirmed"
	}
	if cfg.Solana.RequestsPerSecond <= 0 {
		cfg.Solana.RequestsPerSecond = 6 // bajo el límite público de 10 rps
	}
	if cfg.Solana.Burst <= 0 {
		cfg.Solana.Burst = 3
	}
	if cfg.Solana.Retries <= 0 {
		cfg.Solana.Retries = 3
	}
	if cfg.Solana.RetryBaseMs <= 0 {
		cfg.Solana.RetryBaseMs = 500
	}
	if cfg.Venue.LiquidationThresholdBps == 0 {
		cfg.Venue.LiquidationThresholdBps = 8_500
	}
	if cfg.Paper.Deposit == 0 {
		cfg.Paper.Deposit = 1_000_000_000 // 1000 USDC
	}
	if cfg.Paper.Expo == 0 {
		cfg.Paper.Expo = -8
	}
	if len(cfg.Paper.PricePath) == 0 {
		cfg.Paper.PricePath = []int64{
			100_000_000, 100_001_000, 99_998_000, 99_850_000,
			99_990_000, 99_700_000, 100_000_000, 99_000_000,
		}
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "aegis.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
