package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LATENCY_STORE.
const EnvPrefix = "LATENCY"

// Config is the resolved runtime configuration.
type Config struct {
	LogLevel   string
	Region     string
	Deployment string

	Store       string
	StoreKey    string
	LevelDBPath string

	Postgres Postgres
	Minio    Minio
	Fabric   Fabric

	BaseURL      string
	GRPCTarget   string
	Simulate     bool
	MetricsAddr  string
	SaveMaxWait  time.Duration
	SaveBatchMax int
}

type Postgres struct {
	Host     string
	User     string
	Password string
	DBName   string
	Port     string
}

type Minio struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

type Fabric struct {
	MSPID        string
	CryptoPath   string
	PeerEndpoint string
	GatewayPeer  string
	Channel      string
	Chaincode    string
	Function     string
	Args         []string
	Mode         string
}

// Opt is a single persistent option bound to a flag and an env var.
type Opt struct {
	Flag    string
	Default interface{}
	Desc    string
}

var opts = []Opt{
	{"log-level", "info", "log level: debug, info, warn, error"},
	{"region", "", "region label attached to measurements (falls back to VERCEL_REGION)"},
	{"deployment", "", "deployment identifier (falls back to VERCEL_GIT_COMMIT_SHA)"},
	{"store", "leveldb", "metric store: memory, leveldb, postgres, minio"},
	{"store-key", "performance-metrics", "key metrics are saved under"},
	{"leveldb-path", "./data/metrics", "leveldb directory"},
	{"pg-host", "localhost", "postgres host"},
	{"pg-user", "postgres", "postgres user"},
	{"pg-password", "", "postgres password"},
	{"pg-db", "latency", "postgres database"},
	{"pg-port", "5432", "postgres port"},
	{"minio-endpoint", "localhost:9000", "minio endpoint"},
	{"minio-access-key", "", "minio access key"},
	{"minio-secret-key", "", "minio secret key"},
	{"minio-bucket", "latency-metrics", "minio bucket"},
	{"minio-secure", false, "use https for minio"},
	{"fabric-msp-id", "Org1MSP", "fabric MSP id"},
	{"fabric-crypto-path", "", "fabric org crypto material; enables the ledger probe"},
	{"fabric-peer", "localhost:7051", "fabric gateway peer endpoint"},
	{"fabric-gateway-peer", "peer0.org1.example.com", "fabric peer TLS server name"},
	{"fabric-channel", "mychannel", "fabric channel"},
	{"fabric-chaincode", "basic", "fabric chaincode"},
	{"fabric-function", "GetAllAssets", "chaincode function to call"},
	{"fabric-args", []string{}, "chaincode function arguments"},
	{"fabric-mode", "evaluate", "evaluate or submit"},
	{"base-url", "", "deployment base URL; enables the API route probes"},
	{"grpc-target", "", "gRPC health endpoint; enables the gRPC probe"},
	{"simulate", false, "register simulated server action probes"},
	{"metrics-addr", "", "serve prometheus metrics on this address; probe keeps serving until interrupted"},
	{"save-max-wait", 25 * time.Millisecond, "max time a save request waits to be coalesced"},
	{"save-batch", 8, "max save requests coalesced into one write"},
}

// Bind registers the persistent flags on cmd and wires them into v with
// LATENCY_* environment overrides.
func Bind(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// This normalizes "-" to an underscore in env names.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	flags := cmd.PersistentFlags()
	for _, o := range opts {
		switch d := o.Default.(type) {
		case string:
			flags.String(o.Flag, d, o.Desc)
		case bool:
			flags.Bool(o.Flag, d, o.Desc)
		case int:
			flags.Int(o.Flag, d, o.Desc)
		case time.Duration:
			flags.Duration(o.Flag, d, o.Desc)
		case []string:
			flags.StringSlice(o.Flag, d, o.Desc)
		default:
			return fmt.Errorf("option %s: unsupported default %T", o.Flag, o.Default)
		}
		if err := v.BindPFlag(o.Flag, flags.Lookup(o.Flag)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration out of v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:    v.GetString("log-level"),
		Region:      v.GetString("region"),
		Deployment:  v.GetString("deployment"),
		Store:       v.GetString("store"),
		StoreKey:    v.GetString("store-key"),
		LevelDBPath: v.GetString("leveldb-path"),
		Postgres: Postgres{
			Host:     v.GetString("pg-host"),
			User:     v.GetString("pg-user"),
			Password: v.GetString("pg-password"),
			DBName:   v.GetString("pg-db"),
			Port:     v.GetString("pg-port"),
		},
		Minio: Minio{
			Endpoint:  v.GetString("minio-endpoint"),
			AccessKey: v.GetString("minio-access-key"),
			SecretKey: v.GetString("minio-secret-key"),
			Bucket:    v.GetString("minio-bucket"),
			Secure:    v.GetBool("minio-secure"),
		},
		Fabric: Fabric{
			MSPID:        v.GetString("fabric-msp-id"),
			CryptoPath:   v.GetString("fabric-crypto-path"),
			PeerEndpoint: v.GetString("fabric-peer"),
			GatewayPeer:  v.GetString("fabric-gateway-peer"),
			Channel:      v.GetString("fabric-channel"),
			Chaincode:    v.GetString("fabric-chaincode"),
			Function:     v.GetString("fabric-function"),
			Args:         v.GetStringSlice("fabric-args"),
			Mode:         v.GetString("fabric-mode"),
		},
		BaseURL:      strings.TrimRight(v.GetString("base-url"), "/"),
		GRPCTarget:   v.GetString("grpc-target"),
		Simulate:     v.GetBool("simulate"),
		MetricsAddr:  v.GetString("metrics-addr"),
		SaveMaxWait:  v.GetDuration("save-max-wait"),
		SaveBatchMax: v.GetInt("save-batch"),
	}

	if cfg.Region == "" {
		cfg.Region = envOr("VERCEL_REGION", "development")
	}
	if cfg.Deployment == "" {
		cfg.Deployment = envOr("VERCEL_GIT_COMMIT_SHA", "local")
	}

	switch cfg.Store {
	case "memory", "leveldb", "postgres", "minio":
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.StoreKey == "" {
		return Config{}, fmt.Errorf("store key is empty")
	}
	return cfg, nil
}

// ShortDeployment returns "local" or the first 8 characters of the deployment id.
func (c Config) ShortDeployment() string {
	if c.Deployment == "local" || len(c.Deployment) <= 8 {
		return c.Deployment
	}
	return c.Deployment[:8]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
