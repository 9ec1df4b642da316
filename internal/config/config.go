package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// ChainConfig is shared by every process that talks to the perp program.
type ChainConfig struct {
	RPCURL     string
	Commitment rpc.CommitmentType
	ProgramID  solana.PublicKey
	// Requests per second against the RPC endpoint. 0 disables throttling.
	RPCRateLimit int
}

type TxConfig struct {
	KeypairPath                   string
	SkipPreflight                 bool
	MaxRetries                    *uint
	ConfirmTimeout                time.Duration
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
}

type CrankerConfig struct {
	Chain         ChainConfig
	Tx            TxConfig
	MarketSymbols []string
	PollInterval  time.Duration
	RetryDelay    time.Duration
	MetricsAddr   string
	Log           LogConfig
}

type LiquidatorConfig struct {
	Chain        ChainConfig
	Tx           TxConfig
	PollInterval time.Duration
	MetricsAddr  string
	Log          LogConfig
}

type IndexerConfig struct {
	Chain              ChainConfig
	PollInterval       time.Duration
	MaxBackoff         time.Duration
	MaxSubscribedUsers int
	OrderbookDepth     int
	DBDSN              string
	SnapshotRetention  int
	MetricsAddr        string
	Log                LogConfig
}

type APIServerConfig struct {
	Chain          ChainConfig
	Indexer        IndexerConfig
	ListenAddr     string
	DBDSN          string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	Log            LogConfig
}

var defaultProgramID = solana.MustPublicKeyFromBase58("6FFcqM61UALXUBeXPDQw1J8MLH9r9T5cTsV3uFxQdqLK")

const defaultKeypairPath = "~/.config/solana/id.json"

func LoadRequestCrankerConfig() (CrankerConfig, error) {
	return loadCrankerConfig("REQUEST_CRANKER", "request-cranker")
}

func LoadEventCrankerConfig() (CrankerConfig, error) {
	return loadCrankerConfig("EVENT_CRANKER", "event-cranker")
}

func loadCrankerConfig(prefix, service string) (CrankerConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return CrankerConfig{}, err
	}

	chain, err := loadChainConfig()
	if err != nil {
		return CrankerConfig{}, err
	}
	tx, err := loadTxConfig("CRANKER")
	if err != nil {
		return CrankerConfig{}, err
	}

	pollInterval, err := envDuration("CRANK_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return CrankerConfig{}, err
	}
	retryDelay, err := envDuration("CRANK_RETRY_DELAY", 500*time.Millisecond)
	if err != nil {
		return CrankerConfig{}, err
	}
	if retryDelay > pollInterval {
		return CrankerConfig{}, fmt.Errorf("invalid CRANK_RETRY_DELAY: must be <= CRANK_POLL_INTERVAL")
	}

	return CrankerConfig{
		Chain:         chain,
		Tx:            tx,
		MarketSymbols: NormalizeSymbols(parseCSVEnv(envOrDefault("MARKET_SYMBOLS", ""), nil)),
		PollInterval:  pollInterval,
		RetryDelay:    retryDelay,
		MetricsAddr:   envOrDefault(prefix+"_METRICS_ADDR", ""),
		Log:           buildLogConfig(prefix, service),
	}, nil
}

func LoadLiquidatorConfig() (LiquidatorConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return LiquidatorConfig{}, err
	}

	chain, err := loadChainConfig()
	if err != nil {
		return LiquidatorConfig{}, err
	}
	tx, err := loadTxConfig("LIQUIDATOR")
	if err != nil {
		return LiquidatorConfig{}, err
	}
	pollInterval, err := envDuration("LIQUIDATOR_POLL_INTERVAL", 5*time.Second)
	if err != nil {
		return LiquidatorConfig{}, err
	}

	return LiquidatorConfig{
		Chain:        chain,
		Tx:           tx,
		PollInterval: pollInterval,
		MetricsAddr:  envOrDefault("LIQUIDATOR_METRICS_ADDR", ""),
		Log:          buildLogConfig("LIQUIDATOR", "liquidator"),
	}, nil
}

func LoadIndexerConfig() (IndexerConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return IndexerConfig{}, err
	}
	return loadIndexerConfig("indexer")
}

func loadIndexerConfig(service string) (IndexerConfig, error) {
	chain, err := loadChainConfig()
	if err != nil {
		return IndexerConfig{}, err
	}

	pollInterval, err := envDuration("INDEXER_POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return IndexerConfig{}, err
	}
	maxBackoff, err := envDuration("INDEXER_MAX_BACKOFF", time.Minute)
	if err != nil {
		return IndexerConfig{}, err
	}
	if maxBackoff < pollInterval {
		return IndexerConfig{}, fmt.Errorf("invalid INDEXER_MAX_BACKOFF: must be >= INDEXER_POLL_INTERVAL")
	}
	maxUsers, err := envInt("INDEXER_MAX_SUBSCRIBED_USERS", 50)
	if err != nil {
		return IndexerConfig{}, err
	}
	depth, err := envInt("INDEXER_ORDERBOOK_DEPTH", 20)
	if err != nil {
		return IndexerConfig{}, err
	}
	retention, err := envInt("INDEXER_SNAPSHOT_RETENTION", 1000)
	if err != nil {
		return IndexerConfig{}, err
	}

	return IndexerConfig{
		Chain:              chain,
		PollInterval:       pollInterval,
		MaxBackoff:         maxBackoff,
		MaxSubscribedUsers: maxUsers,
		OrderbookDepth:     depth,
		DBDSN:              envOrDefault("INDEXER_DB_DSN", ""),
		SnapshotRetention:  retention,
		MetricsAddr:        envOrDefault("INDEXER_METRICS_ADDR", ""),
		Log:                buildLogConfig("INDEXER", service),
	}, nil
}

func LoadAPIServerConfig() (APIServerConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return APIServerConfig{}, err
	}

	indexerCfg, err := loadIndexerConfig("api-server")
	if err != nil {
		return APIServerConfig{}, err
	}

	readTimeout, err := envDuration("API_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	writeTimeout, err := envDuration("API_SERVER_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	idleTimeout, err := envDuration("API_SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}

	return APIServerConfig{
		Chain:          indexerCfg.Chain,
		Indexer:        indexerCfg,
		ListenAddr:     envOrDefault("API_SERVER_LISTEN_ADDR", ":3001"),
		DBDSN:          envOrDefault("API_SERVER_DB_DSN", indexerCfg.DBDSN),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		AllowedOrigins: parseCSVEnv(envOrDefault("API_SERVER_ALLOWED_ORIGINS", "*"), []string{"*"}),
		Log:            buildLogConfig("API_SERVER", "api-server"),
	}, nil
}

func loadChainConfig() (ChainConfig, error) {
	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return ChainConfig{}, err
	}
	programID, err := envPubkey("PERP_PROGRAM_ID", defaultProgramID)
	if err != nil {
		return ChainConfig{}, err
	}
	rateLimit, err := envNonNegativeInt("SOLANA_RPC_RATE_LIMIT", 0)
	if err != nil {
		return ChainConfig{}, err
	}
	return ChainConfig{
		RPCURL:       envOrDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
		Commitment:   commitment,
		ProgramID:    programID,
		RPCRateLimit: rateLimit,
	}, nil
}

func loadTxConfig(prefix string) (TxConfig, error) {
	keypairPath := envOrDefault(prefix+"_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", defaultKeypairPath))
	expanded, err := expandHomePath(keypairPath)
	if err != nil {
		return TxConfig{}, fmt.Errorf("expand keypair path: %w", err)
	}

	skipPreflight, err := envBool(prefix+"_SKIP_PREFLIGHT", false)
	if err != nil {
		return TxConfig{}, err
	}
	maxRetries, err := envOptionalUint(prefix + "_MAX_RETRIES")
	if err != nil {
		return TxConfig{}, err
	}
	confirmTimeout, err := envDuration(prefix+"_CONFIRM_TIMEOUT", 30*time.Second)
	if err != nil {
		return TxConfig{}, err
	}
	cuLimit, err := envUint32(prefix+"_COMPUTE_UNIT_LIMIT", 0)
	if err != nil {
		return TxConfig{}, err
	}
	cuPrice, err := envUint64(prefix+"_COMPUTE_UNIT_PRICE_MICRO_LAMPORTS", 0)
	if err != nil {
		return TxConfig{}, err
	}

	return TxConfig{
		KeypairPath:                   expanded,
		SkipPreflight:                 skipPreflight,
		MaxRetries:                    maxRetries,
		ConfirmTimeout:                confirmTimeout,
		ComputeUnitLimit:              cuLimit,
		ComputeUnitPriceMicroLamports: cuPrice,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	return LogConfig{
		Level:    envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info")),
		Format:   envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text")),
		Output:   envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console")),
		FilePath: envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join("logs", serviceName, serviceName+".log"))),
	}
}

// NormalizeSymbols trims and de-duplicates market symbols, keeping order.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	return out
}
