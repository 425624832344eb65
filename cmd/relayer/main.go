package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/archive"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/chain/factory"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
	depositpg "github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit/postgres"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/queue"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/reconciler"
	"github.com/threshold-network/tbtc-crosschain-relayer/internal/secrets"
)

func main() {
	var (
		chainName = flag.String("chain-name", "", "destination chain name (required)")
		chainType = flag.String("chain-type", "EVM", "destination chain type: EVM|STARKNET|SUI|SOLANA")

		l1RPC      = flag.String("l1-rpc", envOr("L1_RPC", ""), "L1 (Ethereum) JSON-RPC URL (required; env L1_RPC)")
		l2RPC      = flag.String("l2-rpc", envOr("L2_RPC", ""), "L2 JSON-RPC URL (env L2_RPC; optional for endpoint mode)")
		l2WsRPC    = flag.String("l2-ws-rpc", "", "L2 websocket URL for Solana log subscriptions (defaults to --l2-rpc)")
		l1Contract = flag.String("l1-contract", "", "L1BitcoinDepositor address (required)")
		l2Contract = flag.String("l2-contract", "", "L2BitcoinDepositor address or program id")
		vaultAddr  = flag.String("vault", "", "TBTCVault address (required)")

		useEndpoint  = flag.Bool("use-endpoint", false, "consume deposit intents from the off-chain feed instead of L2 subscriptions")
		l2StartBlock = flag.Uint64("l2-start-block", envUint("L2_START_BLOCK", 0), "lower bound for backfill block search (env L2_START_BLOCK)")

		secretsDriver = flag.String("secrets-driver", secrets.DriverEnv, "private key source: env|aws")
		privateKeyKey = flag.String("private-key-secret", "PRIVATE_KEY", "secret name (aws) or env var (env) holding the L1 signing key")

		storeDriver = flag.String("store-driver", "json", "deposit store driver: json|postgres|memory")
		jsonPath    = flag.String("json-path", envOr("JSON_PATH", "./data/"), "deposit store directory for the json driver (env JSON_PATH)")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		queueDriver   = flag.String("queue-driver", queue.DriverKafka, "intent feed driver for endpoint mode: kafka|stdio")
		queueBrokers  = flag.String("queue-brokers", "", "comma-separated Kafka brokers (required for kafka)")
		queueGroup    = flag.String("queue-group", "tbtc-relayer", "Kafka consumer group")
		queueTopics   = flag.String("queue-topics", "", "comma-separated intent topics (required for endpoint mode)")
		queueMaxBytes = flag.Int("queue-max-bytes", 10<<20, "maximum Kafka message size (bytes)")

		archiveDriver = flag.String("archive-driver", "", "finalized-record archive driver: s3|memory (empty disables)")
		archiveBucket = flag.String("archive-bucket", "", "S3 bucket for the archive (required for s3)")
		archivePrefix = flag.String("archive-prefix", "deposits", "key prefix inside the archive")

		initializeEvery = flag.Duration("initialize-interval", time.Minute, "interval of the QUEUED reconcile pass")
		finalizeEvery   = flag.Duration("finalize-interval", time.Minute, "interval of the INITIALIZED reconcile pass")
		pastScanEvery   = flag.Duration("past-scan-interval", 10*time.Minute, "interval of the historical deposit scan")
		pastMinutes     = flag.Int("past-minutes", 60, "backfill window of the historical scan (minutes)")
		archiveEvery    = flag.Duration("archive-interval", 15*time.Minute, "interval of the finalized-record export")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *chainName == "" || *l1RPC == "" || *l1Contract == "" || *vaultAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --chain-name, --l1-rpc, --l1-contract, and --vault are required")
		os.Exit(2)
	}
	parsedType, err := chain.ParseType(*chainType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *pastMinutes <= 0 {
		fmt.Fprintln(os.Stderr, "error: --past-minutes must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secretProvider, err := secrets.NewProvider(ctx, *secretsDriver)
	if err != nil {
		log.Error("init secrets provider", "err", err)
		os.Exit(2)
	}
	privateKey, err := secretProvider.Get(ctx, *privateKeyKey)
	if err != nil {
		log.Error("load private key", "err", err)
		os.Exit(2)
	}

	var store deposit.Store
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "json":
		store, err = deposit.NewJSONStore(*jsonPath, log)
		if err != nil {
			log.Error("init json store", "err", err)
			os.Exit(2)
		}
	case "postgres":
		if strings.TrimSpace(*postgresDSN) == "" {
			fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required when --store-driver=postgres")
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()
		pgStore, err := depositpg.New(pool)
		if err != nil {
			log.Error("init postgres store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure deposit schema", "err", err)
			os.Exit(2)
		}
		store = pgStore
	case "memory":
		store = deposit.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	var consumer queue.Consumer
	if *useEndpoint {
		topics := queue.SplitCommaList(*queueTopics)
		if len(topics) == 0 {
			fmt.Fprintln(os.Stderr, "error: --queue-topics is required for endpoint mode")
			os.Exit(2)
		}
		consumer, err = queue.NewConsumer(ctx, queue.ConsumerConfig{
			Driver:   *queueDriver,
			Brokers:  queue.SplitCommaList(*queueBrokers),
			Group:    *queueGroup,
			Topics:   topics,
			MaxBytes: *queueMaxBytes,
		})
		if err != nil {
			log.Error("init intent feed", "err", err)
			os.Exit(2)
		}
		defer func() { _ = consumer.Close() }()
	}

	var archiver archive.Archiver
	switch strings.ToLower(strings.TrimSpace(*archiveDriver)) {
	case "":
		// Archival disabled.
	case archive.DriverMemory:
		archiver = archive.NewMemory(*archivePrefix)
	case archive.DriverS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Error("load aws config", "err", err)
			os.Exit(2)
		}
		archiver, err = archive.New(archive.Config{
			Driver:   archive.DriverS3,
			Prefix:   *archivePrefix,
			Bucket:   *archiveBucket,
			S3Client: s3.NewFromConfig(awsCfg),
		})
		if err != nil {
			log.Error("init archive", "err", err)
			os.Exit(2)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --archive-driver %q\n", *archiveDriver)
		os.Exit(2)
	}

	cfg := chain.Config{
		ChainName:         *chainName,
		ChainType:         parsedType,
		L1RPC:             *l1RPC,
		L2RPC:             *l2RPC,
		L1ContractAddress: *l1Contract,
		L2ContractAddress: *l2Contract,
		VaultAddress:      *vaultAddr,
		PrivateKey:        privateKey,
		UseEndpoint:       *useEndpoint,
		L2StartBlock:      *l2StartBlock,
	}

	handler, err := factory.NewHandler(cfg, factory.Options{
		Store:       store,
		Log:         log,
		Consumer:    consumer,
		SolanaWsRPC: *l2WsRPC,
	})
	if err != nil {
		log.Error("init chain handler", "err", err)
		os.Exit(2)
	}

	if err := handler.Initialize(ctx); err != nil {
		log.Error("initialize chain handler", "err", err)
		os.Exit(1)
	}
	if err := handler.SetupListeners(ctx); err != nil {
		log.Error("setup listeners", "err", err)
		os.Exit(1)
	}

	rec, err := reconciler.New(reconciler.Config{
		InitializeInterval: *initializeEvery,
		FinalizeInterval:   *finalizeEvery,
		PastScanInterval:   *pastScanEvery,
		PastMinutes:        *pastMinutes,
		ArchiveInterval:    *archiveEvery,
	}, []chain.Handler{handler}, store, archiver, log)
	if err != nil {
		log.Error("init reconciler", "err", err)
		os.Exit(1)
	}

	log.Info("relayer started", "chain", *chainName, "type", string(parsedType), "store", *storeDriver)
	rec.Run(ctx)
	log.Info("relayer stopped")
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
