package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"zkcash/zkcash-pool/logging"
	merkle_tree "zkcash/zkcash-pool/merkle-tree"
	"zkcash/zkcash-pool/pool"
	"zkcash/zkcash-pool/poseidon"
	"zkcash/zkcash-pool/prover"
	"zkcash/zkcash-pool/server"

	gnarkLogger "github.com/consensys/gnark/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	runCli()
}

func runCli() {
	gnarkLogger.Set(*logging.Logger())
	app := cli.App{
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name: "setup",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.StringFlag{Name: "output-vkey", Usage: "Output file for the verifying key", Required: true},
					&cli.UintFlag{Name: "tree-height", Usage: "Merkle tree height", Required: true},
				},
				Action: func(context *cli.Context) error {
					path := context.String("output")
					pathVkey := context.String("output-vkey")
					treeHeight := uint32(context.Uint("tree-height"))

					logging.Logger().Info().Msg("Running setup")
					system, err := prover.SetupWithdraw(treeHeight)
					if err != nil {
						return err
					}
					if err := prover.WriteProvingSystem(system, path, pathVkey); err != nil {
						return err
					}

					logging.Logger().Info().Msg("Setup completed successfully")
					return nil
				},
			},
			{
				Name: "r1cs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.UintFlag{Name: "tree-height", Usage: "Merkle tree height", Required: true},
				},
				Action: func(context *cli.Context) error {
					path := context.String("output")
					treeHeight := uint32(context.Uint("tree-height"))

					logging.Logger().Info().Msg("Building R1CS")
					cs, err := prover.R1CSWithdraw(treeHeight)
					if err != nil {
						return err
					}
					file, err := os.Create(path)
					if err != nil {
						return err
					}
					defer func(file *os.File) {
						err := file.Close()
						if err != nil {
							logging.Logger().Error().Err(err).Msg("error closing file")
						}
					}(file)
					written, err := cs.WriteTo(file)
					if err != nil {
						return err
					}
					logging.Logger().Info().Int64("bytesWritten", written).Msg("R1CS written to file")
					return nil
				},
			},
			{
				Name: "import-setup",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.StringFlag{Name: "pk", Usage: "Proving key", Required: true},
					&cli.StringFlag{Name: "vk", Usage: "Verifying key", Required: true},
					&cli.UintFlag{Name: "tree-height", Usage: "Merkle tree height", Required: true},
				},
				Action: func(context *cli.Context) error {
					path := context.String("output")
					pk := context.String("pk")
					vk := context.String("vk")
					treeHeight := uint32(context.Uint("tree-height"))

					logging.Logger().Info().Msg("Importing setup")
					system, err := prover.ImportWithdrawSetup(treeHeight, pk, vk)
					if err != nil {
						return err
					}
					if err := prover.WriteProvingSystem(system, path, ""); err != nil {
						return err
					}

					logging.Logger().Info().Msg("Setup imported successfully")
					return nil
				},
			},
			{
				Name: "export-vk",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keys-file", Aliases: []string{"k"}, Usage: "proving system file", Required: true},
					&cli.StringFlag{Name: "output", Usage: "output file", Required: true},
				},
				Action: func(context *cli.Context) error {
					keysFile := context.String("keys-file")
					outputFile := context.String("output")

					system, err := prover.ReadSystemFromFile(keysFile)
					if err != nil {
						return fmt.Errorf("failed to read proving system: %v", err)
					}

					var buf bytes.Buffer
					_, err = system.VerifyingKey.WriteTo(&buf)
					if err != nil {
						return fmt.Errorf("failed to serialize verification key: %v", err)
					}

					err = os.MkdirAll(filepath.Dir(outputFile), 0755)
					if err != nil {
						return fmt.Errorf("failed to create output directory: %v", err)
					}

					var dataToWrite = buf.Bytes()

					err = os.WriteFile(outputFile, dataToWrite, 0644)
					if err != nil {
						return fmt.Errorf("failed to write verification key to file: %v", err)
					}

					logging.Logger().Info().
						Str("file", outputFile).
						Int("bytes", len(dataToWrite)).
						Msg("Verification key exported successfully")

					return nil
				},
			},
			{
				Name: "gen-test-params",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "tree-height", Usage: "height of the mock tree", DefaultText: "16", Value: 16},
					&cli.Uint64Flag{Name: "amount", Usage: "withdrawal amount", DefaultText: "100", Value: 100},
					&cli.BoolFlag{Name: "with-change", Usage: "include a change commitment", Value: false},
					&cli.BoolFlag{Name: "random", Usage: "randomize the note secrets", Value: false},
				},
				Action: func(context *cli.Context) error {
					treeHeight := context.Int("tree-height")
					amount := context.Uint64("amount")
					logging.Logger().Info().Msg("Generating test params for the withdraw circuit")

					params := prover.BuildTestWithdraw(treeHeight, amount, context.Bool("with-change"), context.Bool("random"))
					r, err := json.Marshal(&params)
					if err != nil {
						return err
					}

					fmt.Println(string(r))
					return nil
				},
			},
			{
				Name: "empty-root",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: "depth", Usage: "Merkle tree depth", Required: true},
				},
				Action: func(context *cli.Context) error {
					root, err := merkle_tree.EmptyRoot(uint32(context.Uint("depth")))
					if err != nil {
						return err
					}
					fmt.Println(poseidon.ToHex(root))
					return nil
				},
			},
			{
				Name:  "init-pool",
				Flags: append(poolStateFlags(), &cli.UintFlag{Name: "depth", Usage: "Merkle tree depth for the new pool", Required: true}),
				Action: func(context *cli.Context) error {
					node, err := newLocalNode(context)
					if err != nil {
						return err
					}
					receipt, err := node.Apply(&pool.Instruction{
						Tag:        pool.TagInitialize,
						Initialize: &pool.Initialize{Depth: uint32(context.Uint("depth"))},
					})
					if err != nil {
						return err
					}
					return printJSON(receipt)
				},
			},
			{
				Name: "shield",
				Flags: append(poolStateFlags(),
					&cli.Uint64Flag{Name: "amount", Usage: "deposit amount", Required: true},
					&cli.StringFlag{Name: "commitment", Usage: "note commitment (hex format)", Required: true},
				),
				Action: func(context *cli.Context) error {
					commitment, err := parseFieldElement(context.String("commitment"))
					if err != nil {
						return fmt.Errorf("invalid commitment: %v", err)
					}
					node, err := newLocalNode(context)
					if err != nil {
						return err
					}
					receipt, err := node.Apply(&pool.Instruction{
						Tag:    pool.TagShield,
						Shield: &pool.Shield{Amount: context.Uint64("amount"), Commitment: commitment},
					})
					if err != nil {
						return err
					}
					return printJSON(receipt)
				},
			},
			{
				Name: "withdraw",
				Flags: append(poolStateFlags(),
					&cli.StringFlag{Name: "root", Usage: "Merkle root the proof was built against (hex format)", Required: true},
					&cli.StringFlag{Name: "nullifier-hash", Usage: "nullifier hash of the spent note (hex format)", Required: true},
					&cli.StringFlag{Name: "recipient", Usage: "recipient (hex format)", Required: true},
					&cli.Uint64Flag{Name: "amount", Usage: "withdrawal amount", Required: true},
					&cli.StringFlag{Name: "output-commitment", Usage: "change note commitment (hex format)", Required: false},
				),
				Action: func(context *cli.Context) error {
					logging.Logger().Info().Msg("Reading proof from stdin")
					proofBytes, err := io.ReadAll(os.Stdin)
					if err != nil {
						return fmt.Errorf("failed to read proof from stdin: %v", err)
					}
					var proof prover.Proof
					if err := json.Unmarshal(proofBytes, &proof); err != nil {
						return fmt.Errorf("failed to unmarshal proof: %v", err)
					}
					rawProof, err := prover.ProofToRawBytes(&proof)
					if err != nil {
						return err
					}

					withdraw := &pool.Withdraw{Proof: rawProof, Amount: context.Uint64("amount")}
					if withdraw.Root, err = parseFieldElement(context.String("root")); err != nil {
						return fmt.Errorf("invalid root: %v", err)
					}
					if withdraw.NullifierHash, err = parseFieldElement(context.String("nullifier-hash")); err != nil {
						return fmt.Errorf("invalid nullifier hash: %v", err)
					}
					if withdraw.Recipient, err = parseFieldElement(context.String("recipient")); err != nil {
						return fmt.Errorf("invalid recipient: %v", err)
					}
					if change := context.String("output-commitment"); change != "" {
						changeCommitment, err := parseFieldElement(change)
						if err != nil {
							return fmt.Errorf("invalid output commitment: %v", err)
						}
						withdraw.OutputCommitments = []*big.Int{changeCommitment}
					}

					node, err := newLocalNode(context)
					if err != nil {
						return err
					}
					receipt, err := node.Apply(&pool.Instruction{Tag: pool.TagWithdraw, Withdraw: withdraw})
					if err != nil {
						return err
					}
					return printJSON(receipt)
				},
			},
			{
				Name:  "state",
				Flags: poolStateFlags(),
				Action: func(context *cli.Context) error {
					node, err := newLocalNode(context)
					if err != nil {
						return err
					}
					return printJSON(node.Snapshot())
				},
			},
			{
				Name: "start",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json-logging", Usage: "enable JSON logging", Required: false},
					&cli.StringFlag{Name: "pool-address", Usage: "address for the pool server", Value: "0.0.0.0:3001", Required: false},
					&cli.StringFlag{Name: "metrics-address", Usage: "address for the metrics server", Value: "0.0.0.0:9998", Required: false},
					&cli.StringFlag{Name: "keys-dir", Usage: "Directory where key files are stored", Value: "./proving-keys/", Required: false},
					&cli.StringFlag{Name: "state-file", Usage: "Path of the pool state file", Value: "./pool_state.json", Required: false},
					&cli.BoolFlag{Name: "no-download", Usage: "Never download missing key files", Value: false},
					&cli.UintSliceFlag{
						Name:  "preload-height",
						Usage: "Tree heights to load proving systems for at startup (loaded lazily otherwise)",
					},
					&cli.StringFlag{
						Name:  "api-key",
						Usage: "API key required on mutating endpoints (defaults to ZKCASH_API_KEY)",
						Value: "",
					},
					&cli.StringFlag{
						Name:  "redis-url",
						Usage: "Redis URL for queue processing (e.g., redis://localhost:6379)",
						Value: "",
					},
					&cli.BoolFlag{
						Name:  "queue-only",
						Usage: "Run only queue workers (no HTTP server)",
						Value: false,
					},
					&cli.BoolFlag{
						Name:  "server-only",
						Usage: "Run only HTTP server (no queue workers)",
						Value: false,
					},
				},
				Action: func(context *cli.Context) error {
					if context.Bool("json-logging") {
						logging.SetJSONOutput()
					}

					keysDirPath := context.String("keys-dir")
					keys := prover.NewLazyKeyManager(keysDirPath, downloadConfig(context))

					preloadHeights := treeHeights(context.UintSlice("preload-height"))
					if len(preloadHeights) > 0 {
						logKeyFiles(keysDirPath, preloadHeights)
						if err := keys.Preload(preloadHeights); err != nil {
							return err
						}
					}

					store := pool.NewFileStore(context.String("state-file"))
					node, err := server.NewPoolNode(prover.PoolVerifier{Manager: keys}, store)
					if err != nil {
						return fmt.Errorf("failed to restore pool state: %w", err)
					}

					apiKey := context.String("api-key")
					if apiKey == "" {
						apiKey = os.Getenv("ZKCASH_API_KEY")
					}

					redisURL := context.String("redis-url")
					if redisURL == "" {
						redisURL = os.Getenv("REDIS_URL")
					}

					queueOnly := context.Bool("queue-only")
					serverOnly := context.Bool("server-only")

					enableQueue := redisURL != "" && !serverOnly
					enableServer := !queueOnly

					if os.Getenv("QUEUE_MODE") == "true" {
						enableQueue = true
						if os.Getenv("SERVER_MODE") != "true" {
							enableServer = false
						}
					}

					logging.Logger().Info().
						Bool("enable_queue", enableQueue).
						Bool("enable_server", enableServer).
						Str("redis_url", redisURL).
						Msg("Starting pool service")

					var workers []server.QueueWorker
					var redisQueue *server.RedisQueue
					var instance server.RunningService

					if enableQueue {
						if redisURL == "" {
							return fmt.Errorf("Redis URL is required for queue mode. Use --redis-url or set REDIS_URL environment variable")
						}

						redisQueue, err = server.NewRedisQueue(redisURL)
						if err != nil {
							return fmt.Errorf("failed to connect to Redis: %w", err)
						}

						startCleanupRoutines(redisQueue)

						if stats, err := redisQueue.GetQueueStats(); err == nil {
							logging.Logger().Info().Interface("initial_queue_stats", stats).Msg("Redis connection successful")
						}

						logging.Logger().Info().Msg("Starting queue workers")

						instructionWorker := server.NewInstructionWorker(redisQueue, node)
						workers = append(workers, instructionWorker)
						go instructionWorker.Start()

						proofWorker := server.NewProofWorker(redisQueue, keys)
						workers = append(workers, proofWorker)
						go proofWorker.Start()

						logging.Logger().Info().
							Strs("workers_started", []string{"instruction", "proof"}).
							Msg("Queue workers started")
					}

					if enableServer {
						config := &server.EnhancedConfig{
							PoolAddress:    context.String("pool-address"),
							MetricsAddress: context.String("metrics-address"),
							Queue:          &server.QueueConfig{RedisURL: redisURL, Enabled: redisQueue != nil},
							APIKey:         apiKey,
						}

						instance = server.RunEnhanced(config, redisQueue, keys, node)
						logging.Logger().Info().
							Str("pool_address", config.PoolAddress).
							Str("metrics_address", config.MetricsAddress).
							Bool("queue_support", redisQueue != nil).
							Msg("Started pool server")
					}

					if !enableServer && !enableQueue {
						return fmt.Errorf("at least one of server or queue mode must be enabled")
					}

					sigint := make(chan os.Signal, 1)
					signal.Notify(sigint, os.Interrupt)
					<-sigint
					logging.Logger().Info().Msg("Received sigint, shutting down")

					if len(workers) > 0 {
						logging.Logger().Info().Msg("Stopping queue workers...")
						for i, worker := range workers {
							logging.Logger().Info().Int("worker_id", i+1).Msg("Stopping worker")
							worker.Stop()
						}

						time.Sleep(2 * time.Second)
						logging.Logger().Info().Msg("All queue workers stopped")
					}

					if enableServer {
						logging.Logger().Info().Msg("Stopping HTTP server...")
						instance.RequestStop()
						instance.AwaitStop()
						logging.Logger().Info().Msg("HTTP server stopped")
					}

					if redisQueue != nil {
						if stats, err := redisQueue.GetQueueStats(); err == nil {
							logging.Logger().Info().Interface("final_queue_stats", stats).Msg("Final queue statistics")
						}
					}

					logging.Logger().Info().Msg("Shutdown completed")
					return nil
				},
			},
			{
				Name: "prove",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keys-dir", Usage: "Directory where circuit key files are stored", Value: "./proving-keys/", Required: false},
					&cli.BoolFlag{Name: "no-download", Usage: "Never download missing key files", Value: false},
				},
				Action: func(context *cli.Context) error {
					keys := prover.NewLazyKeyManager(context.String("keys-dir"), downloadConfig(context))

					logging.Logger().Info().Msg("Reading params from stdin")
					inputsBytes, err := io.ReadAll(os.Stdin)
					if err != nil {
						return err
					}

					var params prover.WithdrawParameters
					if err := json.Unmarshal(inputsBytes, &params); err != nil {
						return err
					}

					ps, err := keys.GetWithdrawSystem(params.TreeHeight())
					if err != nil {
						return err
					}

					proof, err := prover.ProveWithdraw(ps, &params)
					if err != nil {
						return err
					}
					return printJSON(&proof)
				},
			},
			{
				Name: "verify",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keys-file", Aliases: []string{"k"}, Usage: "proving system file", Required: true},
					&cli.StringFlag{Name: "root", Usage: "Merkle root (hex format)", Required: true},
					&cli.StringFlag{Name: "nullifier-hash", Usage: "nullifier hash (hex format)", Required: true},
					&cli.StringFlag{Name: "recipient", Usage: "recipient (hex format)", Required: true},
					&cli.Uint64Flag{Name: "amount", Usage: "withdrawal amount", Required: true},
					&cli.StringFlag{Name: "output-commitment", Usage: "change note commitment (hex format)", Required: false},
				},
				Action: func(context *cli.Context) error {
					keysFile := context.String("keys-file")

					system, err := prover.ReadSystemFromFile(keysFile)
					if err != nil {
						return fmt.Errorf("failed to read proving system: %v", err)
					}

					logging.Logger().Info().Msg("Reading proof from stdin")
					proofBytes, err := io.ReadAll(os.Stdin)
					if err != nil {
						return fmt.Errorf("failed to read proof from stdin: %v", err)
					}

					var proof prover.Proof
					err = json.Unmarshal(proofBytes, &proof)
					if err != nil {
						return fmt.Errorf("failed to unmarshal proof: %v", err)
					}

					pub := pool.WithdrawPublicInputs{Amount: context.Uint64("amount")}
					if pub.Root, err = parseFieldElement(context.String("root")); err != nil {
						return fmt.Errorf("invalid root: %v", err)
					}
					if pub.NullifierHash, err = parseFieldElement(context.String("nullifier-hash")); err != nil {
						return fmt.Errorf("invalid nullifier hash: %v", err)
					}
					if pub.Recipient, err = parseFieldElement(context.String("recipient")); err != nil {
						return fmt.Errorf("invalid recipient: %v", err)
					}
					pub.OutputCommitment = big.NewInt(0)
					if change := context.String("output-commitment"); change != "" {
						if pub.OutputCommitment, err = parseFieldElement(change); err != nil {
							return fmt.Errorf("invalid output commitment: %v", err)
						}
					}

					if err := prover.VerifyWithdraw(system, &proof, pub); err != nil {
						return fmt.Errorf("verification failed: %v", err)
					}

					logging.Logger().Info().Msg("Verification completed successfully")
					return nil
				},
			},
			{
				Name: "extract-circuit",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Usage: "Output file", Required: true},
					&cli.UintFlag{Name: "tree-height", Usage: "Merkle tree height", Required: true},
				},
				Action: func(context *cli.Context) error {
					path := context.String("output")
					treeHeight := uint32(context.Uint("tree-height"))

					logging.Logger().Info().Msg("Extracting gnark circuit to Lean")
					circuitString, err := prover.ExtractLean(treeHeight)
					if err != nil {
						return err
					}
					file, err := os.Create(path)
					if err != nil {
						return err
					}
					defer func(file *os.File) {
						err := file.Close()
						if err != nil {
							logging.Logger().Error().Err(err).Msg("error closing file")
						}
					}(file)
					written, err := file.WriteString(circuitString)
					if err != nil {
						return err
					}
					logging.Logger().Info().Int("bytesWritten", written).Msg("Lean circuit written to file")

					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Logger().Fatal().Err(err).Msg("App failed.")
	}
}

// poolStateFlags are shared by the commands that operate on a local pool
// state file.
func poolStateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "state-file", Usage: "Path of the pool state file", Value: "./pool_state.json", Required: false},
		&cli.StringFlag{Name: "keys-dir", Usage: "Directory where key files are stored", Value: "./proving-keys/", Required: false},
		&cli.BoolFlag{Name: "no-download", Usage: "Never download missing key files", Value: false},
	}
}

func newLocalNode(context *cli.Context) (*server.PoolNode, error) {
	keys := prover.NewLazyKeyManager(context.String("keys-dir"), downloadConfig(context))
	store := pool.NewFileStore(context.String("state-file"))
	return server.NewPoolNode(prover.PoolVerifier{Manager: keys}, store)
}

func downloadConfig(context *cli.Context) *prover.DownloadConfig {
	if context.Bool("no-download") {
		return prover.LocalKeysConfig()
	}
	return nil
}

func parseFieldElement(s string) (*big.Int, error) {
	value := new(big.Int)
	if err := poseidon.FromHex(value, s); err != nil {
		return nil, err
	}
	return value, nil
}

func printJSON(v interface{}) error {
	r, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(r))
	return nil
}

func treeHeights(values []uint) []uint32 {
	heights := make([]uint32, len(values))
	for i, v := range values {
		heights[i] = uint32(v)
	}
	return heights
}

func logKeyFiles(keysDirPath string, treeHeights []uint32) {
	keys := prover.GetKeys(keysDirPath, treeHeights)
	for _, key := range keys {
		fileInfo, err := os.Stat(key)
		if err != nil {
			if os.IsNotExist(err) {
				logging.Logger().Warn().
					Str("key", key).
					Msg("Key file does not exist yet")
			} else {
				logging.Logger().Error().
					Str("key", key).
					Err(err).
					Msg("Error checking key file")
			}
			continue
		}
		logging.Logger().Info().
			Str("key", key).
			Int64("size", fileInfo.Size()).
			Str("mode", fileInfo.Mode().String()).
			Msg("Key file exists")
	}
}

func startCleanupRoutines(redisQueue *server.RedisQueue) {
	logging.Logger().Info().Msg("Running immediate cleanup on startup")

	if err := redisQueue.CleanupOldRequests(); err != nil {
		logging.Logger().Error().
			Err(err).
			Msg("Failed to cleanup old requests on startup")
	} else {
		logging.Logger().Info().Msg("Startup cleanup of old requests completed")
	}

	if err := redisQueue.CleanupOldResults(); err != nil {
		logging.Logger().Error().
			Err(err).
			Msg("Failed to cleanup old results on startup")
	} else {
		logging.Logger().Info().Msg("Startup cleanup of old results completed")
	}

	// Old request and stuck job cleanup (every 10 minutes)
	go func() {
		requestTicker := time.NewTicker(10 * time.Minute)
		defer requestTicker.Stop()

		logging.Logger().Info().Msg("Started request cleanup routine (every 10 minutes)")

		for range requestTicker.C {
			if err := redisQueue.CleanupOldRequests(); err != nil {
				logging.Logger().Error().
					Err(err).
					Msg("Failed to cleanup old requests")
			}
			if err := redisQueue.CleanupStuckProcessingJobs(); err != nil {
				logging.Logger().Error().
					Err(err).
					Msg("Failed to cleanup stuck processing jobs")
			}
		}
	}()

	// Old result and failed job cleanup (every 1 hour)
	go func() {
		resultTicker := time.NewTicker(1 * time.Hour)
		defer resultTicker.Stop()

		logging.Logger().Info().Msg("Started result cleanup routine (every 1 hour)")

		for range resultTicker.C {
			if err := redisQueue.CleanupOldResults(); err != nil {
				logging.Logger().Error().
					Err(err).
					Msg("Failed to cleanup old results")
			}
			if err := redisQueue.CleanupOldFailedJobs(); err != nil {
				logging.Logger().Error().
					Err(err).
					Msg("Failed to cleanup old failed jobs")
			}
		}
	}()
}
