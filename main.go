package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MitchTurner/pallas/internal/blockfetch"
	"github.com/MitchTurner/pallas/internal/chainsync"
	"github.com/MitchTurner/pallas/internal/config"
	"github.com/MitchTurner/pallas/internal/handshake"
	"github.com/MitchTurner/pallas/internal/localstate"
	"github.com/MitchTurner/pallas/internal/localtx"
	"github.com/MitchTurner/pallas/internal/plexer"
	"github.com/MitchTurner/pallas/internal/protocol"
)

var (
	cfgPath  string
	logLevel string
	cfg      config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "pallas",
		Short: "Drive the ouroboros mini-protocols against a peer",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace|debug|info|warn|error")

	root.AddCommand(blockFetchCmd(), chainSyncCmd(), queryCmd(), submitCmd())

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func parsePoint(slot uint64, hashHex string) (protocol.Point, error) {
	if hashHex == "" {
		return protocol.Origin(), nil
	}
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return protocol.Point{}, fmt.Errorf("point hash: %w", err)
	}
	return protocol.Specific(slot, hash), nil
}

func blockFetchCmd() *cobra.Command {
	var slot uint64
	var hashHex string

	cmd := &cobra.Command{
		Use:   "blockfetch",
		Short: "Download one block from a node-to-node peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			point, err := parsePoint(slot, hashHex)
			if err != nil {
				return err
			}

			bearer, err := plexer.ConnectTCP(cfg.Address)
			if err != nil {
				return err
			}
			plx := plexer.New(bearer)
			hsChannel := plx.UseClientChannel(protocol.PROTOCOL_N2N_HANDSHAKE)
			bfChannel := plx.UseClientChannel(protocol.PROTOCOL_N2N_BLOCK_FETCH)
			plx.Spawn()
			defer plx.Close()

			confirmation, err := handshake.NewClient(hsChannel).
				Handshake(handshake.V4AndAbove(cfg.NetworkMagic))
			if err != nil {
				return err
			}
			if !confirmation.Accepted {
				return fmt.Errorf("handshake refused: %v", confirmation.Refusal)
			}
			logrus.WithField("version", confirmation.Version).Info("handshake accepted")

			block, err := blockfetch.NewClient(bfChannel).FetchSingle(point)
			if err != nil {
				return err
			}
			logrus.WithField("size", len(block)).Info("downloaded block")
			fmt.Println(hex.EncodeToString(block))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&slot, "slot", 0, "slot of the block to fetch")
	cmd.Flags().StringVar(&hashHex, "hash", "", "hex hash of the block to fetch")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func chainSyncCmd() *cobra.Command {
	var slot uint64
	var hashHex string
	var steps int

	cmd := &cobra.Command{
		Use:   "chainsync",
		Short: "Follow the chain from the local node over its socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			point, err := parsePoint(slot, hashHex)
			if err != nil {
				return err
			}

			bearer, err := plexer.ConnectUnix(cfg.SocketPath)
			if err != nil {
				return err
			}
			plx := plexer.New(bearer)
			hsChannel := plx.UseClientChannel(protocol.PROTOCOL_N2C_HANDSHAKE)
			csChannel := plx.UseClientChannel(protocol.PROTOCOL_N2C_CHAIN_SYNC)
			plx.Spawn()
			defer plx.Close()

			confirmation, err := handshake.NewClient(hsChannel).
				Handshake(handshake.V1AndAbove(cfg.NetworkMagic))
			if err != nil {
				return err
			}
			if !confirmation.Accepted {
				return fmt.Errorf("handshake refused: %v", confirmation.Refusal)
			}

			client := chainsync.NewN2CClient(csChannel)
			intersect, _, err := client.FindIntersect([]protocol.Point{point})
			if err != nil {
				return err
			}
			if intersect == nil {
				return fmt.Errorf("no intersection at %v", point)
			}
			logrus.WithField("point", intersect.String()).Info("intersected")

			for i := 0; i < steps; i++ {
				var next chainsync.NextResponse[chainsync.BlockContent]
				if client.HasAgency() {
					next, err = client.RequestNext()
				} else {
					next, err = client.RecvWhileMustReply()
				}
				if err != nil {
					return err
				}
				switch next.Kind {
				case chainsync.NextRollForward:
					logrus.WithField("size", len(next.Content)).Info("roll forward")
				case chainsync.NextRollBackward:
					logrus.WithField("point", next.Point.String()).Info("roll backward")
				case chainsync.NextAwait:
					logrus.Info("tip of chain reached")
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&slot, "slot", 0, "slot of the intersect point")
	cmd.Flags().StringVar(&hashHex, "hash", "", "hex hash of the intersect point (origin if omitted)")
	cmd.Flags().IntVar(&steps, "steps", 10, "number of sync steps to run")
	return cmd
}

// getSystemStart is the canonical encoding of the system start query.
var getSystemStart, _ = cbor.Marshal([]any{0, []any{0, []any{1}}})

func queryCmd() *cobra.Command {
	var queryHex string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one local state query against the local node",
		RunE: func(cmd *cobra.Command, args []string) error {
			bearer, err := plexer.ConnectUnix(cfg.SocketPath)
			if err != nil {
				return err
			}
			plx := plexer.New(bearer)
			hsChannel := plx.UseClientChannel(protocol.PROTOCOL_N2C_HANDSHAKE)
			lsChannel := plx.UseClientChannel(protocol.PROTOCOL_N2C_STATE_QUERY)
			plx.Spawn()
			defer plx.Close()

			confirmation, err := handshake.NewClient(hsChannel).
				Handshake(handshake.V1AndAbove(cfg.NetworkMagic))
			if err != nil {
				return err
			}
			if !confirmation.Accepted {
				return fmt.Errorf("handshake refused: %v", confirmation.Refusal)
			}

			query := cbor.RawMessage(getSystemStart)
			if queryHex != "" {
				raw, err := hex.DecodeString(queryHex)
				if err != nil {
					return fmt.Errorf("query: %w", err)
				}
				query = raw
			}

			client := localstate.NewClient(lsChannel)
			if err := client.Acquire(nil); err != nil {
				return err
			}
			result, err := client.Query(query)
			if err != nil {
				return err
			}
			if err := client.Release(); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(result))
			return client.Done()
		},
	}
	cmd.Flags().StringVar(&queryHex, "query", "", "hex CBOR query (default: system start)")
	return cmd
}

func submitCmd() *cobra.Command {
	var txFile string
	var era uint16

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a transaction to the local node",
		RunE: func(cmd *cobra.Command, args []string) error {
			tx, err := os.ReadFile(txFile)
			if err != nil {
				return err
			}

			bearer, err := plexer.ConnectUnix(cfg.SocketPath)
			if err != nil {
				return err
			}
			plx := plexer.New(bearer)
			hsChannel := plx.UseClientChannel(protocol.PROTOCOL_N2C_HANDSHAKE)
			txChannel := plx.UseClientChannel(protocol.PROTOCOL_N2C_TX_SUBMISSION)
			plx.Spawn()
			defer plx.Close()

			confirmation, err := handshake.NewClient(hsChannel).
				Handshake(handshake.V1AndAbove(cfg.NetworkMagic))
			if err != nil {
				return err
			}
			if !confirmation.Accepted {
				return fmt.Errorf("handshake refused: %v", confirmation.Refusal)
			}

			client := localtx.NewClient(txChannel)
			result, err := client.SubmitTx(era, tx)
			if err != nil {
				return err
			}
			if result.Accepted {
				logrus.Info("transaction accepted")
			} else {
				logrus.WithField("reason", hex.EncodeToString(result.Reason)).Warn("transaction rejected")
			}
			return client.Done()
		},
	}
	cmd.Flags().StringVar(&txFile, "tx-file", "", "file holding the raw tx CBOR")
	cmd.Flags().Uint16Var(&era, "era", 5, "era tag of the transaction")
	_ = cmd.MarkFlagRequired("tx-file")
	return cmd
}
