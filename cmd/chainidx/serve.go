package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaychain/chainidx/internal/config"
	"github.com/relaychain/chainidx/internal/pipeline"
	"github.com/relaychain/chainidx/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ingest newline-delimited JSON blocks from stdin",
	Long: `serve runs the batch aggregator and pipeline as a long-lived process,
reading one JSON-encoded block per line from stdin until EOF. A
termination signal is checked each time a line has been read; once one
has arrived, serve flushes any accumulated batch and exits. A signal
that arrives while serve waits on stdin takes effect at the next line.
At EOF serve also flushes the accumulated batch before exiting.

The upstream block source and wire format are external collaborators
(spec.md §1); newline-delimited JSON on stdin is this repo's stand-in.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// wireOutput is one JSON-encoded output within a wireTx.
type wireOutput struct {
	Index    uint32  `json:"index"`
	Value    uint64  `json:"value"`
	Address  *string `json:"address,omitempty"`
	Coinbase bool    `json:"coinbase,omitempty"`
}

// wireInput is one JSON-encoded outpoint spent by a wireTx.
type wireInput struct {
	TxHash string `json:"tx_hash"`
	Vout   uint32 `json:"vout"`
}

// wireTx is one JSON-encoded transaction within a wireBlock.
type wireTx struct {
	Hash     string       `json:"hash"`
	Coinbase bool         `json:"coinbase,omitempty"`
	Outputs  []wireOutput `json:"outputs"`
	Inputs   []wireInput  `json:"inputs,omitempty"`
}

// wireBlock is the stdin NDJSON framing for one raw block.
type wireBlock struct {
	Height   uint64   `json:"height"`
	Hash     string   `json:"hash"`
	PrevHash string   `json:"prev_hash"`
	Txs      []wireTx `json:"txs"`
}

// rawBlockParser implements types.Parser by decoding the JSON wire
// format serve reads from stdin. Deferring the json.Unmarshal to parse
// time (rather than at read time) keeps the per-line read path on the
// hot path cheap, matching spec.md §4.4's "parsing is deferred to
// dispatch time" contract.
type rawBlockParser struct{}

func (rawBlockParser) Parse(info types.BlockInfo) (*types.ParsedBlock, error) {
	var wb wireBlock
	if err := json.Unmarshal(info.Raw, &wb); err != nil {
		return nil, fmt.Errorf("serve: decoding block at height %d: %w", info.Height, err)
	}

	hash, err := types.HashFromDisplay(wb.Hash)
	if err != nil {
		return nil, err
	}
	prevHash, err := types.HashFromDisplay(wb.PrevHash)
	if err != nil {
		return nil, err
	}

	txs := make([]types.ParsedTx, len(wb.Txs))
	for i, wtx := range wb.Txs {
		txHash, err := types.HashFromDisplay(wtx.Hash)
		if err != nil {
			return nil, err
		}
		outputs := make([]types.ParsedOutput, len(wtx.Outputs))
		for j, wo := range wtx.Outputs {
			outputs[j] = types.ParsedOutput{Index: wo.Index, Value: wo.Value, Address: wo.Address, Coinbase: wo.Coinbase}
		}
		var inputs []types.OutPoint
		if !wtx.Coinbase {
			inputs = make([]types.OutPoint, len(wtx.Inputs))
			for j, wi := range wtx.Inputs {
				spentHash, err := types.HashFromDisplay(wi.TxHash)
				if err != nil {
					return nil, err
				}
				inputs[j] = types.OutPoint{TxHash: spentHash, Vout: wi.Vout}
			}
		}
		txs[i] = types.ParsedTx{Hash: txHash, Coinbase: wtx.Coinbase, Outputs: outputs, Inputs: inputs}
	}

	return &types.ParsedBlock{Height: wb.Height, Hash: hash, PrevHash: prevHash, Txs: txs}, nil
}

// peekBlockMeta extracts height, hash, and transaction count from a raw
// line without fully decoding every tx's outputs and inputs, the cheap
// header-level read types.BlockInfo assumes is available ahead of a full
// parse (see types.BlockInfo's doc comment).
func peekBlockMeta(line []byte) (types.BlockInfo, error) {
	var meta struct {
		Height uint64 `json:"height"`
		Hash   string `json:"hash"`
		Txs    []struct {
			Hash string `json:"hash"`
		} `json:"txs"`
	}
	if err := json.Unmarshal(line, &meta); err != nil {
		return types.BlockInfo{}, fmt.Errorf("serve: peeking block header: %w", err)
	}
	hash, err := types.HashFromDisplay(meta.Hash)
	if err != nil {
		return types.BlockInfo{}, err
	}
	raw := make([]byte, len(line))
	copy(raw, line)
	return types.BlockInfo{Height: meta.Height, Hash: hash, TxCount: len(meta.Txs), Raw: raw}, nil
}

func initialPipelineMode(m config.Mode) pipeline.Mode {
	if m == config.ModeNormal {
		return pipeline.Atomic
	}
	return pipeline.Bulk
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.closeFn()

	if err := runStartupRecovery(ctx, a.store); err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			a.logger.Info("serve: shutting down, flushing pending batch")
			return a.store.Flush(context.Background())
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		info, err := peekBlockMeta(line)
		if err != nil {
			return err
		}
		if err := a.store.Insert(ctx, info); err != nil {
			return fmt.Errorf("serve: inserting block at height %d: %w", info.Height, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("serve: reading stdin: %w", err)
	}

	return a.store.Flush(ctx)
}
