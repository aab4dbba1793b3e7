package pipeline

import "github.com/relaychain/chainidx/internal/types"

// ingressMsg is the message shape from the aggregator into TxStage.
type ingressMsg struct {
	batchID uint64
	blocks  []types.ParsedBlock
}

// txToOutputsMsg is the message shape from TxStage into OutputsStage.
type txToOutputsMsg struct {
	batchID uint64
	blocks  []types.ParsedBlock
	outputs []types.Output
	inputs  []types.Input
	txIDMap map[types.Hash]int64
	pending []string
}

// outputsToInputsMsg is the message shape from OutputsStage into
// InputsStage.
type outputsToInputsMsg struct {
	batchID uint64
	blocks  []types.ParsedBlock
	inputs  []types.Input
	pending []string
}

// inputsToBlocksMsg is the message shape from InputsStage into
// BlocksStage.
type inputsToBlocksMsg struct {
	batchID uint64
	blocks  []types.ParsedBlock
	pending []string
}
