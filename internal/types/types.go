package types

// OutPoint is the natural key of an output before it has a surrogate id:
// the hash of the transaction that created it and its index within that
// transaction.
type OutPoint struct {
	TxHash Hash
	Vout   uint32
}

// Block is a surrogate-id-assigned block row, ready for insertion.
type Block struct {
	ID       int64
	Height   uint64
	Hash     Hash
	PrevHash Hash
}

// Tx is a surrogate-id-assigned transaction row.
type Tx struct {
	ID       int64
	Height   uint64
	Hash     Hash
	Coinbase bool
}

// Output is a surrogate-id-assigned output row. TxID is only valid once
// the owning transaction's id has been resolved via the tx id map built
// by the tx writer stage.
type Output struct {
	ID       int64
	Height   uint64
	TxID     int64
	TxHash   Hash // retained for id-map resolution and UTXO cache keys
	Index    uint32
	Value    uint64
	Address  *string
	Coinbase bool
}

// Outpoint returns the natural key for the output this row represents.
func (o Output) Outpoint() OutPoint {
	return OutPoint{TxHash: o.TxHash, Vout: o.Index}
}

// Input is a surrogate-id-assigned input row. OutputID is only valid
// once the referenced output has been resolved from the UTXO cache or a
// fetch-missing query.
type Input struct {
	ID       int64
	Height   uint64
	OutputID int64
	Spends   OutPoint // the outpoint being spent, prior to resolution
}

// ParsedOutput is an output as produced by the parser, before surrogate
// ids exist.
type ParsedOutput struct {
	Index    uint32
	Value    uint64
	Address  *string
	Coinbase bool
}

// ParsedTx is a transaction as produced by the parser, before surrogate
// ids exist. Coinbase transactions carry no Inputs: there is no real
// spent output to resolve for the chain's implicit coinbase input.
type ParsedTx struct {
	Hash     Hash
	Coinbase bool
	Outputs  []ParsedOutput
	Inputs   []OutPoint
}

// ParsedBlock is a block as produced by the parser, before surrogate ids
// exist for any of its transactions, outputs, or inputs.
type ParsedBlock struct {
	Height   uint64
	Hash     Hash
	PrevHash Hash
	Txs      []ParsedTx
}

// TxCount returns the number of transactions in the block, the unit the
// batch aggregator thresholds on.
func (b *ParsedBlock) TxCount() int {
	return len(b.Txs)
}

// BlockInfo is the raw, not-yet-parsed block handed to DataStore.Insert.
// Height, Hash, and TxCount are assumed cheap to extract from the
// upstream node's block header/summary without a full parse — most node
// RPCs surface a transaction count alongside the header — which is what
// lets the aggregator track its flush threshold and update its
// max-height cache ahead of the batched parse at flush time.
type BlockInfo struct {
	Height  uint64
	Hash    Hash
	TxCount int
	Raw     []byte
}

// Parser decodes a raw upstream block into its structured form. The
// concrete parser is an external collaborator (spec'd out of scope);
// this interface is the seam the aggregator depends on.
type Parser interface {
	Parse(BlockInfo) (*ParsedBlock, error)
}
