// Package settlement groups committed transactions into hash-linked blocks.
package settlement

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/minio/sha256-simd"

	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/timeoracle"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	pkgerrors "github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
)

// Common errors
var (
	ErrEmptyBatch        = errors.New("empty batch")
	ErrInvalidMerkleRoot = errors.New("invalid merkle root")
	ErrBrokenChain       = errors.New("block does not extend its parent")
)

const (
	blockKeyPrefix = "block:"
	heightKey      = "chain:height"
)

// Block is a sealed batch of committed transactions.
type Block struct {
	Height       uint64                `json:"block_height,string" cbor:"1,keyasint"`
	Transactions []types.HashValue     `json:"transactions" cbor:"2,keyasint"`
	FirstVersion uint64                `json:"first_version,string" cbor:"3,keyasint"`
	LastVersion  uint64                `json:"last_version,string" cbor:"4,keyasint"`
	MerkleRoot   string                `json:"merkle_root" cbor:"5,keyasint"`
	PrevRoot     string                `json:"prev_root" cbor:"6,keyasint"`
	Timestamp    int64                 `json:"block_timestamp" cbor:"7,keyasint"`
	TimeProof    *timeoracle.TimeProof `json:"time_proof" cbor:"8,keyasint"`
}

// Engine seals blocks into the store.
type Engine struct {
	store      storage.Store
	timeOracle timeoracle.TimeOracle
	logger     *logging.Logger
	onSeal     func(*Block)
}

// NewEngine creates a settlement engine. onSeal, when set, is called after
// every sealed block.
func NewEngine(store storage.Store, oracle timeoracle.TimeOracle, logger *logging.Logger, onSeal func(*Block)) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{store: store, timeOracle: oracle, logger: logger.Named("settlement"), onSeal: onSeal}
}

// Seal writes a block holding the committed records and stamps each record
// with the block height. Records that did not commit, or that an earlier
// block already holds, are skipped.
func (e *Engine) Seal(ctx context.Context, records []*transaction.Record) (*Block, error) {
	proof, err := e.timeOracle.GenerateProof()
	if err != nil {
		return nil, err
	}

	var block *Block
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		block = nil
		var hashes []types.HashValue
		var stamped []*transaction.Record
		var first, last uint64
		seen := make(map[types.HashValue]bool, len(records))
		for _, r := range records {
			if !r.Committed() || seen[r.Hash] {
				continue
			}
			seen[r.Hash] = true
			rec, err := ledger.GetRecord(tx, r.Hash)
			if err != nil {
				return err
			}
			if rec.BlockHeight != 0 {
				continue
			}
			hashes = append(hashes, rec.Hash)
			stamped = append(stamped, rec)
			if first == 0 || rec.Version < first {
				first = rec.Version
			}
			if rec.Version > last {
				last = rec.Version
			}
		}
		if len(hashes) == 0 {
			return ErrEmptyBatch
		}

		root, err := calculateMerkleRoot(hashes)
		if err != nil {
			return err
		}
		height, prev, err := latest(tx)
		if err != nil {
			return err
		}

		block = &Block{
			Height:       height + 1,
			Transactions: hashes,
			FirstVersion: first,
			LastVersion:  last,
			MerkleRoot:   root,
			Timestamp:    proof.Timestamp,
			TimeProof:    proof,
		}
		if prev != nil {
			block.PrevRoot = prev.MerkleRoot
		}

		for _, rec := range stamped {
			rec.BlockHeight = block.Height
			if err := ledger.PutRecord(tx, rec); err != nil {
				return err
			}
		}

		data, err := types.EncodeCanonical(block)
		if err != nil {
			return pkgerrors.StorageWrapWithCode(err, pkgerrors.OpSerialize, pkgerrors.StorageErrSerialization, "failed to encode block")
		}
		if err := tx.Set(blockKey(block.Height), data, 0); err != nil {
			return err
		}
		return tx.Set(heightKey, binary.BigEndian.AppendUint64(nil, block.Height), 0)
	})
	if err != nil {
		return nil, err
	}

	included := make(map[types.HashValue]bool, len(block.Transactions))
	for _, h := range block.Transactions {
		included[h] = true
	}
	for _, rec := range records {
		if included[rec.Hash] {
			rec.BlockHeight = block.Height
		}
	}

	e.logger.Debug("Sealed block",
		"height", block.Height,
		"transactions", len(block.Transactions),
		"root", block.MerkleRoot,
	)
	if e.onSeal != nil {
		e.onSeal(block)
	}
	return block, nil
}

// Height returns the latest block height, zero before the first block.
func (e *Engine) Height(ctx context.Context) (uint64, error) {
	var height uint64
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		height, err = getHeight(tx)
		return err
	})
	return height, err
}

// GetBlock returns the block at height.
func (e *Engine) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	var block *Block
	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		block, err = getBlock(tx, height)
		return err
	})
	if storage.IsNotFound(err) {
		return nil, pkgerrors.NewStorageError(pkgerrors.StorageErrNotFound,
			"block "+strconv.FormatUint(height, 10)+" not found", err)
	}
	return block, err
}

// VerifyBlock checks the block's time proof, its merkle root and, when
// parent is given, the link to it.
func (e *Engine) VerifyBlock(block, parent *Block) error {
	if block == nil {
		return errors.New("block cannot be nil")
	}

	if err := e.timeOracle.VerifyProof(block.TimeProof); err != nil {
		return err
	}

	calculatedRoot, err := calculateMerkleRoot(block.Transactions)
	if err != nil {
		return err
	}
	if calculatedRoot != block.MerkleRoot {
		return ErrInvalidMerkleRoot
	}

	if parent != nil && (parent.Height+1 != block.Height || parent.MerkleRoot != block.PrevRoot) {
		return ErrBrokenChain
	}
	return nil
}

func blockKey(height uint64) string {
	return blockKeyPrefix + strconv.FormatUint(height, 10)
}

func getHeight(tx storage.Tx) (uint64, error) {
	data, err := tx.Get(heightKey)
	if storage.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, pkgerrors.StorageErrorf(pkgerrors.StorageErrInvalidValue, "invalid block height value")
	}
	return binary.BigEndian.Uint64(data), nil
}

func getBlock(tx storage.Tx, height uint64) (*Block, error) {
	data, err := tx.Get(blockKey(height))
	if err != nil {
		return nil, err
	}
	var block Block
	if err := types.DecodeCanonical(data, &block); err != nil {
		return nil, pkgerrors.StorageWrapWithCode(err, pkgerrors.OpDeserialize, pkgerrors.StorageErrDeserialization, "failed to decode block")
	}
	return &block, nil
}

func latest(tx storage.Tx) (uint64, *Block, error) {
	height, err := getHeight(tx)
	if err != nil || height == 0 {
		return 0, nil, err
	}
	block, err := getBlock(tx, height)
	if err != nil {
		return 0, nil, err
	}
	return height, block, nil
}

// calculateMerkleRoot builds a binary SHA-256 tree over the transaction
// hashes, carrying an odd node up unchanged.
func calculateMerkleRoot(hashes []types.HashValue) (string, error) {
	if len(hashes) == 0 {
		return "", ErrEmptyBatch
	}

	level := make([][32]byte, len(hashes))
	for i, h := range hashes {
		level[i] = sha256.Sum256(h[:])
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, sha256.Sum256(append(level[i][:], level[i+1][:]...)))
		}
		level = next
	}
	return hex.EncodeToString(level[0][:]), nil
}
