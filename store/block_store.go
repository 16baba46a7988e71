package store

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	"github.com/tendermint/tm-db/memdb"

	"pbftsim_demo/types"
)

const (
	prefixBlock = "block:"
	prefixEnd   = "block;" // ':'+1，作为区块key的迭代上界
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	ErrBlockNotFound = errors.New("block not found")
)

// Store 保存已经提交的区块，engine只依赖这个接口
type Store interface {
	SaveBlock(block *types.Block) error
	LoadBlock(sequence int64) (*types.Block, error)
	Blocks() ([]*types.Block, error)
	Reset() error
}

// NewMemBlockStore 区块只在进程生命周期内保存，不做持久化
func NewMemBlockStore(logger log.Logger) *BlockStore {
	return NewBlockStoreWithDB(memdb.NewDB(), logger)
}

func NewBlockStoreWithDB(db tmdb.DB, logger log.Logger) *BlockStore {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BlockStore{db: db, logger: logger}
}

type BlockStore struct {
	db tmdb.DB

	logger log.Logger
}

var _ Store = (*BlockStore)(nil)

func (bs *BlockStore) SetLogger(logger log.Logger) {
	bs.logger = logger
}

// key按sequence补零，保证迭代顺序就是提交顺序
func blockKey(sequence int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, sequence))
}

func (bs *BlockStore) SaveBlock(block *types.Block) error {
	if block == nil {
		return errors.New("nil block")
	}
	bz, err := json.Marshal(block)
	if err != nil {
		return errors.Wrap(err, "marshal block")
	}
	if err := bs.db.Set(blockKey(block.Sequence), bz); err != nil {
		return errors.Wrapf(err, "save block %d", block.Sequence)
	}
	bs.logger.Debug("saved block", "sequence", block.Sequence, "digest", block.Digest)
	return nil
}

func (bs *BlockStore) LoadBlock(sequence int64) (*types.Block, error) {
	bz, err := bs.db.Get(blockKey(sequence))
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, errors.Wrapf(ErrBlockNotFound, "sequence %d", sequence)
	}
	block := new(types.Block)
	if err := json.Unmarshal(bz, block); err != nil {
		return nil, errors.Wrapf(err, "unmarshal block %d", sequence)
	}
	return block, nil
}

// Blocks 按提交顺序返回全部区块
func (bs *BlockStore) Blocks() ([]*types.Block, error) {
	itr, err := bs.db.Iterator([]byte(prefixBlock), []byte(prefixEnd))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	blocks := []*types.Block{}
	for ; itr.Valid(); itr.Next() {
		block := new(types.Block)
		if err := json.Unmarshal(itr.Value(), block); err != nil {
			return nil, errors.Wrapf(err, "unmarshal block at %s", itr.Key())
		}
		blocks = append(blocks, block)
	}
	return blocks, itr.Error()
}

// Reset 重新初始化模拟时清空所有区块
func (bs *BlockStore) Reset() error {
	itr, err := bs.db.Iterator([]byte(prefixBlock), []byte(prefixEnd))
	if err != nil {
		return err
	}
	keys := [][]byte{}
	for ; itr.Valid(); itr.Next() {
		keys = append(keys, append([]byte{}, itr.Key()...))
	}
	if err := itr.Close(); err != nil {
		return err
	}

	batch := bs.db.NewBatch()
	defer batch.Close()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	return batch.Write()
}

func (bs *BlockStore) GetDB() tmdb.DB {
	return bs.db
}
