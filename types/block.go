package types

import (
	"encoding/binary"
	"time"

	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// Block - 本轮leader提议的区块
// Digest只是内容标识，用来区分拜占庭节点伪造的区块，不涉及签名
type Block struct {
	View       int64            `json:"view"`
	Sequence   int64            `json:"sequence"`
	Proposer   int              `json:"proposer"`
	Digest     tmbytes.HexBytes `json:"digest"`
	CommitTime time.Time        `json:"commit_time"`
}

// MakeBlock builds the block proposed for (view, sequence) by proposer. The
// digest is deterministic so that replays of a round produce identical logs.
func MakeBlock(view, sequence int64, proposer int) *Block {
	return &Block{
		View:     view,
		Sequence: sequence,
		Proposer: proposer,
		Digest:   blockDigest(view, sequence, int64(proposer)),
	}
}

func blockDigest(view, sequence, proposer int64) tmbytes.HexBytes {
	bz := make([]byte, 24)
	binary.BigEndian.PutUint64(bz[0:8], uint64(view))
	binary.BigEndian.PutUint64(bz[8:16], uint64(sequence))
	binary.BigEndian.PutUint64(bz[16:24], uint64(proposer))
	return tmhash.Sum(bz)
}

// ConflictingDigest 拜占庭节点用来替换真实区块的伪造摘要
// 由原摘要、发送者和一个变体编号确定，保证同样的输入总是得到同样的伪造内容
func ConflictingDigest(honest tmbytes.HexBytes, sender int, variant uint64) tmbytes.HexBytes {
	bz := make([]byte, 0, len(honest)+16)
	bz = append(bz, honest...)
	var suffix [16]byte
	binary.BigEndian.PutUint64(suffix[0:8], uint64(sender))
	binary.BigEndian.PutUint64(suffix[8:16], variant)
	bz = append(bz, suffix[:]...)
	return tmhash.Sum(bz)
}

func (b *Block) Copy() *Block {
	if b == nil {
		return nil
	}
	bCopy := *b
	bCopy.Digest = append(tmbytes.HexBytes{}, b.Digest...)
	return &bCopy
}
