package cdc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tiny_mvcc/pkg/codec"
	"tiny_mvcc/pkg/core"
)

var EmptyConsumerIdErr = errors.New("consumer id can not be empty")

// KV is the single-version storage the checkpoints are persisted in.
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Remove(key []byte) error
	ScanPrefix(prefix []byte) ([]core.Pair[[]byte, []byte], error)
}

// checkpoint keys live in their own single-version namespace
const checkpointNamespace byte = 0x02

func checkpointPrefix() []byte {
	return codec.NewKeyBuilder().U8(checkpointNamespace).Build()
}

func checkpointKey(consumerId string) []byte {
	return codec.NewKeyBuilder().U8(checkpointNamespace).String(consumerId).Build()
}

// Checkpoints is the consumer checkpoint registry.
type Checkpoints struct {
	kv KV
}

func NewCheckpoints(kv KV) *Checkpoints {
	return &Checkpoints{kv: kv}
}

// Set registers the consumer or moves its checkpoint.
func (c *Checkpoints) Set(consumerId string, version core.CommitVersion) error {
	if consumerId == "" {
		return EmptyConsumerIdErr
	}
	value := binary.BigEndian.AppendUint64(nil, uint64(version))
	if err := c.kv.Set(checkpointKey(consumerId), value); err != nil {
		return fmt.Errorf("set checkpoint %q: %w", consumerId, err)
	}
	return nil
}

func (c *Checkpoints) Get(consumerId string) (core.CommitVersion, bool, error) {
	value, ok, err := c.kv.Get(checkpointKey(consumerId))
	if err != nil || !ok {
		return 0, false, err
	}
	if len(value) != 8 {
		return 0, false, fmt.Errorf("checkpoint %q: %w", consumerId, core.CorruptedSegmentErr)
	}
	return core.CommitVersion(binary.BigEndian.Uint64(value)), true, nil
}

// Remove unregisters the consumer; its checkpoint no longer holds the watermark back.
func (c *Checkpoints) Remove(consumerId string) error {
	return c.kv.Remove(checkpointKey(consumerId))
}

func (c *Checkpoints) All() (map[string]core.CommitVersion, error) {
	pairs, err := c.kv.ScanPrefix(checkpointPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]core.CommitVersion, len(pairs))
	for _, pair := range pairs {
		reader := codec.NewKeyReader(pair.Key)
		_ = reader.U8()
		id := reader.String()
		if reader.Err() != nil || len(pair.Val) != 8 {
			return nil, core.CorruptedSegmentErr
		}
		out[id] = core.CommitVersion(binary.BigEndian.Uint64(pair.Val))
	}
	return out, nil
}

// ComputeWatermark returns the smallest checkpoint, or InitialVersion when
// no consumer is registered.
func (c *Checkpoints) ComputeWatermark() (core.CommitVersion, error) {
	all, err := c.All()
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return core.InitialVersion, nil
	}
	watermark := core.MaxVersion
	for _, version := range all {
		if version < watermark {
			watermark = version
		}
	}
	return watermark, nil
}
