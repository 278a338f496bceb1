package store

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jules-labs/fleet/pkg/jules"
)

// NATSActivityStore persists activities to a NATS JetStream KV bucket,
// keyed "<sessionID>.<activityID>", the way pkg/capi's NewNATSKVCache backs
// its Cache interface with a JetStream KV store instead of an in-process
// map. Offered as StorageNATS for deployments that already run NATS for
// fleet coordination and want cache state shared across processes.
type NATSActivityStore struct {
	kv jetstream.KeyValue
}

// NewNATSActivityStore connects to natsURL and opens (creating if absent)
// the "jules-activities" KV bucket.
func NewNATSActivityStore(ctx context.Context, natsURL string) (*NATSActivityStore, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "connecting to NATS", err, natsURL)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "opening JetStream context", err, natsURL)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "jules-activities"})
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "opening activities KV bucket", err, natsURL)
	}
	return &NATSActivityStore{kv: kv}, nil
}

func activityKey(sessionID, activityID string) string { return sessionID + "." + activityID }

func (s *NATSActivityStore) Append(ctx context.Context, sessionID string, a jules.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return jules.NewError(jules.KindInvalidState, "encoding activity", err, "")
	}
	if _, err := s.kv.Put(ctx, activityKey(sessionID, a.ID), data); err != nil {
		return jules.NewError(jules.KindNetwork, "writing activity to NATS KV", err, "")
	}
	return nil
}

func (s *NATSActivityStore) AppendMany(ctx context.Context, sessionID string, activities []jules.Activity) error {
	for _, a := range activities {
		if err := s.Append(ctx, sessionID, a); err != nil {
			return err
		}
	}
	return nil
}

// All lists every key under sessionID's prefix and decodes it. JetStream KV
// does not expose ordered iteration, so the result is sorted by
// CreateTime to recover append order.
func (s *NATSActivityStore) All(ctx context.Context, sessionID string) ([]jules.Activity, error) {
	keys, err := s.kv.ListKeysFiltered(ctx, sessionID+".*")
	if err != nil {
		return nil, jules.NewError(jules.KindNetwork, "listing activity keys", err, "")
	}
	defer keys.Stop()

	var out []jules.Activity
	for key := range keys.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var a jules.Activity
		if err := json.Unmarshal(entry.Value(), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	sortActivitiesByCreateTime(out)
	return out, nil
}

func (s *NATSActivityStore) Latest(ctx context.Context, sessionID string, n int) ([]jules.Activity, error) {
	all, err := s.All(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (s *NATSActivityStore) HighWaterMark(ctx context.Context, sessionID string) (string, error) {
	entry, err := s.kv.Get(ctx, sessionID+"._hwm")
	if err != nil {
		return "", nil
	}
	return string(entry.Value()), nil
}

func (s *NATSActivityStore) SetHighWaterMark(ctx context.Context, sessionID, activityID string) error {
	_, err := s.kv.Put(ctx, sessionID+"._hwm", []byte(activityID))
	if err != nil {
		return jules.NewError(jules.KindNetwork, "writing high-water mark to NATS KV", err, "")
	}
	return nil
}

func sortActivitiesByCreateTime(activities []jules.Activity) {
	for i := 1; i < len(activities); i++ {
		for j := i; j > 0 && activities[j].CreateTime.Before(activities[j-1].CreateTime); j-- {
			activities[j], activities[j-1] = activities[j-1], activities[j]
		}
	}
}
