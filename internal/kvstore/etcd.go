package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// casAttempts bounds the compare-and-swap retry loop used to emulate list
// operations (rpush/lrange/lrem/lpop) on top of etcd's single-key revisions.
const casAttempts = 8

// EtcdStore implements Store atop an etcd v3 client. Keys map directly;
// TTLs are implemented with per-write leases (etcd has no per-key TTL
// independent of a lease). Lists are a single JSON-array value per key,
// mutated under an optimistic ModRevision compare-and-swap loop -- the same
// idiom etcd's own watched keyspaces use for convergence.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore wraps an established etcd client.
func NewEtcdStore(client *clientv3.Client) *EtcdStore {
	return &EtcdStore{client: client}
}

func (s *EtcdStore) leaseFor(ctx context.Context, ttl time.Duration) (clientv3.LeaseID, error) {
	if ttl <= 0 {
		return 0, nil
	}
	secs := int64(ttl.Seconds())
	if secs < 1 {
		secs = 1
	}
	resp, err := s.client.Grant(ctx, secs)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, transientErr("get", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (s *EtcdStore) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lease, err := s.leaseFor(ctx, ttl)
	if err != nil {
		return transientErr("setTTL.grant", err)
	}
	var opts []clientv3.OpOption
	if lease != 0 {
		opts = append(opts, clientv3.WithLease(lease))
	}
	if _, err := s.client.Put(ctx, key, string(value), opts...); err != nil {
		return transientErr("setTTL.put", err)
	}
	return nil
}

func (s *EtcdStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	lease, err := s.leaseFor(ctx, ttl)
	if err != nil {
		return false, transientErr("setIfAbsent.grant", err)
	}
	var opts []clientv3.OpOption
	if lease != 0 {
		opts = append(opts, clientv3.WithLease(lease))
	}
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value), opts...)).
		Commit()
	if err != nil {
		return false, transientErr("setIfAbsent.txn", err)
	}
	return resp.Succeeded, nil
}

func (s *EtcdStore) Del(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, key); err != nil {
		return transientErr("del", err)
	}
	return nil
}

func (s *EtcdStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, transientErr("scan", err)
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, string(kv.Key))
	}
	return out, nil
}

// loadList reads the JSON-array value at key along with its ModRevision (0
// if absent), for use in the CAS loop below.
func (s *EtcdStore) loadList(ctx context.Context, key string) ([]string, int64, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, 0, transientErr("list.get", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, nil
	}
	var list []string
	if err := json.Unmarshal(resp.Kvs[0].Value, &list); err != nil {
		return nil, 0, fatalErr("list.unmarshal", err)
	}
	return list, resp.Kvs[0].ModRevision, nil
}

// casList applies mutate to the list at key and writes the result back only
// if the key's ModRevision has not changed since the read, retrying on
// contention up to casAttempts times.
func (s *EtcdStore) casList(ctx context.Context, key string, mutate func([]string) []string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		list, rev, err := s.loadList(ctx, key)
		if err != nil {
			return err
		}
		next := mutate(list)
		body, err := json.Marshal(next)
		if err != nil {
			return fatalErr("list.marshal", err)
		}

		var cmp clientv3.Cmp
		if rev == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", rev)
		}
		resp, err := s.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, string(body))).Commit()
		if err != nil {
			return transientErr("list.txn", err)
		}
		if resp.Succeeded {
			return nil
		}
		// Lost the race; retry against the fresher revision.
	}
	return transientErr("list.cas", fmt.Errorf("exhausted %d attempts on %s", casAttempts, key))
}

func (s *EtcdStore) RPush(ctx context.Context, key string, value string) error {
	return s.casList(ctx, key, func(list []string) []string {
		return append(list, value)
	})
}

func (s *EtcdStore) LRange(ctx context.Context, key string) ([]string, error) {
	list, _, err := s.loadList(ctx, key)
	return list, err
}

func (s *EtcdStore) LRem(ctx context.Context, key string, count int, value string) error {
	return s.casList(ctx, key, func(list []string) []string {
		out := make([]string, 0, len(list))
		removed := 0
		for _, v := range list {
			if v == value && (count <= 0 || removed < count) {
				removed++
				continue
			}
			out = append(out, v)
		}
		return out
	})
}

func (s *EtcdStore) LPop(ctx context.Context, key string) (string, bool, error) {
	var popped string
	var ok bool
	err := s.casList(ctx, key, func(list []string) []string {
		if len(list) == 0 {
			ok = false
			return list
		}
		popped = list[0]
		ok = true
		return list[1:]
	})
	if err != nil {
		return "", false, err
	}
	return popped, ok, nil
}

func (s *EtcdStore) WriteList(ctx context.Context, key string, values []string) error {
	return s.casList(ctx, key, func([]string) []string {
		return values
	})
}

func (s *EtcdStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var result int64
	for attempt := 0; attempt < casAttempts; attempt++ {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return 0, transientErr("incr.get", err)
		}
		var cur int64
		var rev int64
		if len(resp.Kvs) > 0 {
			if _, err := fmt.Sscanf(string(resp.Kvs[0].Value), "%d", &cur); err != nil {
				return 0, fatalErr("incr.parse", err)
			}
			rev = resp.Kvs[0].ModRevision
		}
		result = cur + delta
		var cmp clientv3.Cmp
		if rev == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
		} else {
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", rev)
		}
		txnResp, err := s.client.Txn(ctx).If(cmp).
			Then(clientv3.OpPut(key, fmt.Sprintf("%d", result))).Commit()
		if err != nil {
			return 0, transientErr("incr.txn", err)
		}
		if txnResp.Succeeded {
			return result, nil
		}
	}
	return 0, transientErr("incr.cas", fmt.Errorf("exhausted %d attempts on %s", casAttempts, key))
}
