package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/queueup/backend/internal/session"
	"github.com/valkey-io/valkey-go"
)

const (
	keyPrefix = "queueup:session:"
	indexKey  = "queueup:sessions"
)

// ValkeyStore keeps each record as a JSON string under its own key plus a
// set indexing the live access codes.
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyClient connects to a Valkey server at addr.
func NewValkeyClient(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return client, nil
}

// NewValkeyStore wraps an existing client.
func NewValkeyStore(client valkey.Client) *ValkeyStore {
	return &ValkeyStore{client: client}
}

func sessionKey(accessCode string) string {
	return keyPrefix + accessCode
}

// Save writes rec and adds it to the index.
func (s *ValkeyStore) Save(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", rec.AccessCode, err)
	}
	cmds := valkey.Commands{
		s.client.B().Set().Key(sessionKey(rec.AccessCode)).Value(valkey.BinaryString(data)).Build(),
		s.client.B().Sadd().Key(indexKey).Member(rec.AccessCode).Build(),
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("save session %s: %w", rec.AccessCode, err)
		}
	}
	return nil
}

// Delete removes the record and its index entry.
func (s *ValkeyStore) Delete(ctx context.Context, accessCode string) error {
	cmds := valkey.Commands{
		s.client.B().Del().Key(sessionKey(accessCode)).Build(),
		s.client.B().Srem().Key(indexKey).Member(accessCode).Build(),
	}
	for _, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("delete session %s: %w", accessCode, err)
		}
	}
	return nil
}

// LoadAll reads every indexed record. Index entries whose key has vanished
// are skipped.
func (s *ValkeyStore) LoadAll(ctx context.Context) ([]session.Record, error) {
	codes, err := s.client.Do(ctx, s.client.B().Smembers().Key(indexKey).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []session.Record
	for _, code := range codes {
		data, err := s.client.Do(ctx, s.client.B().Get().Key(sessionKey(code)).Build()).AsBytes()
		if valkey.IsValkeyNil(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", code, err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %w", code, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close releases the client connection.
func (s *ValkeyStore) Close() {
	s.client.Close()
}

func decodeRecord(data []byte) (session.Record, error) {
	var rec session.Record
	err := json.Unmarshal(data, &rec)
	return rec, err
}
