package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/queueup/backend/internal/queue"
	"github.com/queueup/backend/internal/session"
	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func newMockStore(t *testing.T) (*ValkeyStore, *mock.Client) {
	t.Helper()
	client := mock.NewClient(gomock.NewController(t))
	return NewValkeyStore(client), client
}

func encoded(t *testing.T, rec session.Record) string {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestValkeyStoreSave(t *testing.T) {
	rec := record("ABC123", 3, "Song A")

	tests := []struct {
		name    string
		replies []valkey.ValkeyResult
		wantErr bool
	}{
		{
			name:    "writes key and index",
			replies: []valkey.ValkeyResult{mock.Result(mock.ValkeyString("OK")), mock.Result(mock.ValkeyInt64(1))},
		},
		{
			name:    "index failure",
			replies: []valkey.ValkeyResult{mock.Result(mock.ValkeyString("OK")), mock.ErrorResult(errors.New("readonly replica"))},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, client := newMockStore(t)
			client.EXPECT().DoMulti(gomock.Any(),
				mock.Match("SET", "queueup:session:ABC123", encoded(t, rec)),
				mock.Match("SADD", "queueup:sessions", "ABC123"),
			).Return(tt.replies)

			err := st.Save(context.Background(), rec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Save() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), "ABC123") {
				t.Errorf("Save() error = %v, want access code in message", err)
			}
		})
	}
}

func TestValkeyStoreDelete(t *testing.T) {
	st, client := newMockStore(t)
	client.EXPECT().DoMulti(gomock.Any(),
		mock.Match("DEL", "queueup:session:ABC123"),
		mock.Match("SREM", "queueup:sessions", "ABC123"),
	).Return([]valkey.ValkeyResult{mock.Result(mock.ValkeyInt64(1)), mock.Result(mock.ValkeyInt64(1))})

	if err := st.Delete(context.Background(), "ABC123"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestValkeyStoreDeleteError(t *testing.T) {
	st, client := newMockStore(t)
	client.EXPECT().DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]valkey.ValkeyResult{mock.ErrorResult(errors.New("connection reset")), mock.Result(mock.ValkeyInt64(0))})

	if err := st.Delete(context.Background(), "ABC123"); err == nil {
		t.Fatal("Delete() error = nil, want failure")
	}
}

func TestValkeyStoreLoadAll(t *testing.T) {
	first := record("AAAAAA", 4, "Song A", "Song B")
	first.NowPlaying = &queue.Item{ID: 9, Title: "Now", ContentRef: "yt:abc", AddedByID: "u2", AddedByName: "Bob"}
	first.Status = session.StatusPlaying
	second := record("BBBBBB", 1)

	st, client := newMockStore(t)
	client.EXPECT().Do(gomock.Any(), mock.Match("SMEMBERS", "queueup:sessions")).
		Return(mock.Result(mock.ValkeyArray(mock.ValkeyString("AAAAAA"), mock.ValkeyString("GONE00"), mock.ValkeyString("BBBBBB"))))
	client.EXPECT().Do(gomock.Any(), mock.Match("GET", "queueup:session:AAAAAA")).
		Return(mock.Result(mock.ValkeyString(encoded(t, first))))
	client.EXPECT().Do(gomock.Any(), mock.Match("GET", "queueup:session:GONE00")).
		Return(mock.Result(mock.ValkeyNil()))
	client.EXPECT().Do(gomock.Any(), mock.Match("GET", "queueup:session:BBBBBB")).
		Return(mock.Result(mock.ValkeyString(encoded(t, second))))

	recs, err := st.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("LoadAll() returned %d records, want 2 (missing key skipped)", len(recs))
	}

	got := recs[0]
	if got.AccessCode != "AAAAAA" || got.Version != 4 || got.Status != session.StatusPlaying {
		t.Errorf("first = %+v", got.Snapshot)
	}
	if len(got.Queue) != 2 || got.Queue[1].Title != "Song B" || got.NextItemID != 3 {
		t.Errorf("queue = %+v next = %d, want two items and next id 3", got.Queue, got.NextItemID)
	}
	if got.NowPlaying == nil || got.NowPlaying.ID != 9 || got.NowPlaying.AddedByName != "Bob" {
		t.Errorf("now playing = %+v", got.NowPlaying)
	}
	if !got.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("updatedAt = %v, want %v", got.UpdatedAt, first.UpdatedAt)
	}
	if recs[1].AccessCode != "BBBBBB" {
		t.Errorf("second = %s, want BBBBBB", recs[1].AccessCode)
	}
}

func TestValkeyStoreLoadAllErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(client *mock.Client)
	}{
		{
			name: "index unreadable",
			setup: func(client *mock.Client) {
				client.EXPECT().Do(gomock.Any(), mock.Match("SMEMBERS", "queueup:sessions")).
					Return(mock.ErrorResult(errors.New("connection refused")))
			},
		},
		{
			name: "record unreadable",
			setup: func(client *mock.Client) {
				client.EXPECT().Do(gomock.Any(), mock.Match("SMEMBERS", "queueup:sessions")).
					Return(mock.Result(mock.ValkeyArray(mock.ValkeyString("AAAAAA"))))
				client.EXPECT().Do(gomock.Any(), mock.Match("GET", "queueup:session:AAAAAA")).
					Return(mock.ErrorResult(errors.New("timeout")))
			},
		},
		{
			name: "corrupt record",
			setup: func(client *mock.Client) {
				client.EXPECT().Do(gomock.Any(), mock.Match("SMEMBERS", "queueup:sessions")).
					Return(mock.Result(mock.ValkeyArray(mock.ValkeyString("AAAAAA"))))
				client.EXPECT().Do(gomock.Any(), mock.Match("GET", "queueup:session:AAAAAA")).
					Return(mock.Result(mock.ValkeyString("{not json")))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, client := newMockStore(t)
			tt.setup(client)
			if _, err := st.LoadAll(context.Background()); err == nil {
				t.Error("LoadAll() error = nil, want failure")
			}
		})
	}
}

func TestRegistryRestoresFromValkeyStore(t *testing.T) {
	rec := record("ABC123", 6, "Song A")
	rec.Users = []session.User{{ID: "u1", Name: "Alice"}}

	st, client := newMockStore(t)
	client.EXPECT().Do(gomock.Any(), mock.Match("SMEMBERS", "queueup:sessions")).
		Return(mock.Result(mock.ValkeyArray(mock.ValkeyString("ABC123"))))
	client.EXPECT().Do(gomock.Any(), mock.Match("GET", "queueup:session:ABC123")).
		Return(mock.Result(mock.ValkeyString(encoded(t, rec))))
	client.EXPECT().DoMulti(gomock.Any(), gomock.Any(), mock.Match("SADD", "queueup:sessions", "ABC123")).
		Return([]valkey.ValkeyResult{mock.Result(mock.ValkeyString("OK")), mock.Result(mock.ValkeyInt64(0))})

	reg := session.NewRegistry(session.Options{Store: st})
	n, err := reg.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Restore() = %d, %v; want 1, nil", n, err)
	}
	if err := reg.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap, err := reg.Get("ABC123")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(snap.Users) != 0 || len(snap.Queue) != 1 || snap.Version <= 6 {
		t.Errorf("restored = %+v, want no users, one item and a bumped version", snap)
	}
}
