package queue

import (
	"errors"
	"testing"
)

func item(id int64, user, title string) Item {
	return Item{ID: id, Title: title, ContentRef: "vid" + title, AddedByID: user, AddedByName: user}
}

func titles(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAdvanceIsFIFO(t *testing.T) {
	q := New(PolicyFIFO)
	for i, title := range []string{"A", "B", "C", "D"} {
		q.Append(item(int64(i+1), "u"+title, title))
	}

	var got []string
	for {
		it, ok := q.Advance()
		if !ok {
			break
		}
		got = append(got, it.Title)
		if q.NowPlaying() == nil || q.NowPlaying().ID != it.ID {
			t.Fatalf("now playing = %v, want id %d", q.NowPlaying(), it.ID)
		}
	}

	if want := []string{"A", "B", "C", "D"}; !equal(got, want) {
		t.Errorf("advance order = %v, want %v", got, want)
	}
}

func TestAdvanceOnEmptyKeepsNowPlaying(t *testing.T) {
	q := New(PolicyFIFO)
	q.Append(item(1, "u1", "A"))
	q.Advance()

	if _, ok := q.Advance(); ok {
		t.Fatal("Advance() on empty pending reported a promotion")
	}
	if np := q.NowPlaying(); np == nil || np.Title != "A" {
		t.Errorf("now playing = %v, want A", np)
	}
}

func TestAdvanceOnFreshQueue(t *testing.T) {
	q := New(PolicyFIFO)
	if _, ok := q.Advance(); ok {
		t.Fatal("Advance() on fresh queue reported a promotion")
	}
	if q.NowPlaying() != nil {
		t.Error("now playing should stay nil")
	}
}

func TestNowPlayingNeverPending(t *testing.T) {
	q := New(PolicyFIFO)
	for i := int64(1); i <= 5; i++ {
		q.Append(item(i, "u", string(rune('A'+i-1))))
	}
	for i := 0; i < 7; i++ {
		q.Advance()
		np := q.NowPlaying()
		if np == nil {
			continue
		}
		for _, it := range q.Pending() {
			if it.ID == np.ID {
				t.Fatalf("item %d is both now playing and pending", np.ID)
			}
		}
	}
}

func TestRemove(t *testing.T) {
	tests := []struct {
		name        string
		removeID    int64
		wantErr     error
		wantPending []string
		wantNow     string
	}{
		{"pending item", 2, nil, []string{"C"}, "A"},
		{"now playing clears without promotion", 1, nil, []string{"B", "C"}, ""},
		{"absent id", 42, ErrItemNotFound, []string{"B", "C"}, "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(PolicyFIFO)
			q.Append(item(1, "u1", "A"))
			q.Append(item(2, "u1", "B"))
			q.Append(item(3, "u2", "C"))
			q.Advance()

			err := q.Remove(tt.removeID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Remove(%d) error = %v, want %v", tt.removeID, err, tt.wantErr)
			}

			if got := titles(q.Pending()); !equal(got, tt.wantPending) {
				t.Errorf("pending = %v, want %v", got, tt.wantPending)
			}

			np := q.NowPlaying()
			switch {
			case tt.wantNow == "" && np != nil:
				t.Errorf("now playing = %q, want none", np.Title)
			case tt.wantNow != "" && (np == nil || np.Title != tt.wantNow):
				t.Errorf("now playing = %v, want %q", np, tt.wantNow)
			}
		})
	}
}

func TestPendingReturnsCopy(t *testing.T) {
	q := New(PolicyFIFO)
	q.Append(item(1, "u1", "A"))

	p := q.Pending()
	p[0].Title = "mutated"

	if q.Pending()[0].Title != "A" {
		t.Error("Pending() exposed internal storage")
	}
}

func TestFairPolicyInterleavesUsers(t *testing.T) {
	q := New(PolicyFair)
	q.Append(item(1, "alice", "A1"))
	q.Append(item(2, "alice", "A2"))
	q.Append(item(3, "alice", "A3"))
	q.Append(item(4, "bob", "B1"))
	q.Append(item(5, "carol", "C1"))
	q.Append(item(6, "bob", "B2"))

	want := []string{"A1", "B1", "C1", "A2", "B2", "A3"}
	if got := titles(q.PlayOrder()); !equal(got, want) {
		t.Fatalf("PlayOrder() = %v, want %v", got, want)
	}

	var got []string
	for {
		it, ok := q.Advance()
		if !ok {
			break
		}
		got = append(got, it.Title)
	}
	if !equal(got, want) {
		t.Errorf("advance order = %v, want %v", got, want)
	}

	// pending keeps request order for display
	q2 := New(PolicyFair)
	q2.Append(item(1, "alice", "A1"))
	q2.Append(item(2, "alice", "A2"))
	q2.Append(item(3, "bob", "B1"))
	if got := titles(q2.Pending()); !equal(got, []string{"A1", "A2", "B1"}) {
		t.Errorf("Pending() = %v, want request order", got)
	}
}

func TestFairPolicySkipsLastPlayedUser(t *testing.T) {
	q := New(PolicyFair)
	q.Append(item(1, "alice", "A1"))
	q.Advance()
	q.Append(item(2, "alice", "A2"))
	q.Append(item(3, "bob", "B1"))

	it, _ := q.Advance()
	if it.Title != "B1" {
		t.Errorf("Advance() = %s, want B1 after alice just sang", it.Title)
	}
}

func TestRestore(t *testing.T) {
	np := item(2, "u1", "B")
	q := Restore(PolicyFIFO, []Item{item(2, "u1", "B"), item(3, "u2", "C")}, &np)

	if got := titles(q.Pending()); !equal(got, []string{"C"}) {
		t.Errorf("pending = %v, want [C]", got)
	}
	if q.MaxID() != 3 {
		t.Errorf("MaxID() = %d, want 3", q.MaxID())
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("fair") != PolicyFair {
		t.Error("fair should parse")
	}
	if ParsePolicy("") != PolicyFIFO || ParsePolicy("bogus") != PolicyFIFO {
		t.Error("unknown values should default to fifo")
	}
}
