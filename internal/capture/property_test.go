package capture

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// Output reaches the original sink byte for byte whatever the subscriber set.
func TestProperty_PassThrough(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := &bytes.Buffer{}
		sw := NewSwapWriter(out)
		r := newQuietRouter(Options{Streams: []Stream{NewWriterStream(SenderStdout, sw)}})
		defer closeRouter(r)
		s := newFake("s")

		writes := rapid.SliceOf(rapid.String()).Draw(t, "writes")
		toggles := rapid.SliceOfN(rapid.Bool(), len(writes), len(writes)).Draw(t, "toggles")

		var want strings.Builder
		var wantTexts []string
		for i, w := range writes {
			if toggles[i] {
				if r.Subscribed(s) {
					_ = r.Unsubscribe(s)
				} else {
					_ = r.Subscribe(s)
				}
			}
			subscribed := r.Subscribed(s)
			fmt.Fprint(sw, w)
			want.WriteString(w)
			if trimmed := strings.TrimSpace(w); subscribed && trimmed != "" {
				wantTexts = append(wantTexts, trimmed)
			}
		}
		flush(t, r)

		if out.String() != want.String() {
			t.Fatalf("Expected %q on the original sink, got %q", want.String(), out.String())
		}
		got := s.texts()
		if len(got) != len(wantTexts) {
			t.Fatalf("Expected %d captured messages, got %d", len(wantTexts), len(got))
		}
		for i := range got {
			if got[i] != wantTexts[i] {
				t.Fatalf("Expected message %d to be %q, got %q", i, wantTexts[i], got[i])
			}
		}
	})
}

// Interception is on exactly while the set is non-empty, and every empty to
// non-empty edge intercepts once.
func TestProperty_ActiveIffSubscribed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		out := &bytes.Buffer{}
		sw := NewSwapWriter(out)
		cs := newCountingStream(SenderStdout, sw)
		r := newQuietRouter(Options{Streams: []Stream{cs}})
		defer closeRouter(r)

		pool := []*fakeSubscriber{newFake("a"), newFake("b"), newFake("c"), newFake("d")}
		model := map[*fakeSubscriber]bool{}
		edges := 0

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			sub := rapid.SampledFrom(pool).Draw(t, "sub")
			if rapid.Bool().Draw(t, "subscribe") {
				if len(model) == 0 {
					edges++
				}
				if err := r.Subscribe(sub); err != nil {
					t.Fatalf("Subscribe failed: %v", err)
				}
				model[sub] = true
			} else {
				if err := r.Unsubscribe(sub); err != nil {
					t.Fatalf("Unsubscribe failed: %v", err)
				}
				delete(model, sub)
			}

			if r.Active() != (len(model) > 0) {
				t.Fatalf("Expected active=%v with %d subscribers", len(model) > 0, len(model))
			}
			if len(model) == 0 && sw.Get() != out {
				t.Fatal("Expected original writer while idle")
			}
		}

		intercepts, restores := cs.counts()
		if intercepts != edges {
			t.Fatalf("Expected %d interceptions, got %d", edges, intercepts)
		}
		wantRestores := edges
		if len(model) > 0 {
			wantRestores--
		}
		if restores != wantRestores {
			t.Fatalf("Expected %d restores, got %d", wantRestores, restores)
		}
	})
}

// Concurrent churn never panics, never loses the activation invariant and
// leaves the original sink in place once everyone is gone.
func TestRouter_ConcurrentChurn(t *testing.T) {
	out := &bytes.Buffer{}
	sw := NewSwapWriter(out)
	r := newTestRouter(t, Options{Streams: []Stream{NewWriterStream(SenderStdout, sw)}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s := newFake(fmt.Sprintf("churn-%d", id))
			for j := 0; j < 50; j++ {
				_ = r.Subscribe(s)
				r.Broadcast(SenderSystem, "tick")
				_ = r.Unsubscribe(s)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 500; j++ {
			r.Broadcast(SenderStdout, "noise")
		}
	}()
	wg.Wait()
	flush(t, r)

	if r.Active() {
		t.Error("Expected capture to be inactive after all subscribers left")
	}
	if sw.Get() != out {
		t.Error("Expected original writer to be restored")
	}
}
