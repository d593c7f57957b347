package seq

import "testing"

func TestReplayWindowInvariant(t *testing.T) {
	const maxSequence = 4 * WindowSize

	for iter := 0; iter < 2; iter++ {
		w := NewReplayWindow()
		w.Reset()

		for s := uint64(0); s < maxSequence; s++ {
			if w.AlreadyReceived(s) {
				t.Fatalf("iter %d: sequence %d reported already received on first receipt", iter, s)
			}
		}

		if !w.AlreadyReceived(0) {
			t.Fatalf("iter %d: stale sequence 0 should be considered already received", iter)
		}

		for s := uint64(maxSequence - 10); s < maxSequence; s++ {
			if !w.AlreadyReceived(s) {
				t.Fatalf("iter %d: sequence %d should be a duplicate", iter, s)
			}
		}

		if w.AlreadyReceived(maxSequence + WindowSize) {
			t.Fatalf("iter %d: jump ahead should not be already received", iter)
		}

		for s := uint64(0); s < maxSequence; s++ {
			if !w.AlreadyReceived(s) {
				t.Fatalf("iter %d: sequence %d should now be stale after the jump", iter, s)
			}
		}
	}
}

func TestReplayWindowAcceptsReordering(t *testing.T) {
	w := NewReplayWindow()
	w.AlreadyReceived(10)
	if w.AlreadyReceived(5) {
		t.Fatal("sequence 5 within the window should not be a duplicate yet")
	}
	if !w.AlreadyReceived(5) {
		t.Fatal("second delivery of sequence 5 should be a duplicate")
	}
}
