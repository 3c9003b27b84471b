package checkpoint

import "testing"

func sampleManager(t *testing.T, enf Enforcement) *Manager {
	t.Helper()
	m, err := NewManager(enf, []Checkpoint{
		{Height: 100, BlockHash: [32]byte{0xAA}, Timestamp: 1000, TotalWork: "100"},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRejectsDuplicateHeights(t *testing.T) {
	_, err := NewManager(Strict, []Checkpoint{
		{Height: 10, BlockHash: [32]byte{1}},
		{Height: 10, BlockHash: [32]byte{2}},
	})
	if err == nil {
		t.Fatalf("expected error for duplicate checkpoint height")
	}
}

func TestCheckHeaderMismatch(t *testing.T) {
	m := sampleManager(t, Strict)
	if err := m.CheckHeader(100, [32]byte{0xAA}); err != nil {
		t.Fatalf("matching hash should pass: %v", err)
	}
	err := m.CheckHeader(100, [32]byte{0xBB})
	if err == nil {
		t.Fatalf("expected mismatch error")
	}
	if _, ok := err.(*ErrHashMismatch); !ok {
		t.Fatalf("expected ErrHashMismatch, got %T", err)
	}
	if err := m.CheckHeader(50, [32]byte{0xFF}); err != nil {
		t.Fatalf("non-checkpointed height should pass: %v", err)
	}
}

// TestCheckReorg exercises spec.md S8: a checkpoint at height 100, a fork
// whose ancestor is at height 50, under all three enforcement levels.
func TestCheckReorg(t *testing.T) {
	t.Run("strict rejects", func(t *testing.T) {
		m := sampleManager(t, Strict)
		allow, warn, err := m.CheckReorg(50)
		if allow || warn || err == nil {
			t.Fatalf("expected strict rejection, got allow=%v warn=%v err=%v", allow, warn, err)
		}
		be, ok := err.(*ErrBelowCheckpoint)
		if !ok {
			t.Fatalf("expected ErrBelowCheckpoint, got %T", err)
		}
		if be.CheckpointHeight != 100 || be.AncestorHeight != 50 {
			t.Fatalf("unexpected error fields: %+v", be)
		}
	})
	t.Run("warn allows with violation reported", func(t *testing.T) {
		m := sampleManager(t, Warn)
		allow, warn, err := m.CheckReorg(50)
		if !allow || !warn || err == nil {
			t.Fatalf("expected warn-allow with non-nil err, got allow=%v warn=%v err=%v", allow, warn, err)
		}
	})
	t.Run("disabled allows silently", func(t *testing.T) {
		m := sampleManager(t, Disabled)
		allow, warn, err := m.CheckReorg(50)
		if !allow || warn || err != nil {
			t.Fatalf("expected silent allow, got allow=%v warn=%v err=%v", allow, warn, err)
		}
	})
	t.Run("at or above checkpoint always allowed", func(t *testing.T) {
		m := sampleManager(t, Strict)
		allow, warn, err := m.CheckReorg(100)
		if !allow || warn || err != nil {
			t.Fatalf("ancestor at checkpoint height must be allowed: %v %v %v", allow, warn, err)
		}
		allow, warn, err = m.CheckReorg(150)
		if !allow || warn || err != nil {
			t.Fatalf("ancestor above checkpoint height must be allowed: %v %v %v", allow, warn, err)
		}
	})
}

func TestEmptyManagerNeverGates(t *testing.T) {
	m, err := NewManager(Strict, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	allow, warn, cerr := m.CheckReorg(0)
	if !allow || warn || cerr != nil {
		t.Fatalf("empty table must never gate a reorg")
	}
	if _, ok := m.GreatestHeight(); ok {
		t.Fatalf("expected no greatest height for empty table")
	}
}
