package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(path string, op Operation) FileEvent {
	return FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

func receiveBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced batch")
		return nil
	}
}

func TestDebouncerCoalescesSamePath(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(event("src/a.py", OpModify))
	d.Add(event("src/a.py", OpModify))
	d.Add(event("src/a.py", OpModify))

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation)
}

func TestDebouncerCreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(event("src/tmp.py", OpCreate))
	d.Add(event("src/tmp.py", OpDelete))
	d.Add(event("src/keep.py", OpModify))

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1, "created-then-deleted file never existed")
	assert.Equal(t, "src/keep.py", batch[0].Path)
}

func TestDebouncerDeleteThenCreateIsModify(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(event("src/a.py", OpDelete))
	d.Add(event("src/a.py", OpCreate))

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation, "replaced file reads as modified")
}

func TestDebouncerCreateThenModifyStaysCreate(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(event("src/new.py", OpCreate))
	d.Add(event("src/new.py", OpModify))

	batch := receiveBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncerSeparatePaths(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(event("src/a.py", OpModify))
	d.Add(event("src/b.py", OpModify))

	batch := receiveBatch(t, d)
	assert.Len(t, batch, 2)
}

func TestDebouncerStopIsIdempotent(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	d.Stop()
	d.Stop()
	d.Add(event("src/a.py", OpModify))

	_, open := <-d.Output()
	assert.False(t, open, "output closed after stop")
}
