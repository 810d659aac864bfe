package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/ff7link/internal/address"
	"github.com/loykin/ff7link/internal/gamedata"
	"github.com/loykin/ff7link/internal/liaison"
)

type fakeLiaison struct {
	name    string
	running atomic.Bool
	// detachOnWrite simulates the game exiting between the check and the write.
	detachOnWrite bool
	writeErr      error

	mu     sync.Mutex
	writes []write
}

type write struct {
	addr address.Address
	data []byte
}

func (f *fakeLiaison) IsRunning() bool { return f.running.Load() }
func (f *fakeLiaison) Name() string    { return f.name }

func (f *fakeLiaison) WriteBuffer(addr address.Address, data []byte) error {
	if f.detachOnWrite {
		f.running.Store(false)
		return liaison.ErrNotAttached
	}
	f.mu.Lock()
	f.writes = append(f.writes, write{addr, append([]byte(nil), data...)})
	f.mu.Unlock()
	return f.writeErr
}

func (f *fakeLiaison) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeReader struct {
	snap gamedata.Snapshot
	err  error
	hits atomic.Int32
	pnc  bool
}

func (r *fakeReader) Read(context.Context) (gamedata.Snapshot, error) {
	r.hits.Add(1)
	if r.pnc {
		panic("decoder exploded")
	}
	return r.snap, r.err
}

func newTable() *address.Table {
	return address.NewTable(map[string]address.Address{address.WorldMesData: 0xE2A640})
}

func TestNotRunningScenario(t *testing.T) {
	l := &fakeLiaison{name: "game.exe"}
	b := New(l, newTable(), &fakeReader{}, Options{})

	assert.False(t, b.IsProcessRunning())
	err := b.UpdateMessageData([]byte{0x01, 0x02})
	require.Error(t, err)
	assert.Equal(t, "game.exe is not running", err.Error())
	var nre *NotRunningError
	assert.ErrorAs(t, err, &nre)
	assert.Zero(t, l.writeCount(), "no write may be attempted")
}

func TestIsProcessRunningMirrorsLiaison(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	b := New(l, newTable(), &fakeReader{}, Options{})
	for _, want := range []bool{false, true, true, false} {
		l.running.Store(want)
		assert.Equal(t, want, b.IsProcessRunning())
	}
	assert.Zero(t, l.writeCount())
}

func TestUpdateMessageDataWrites(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	l.running.Store(true)
	b := New(l, newTable(), &fakeReader{}, Options{})

	require.NoError(t, b.UpdateMessageData([]byte{0x01, 0x02}))
	require.Equal(t, 1, l.writeCount())
	assert.Equal(t, address.Address(0xE2A640), l.writes[0].addr)
	assert.Equal(t, []byte{0x01, 0x02}, l.writes[0].data)
}

func TestUpdateMessageDataResolvesEachCall(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	l.running.Store(true)
	tbl := newTable()
	b := New(l, tbl, &fakeReader{}, Options{})

	require.NoError(t, b.UpdateMessageData([]byte{1}))
	tbl.Set(address.WorldMesData, 0x1000)
	require.NoError(t, b.UpdateMessageData([]byte{2}))
	assert.Equal(t, address.Address(0x1000), l.writes[1].addr)
}

func TestUpdateMessageDataWriteError(t *testing.T) {
	boom := errors.New("access denied")

	t.Run("propagated", func(t *testing.T) {
		l := &fakeLiaison{name: "ff7.exe", writeErr: boom}
		l.running.Store(true)
		b := New(l, newTable(), &fakeReader{}, Options{})
		assert.ErrorIs(t, b.UpdateMessageData([]byte{1, 2}), boom)
	})

	t.Run("ignored in legacy mode", func(t *testing.T) {
		l := &fakeLiaison{name: "ff7.exe", writeErr: boom}
		l.running.Store(true)
		b := New(l, newTable(), &fakeReader{}, Options{IgnoreWriteErrors: true})
		assert.NoError(t, b.UpdateMessageData([]byte{1, 2}))
		assert.Equal(t, 1, l.writeCount())
	})
}

func TestUpdateMessageDataDetachMidCall(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe", detachOnWrite: true}
	l.running.Store(true)
	b := New(l, newTable(), &fakeReader{}, Options{})

	err := b.UpdateMessageData([]byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ff7.exe is not running")
	assert.ErrorIs(t, err, liaison.ErrNotAttached)
}

func TestUpdateMessageDataEmptySucceeds(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	b := New(l, newTable(), &fakeReader{}, Options{})
	assert.EqualError(t, b.UpdateMessageData([]byte{}), "ff7.exe is not running")

	l.running.Store(true)
	assert.NoError(t, b.UpdateMessageData(nil))
	assert.NoError(t, b.UpdateMessageData([]byte{}))
}

func TestUpdateMessageDataUnknownRegion(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	l.running.Store(true)

	b := New(l, address.NewTable(nil), &fakeReader{}, Options{})
	assert.ErrorIs(t, b.UpdateMessageData([]byte{1}), address.ErrUnknownRegion)
	assert.Zero(t, l.writeCount())
}

func TestReadGameData(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	r := &fakeReader{snap: gamedata.Snapshot{Basic: gamedata.Basic{CurrentModule: gamedata.ModuleWorld}}}
	b := New(l, newTable(), r, Options{})

	_, err := b.ReadGameData(context.Background())
	assert.EqualError(t, err, "ff7.exe is not running")
	assert.Zero(t, r.hits.Load())

	l.running.Store(true)
	s, err := b.ReadGameData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gamedata.ModuleWorld, s.Basic.CurrentModule)

	r.err = errors.New("read world_models: partial read")
	_, err = b.ReadGameData(context.Background())
	assert.EqualError(t, err, "read world_models: partial read")
}

func TestReadGameDataPanicBecomesError(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	l.running.Store(true)
	b := New(l, newTable(), &fakeReader{pnc: true}, Options{})

	var err error
	require.NotPanics(t, func() { _, err = b.ReadGameData(context.Background()) })
	assert.ErrorContains(t, err, "decoder exploded")
}

func TestConcurrentCalls(t *testing.T) {
	l := &fakeLiaison{name: "ff7.exe"}
	l.running.Store(true)
	b := New(l, newTable(), &fakeReader{}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); _ = b.UpdateMessageData([]byte{byte(i)}) }()
		go func() { defer wg.Done(); _, _ = b.ReadGameData(context.Background()) }()
		go func() { defer wg.Done(); l.running.Store(i%2 == 0); _ = b.IsProcessRunning() }()
	}
	wg.Wait()
}
