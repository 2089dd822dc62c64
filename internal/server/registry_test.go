package server

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/stillcam/stillcam/internal/bus/protocol"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(1000, 0))
	r := NewNodeRegistry(clk)

	cam, err := r.Register(protocol.NodeInfo{Name: "virtual-camera", Direction: protocol.DirectionOutput})
	require.NoError(t, err)
	assert.NotEmpty(t, cam.ID)
	assert.Len(t, cam.Token, 32)
	assert.Equal(t, cam.ID, cam.Info.ID)

	clk.Step(time.Second)
	probe, err := r.Register(protocol.NodeInfo{Name: "probe", Direction: protocol.DirectionInput})
	require.NoError(t, err)
	assert.NotEqual(t, cam.ID, probe.ID)

	id, ok := r.Lookup("virtual-camera")
	require.True(t, ok)
	assert.Equal(t, cam.ID, id)

	got, ok := r.Get(probe.ID)
	require.True(t, ok)
	assert.Equal(t, "probe", got.Info.Name)
	assert.Equal(t, clk.Now(), got.Registered)
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewNodeRegistry(testingclock.NewFakeClock(time.Now()))
	_, err := r.Register(protocol.NodeInfo{Name: "virtual-camera"})
	require.NoError(t, err)

	_, err = r.Register(protocol.NodeInfo{Name: "virtual-camera"})
	assert.True(t, errors.Is(err, ErrNameTaken))
}

func TestRegistryDeleteChecksToken(t *testing.T) {
	r := NewNodeRegistry(testingclock.NewFakeClock(time.Now()))
	old, err := r.Register(protocol.NodeInfo{Name: "virtual-camera"})
	require.NoError(t, err)

	require.True(t, r.Delete(old.ID, old.Token))
	fresh, err := r.Register(protocol.NodeInfo{Name: "virtual-camera"})
	require.NoError(t, err)

	// the evicted connection cleans up late
	assert.False(t, r.Delete(old.ID, old.Token))
	assert.False(t, r.Delete(fresh.ID, old.Token))
	id, ok := r.Lookup("virtual-camera")
	require.True(t, ok)
	assert.Equal(t, fresh.ID, id)

	assert.True(t, r.Delete(fresh.ID, fresh.Token))
	_, ok = r.Lookup("virtual-camera")
	assert.False(t, ok)
	_, ok = r.Get(fresh.ID)
	assert.False(t, ok)
}

func TestRegistryConcurrentSameName(t *testing.T) {
	r := NewNodeRegistry(testingclock.NewFakeClock(time.Now()))

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Register(protocol.NodeInfo{Name: "virtual-camera"}); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
	_, ok := r.Lookup("virtual-camera")
	assert.True(t, ok)
}
