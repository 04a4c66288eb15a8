package engine

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
	"github.com/roach88/homesync/internal/testutil"
)

func TestEngine_New(t *testing.T) {
	e := New(remote.NewNodeSource(remote.NewNode(), remote.DefaultPathMap()), nil)

	assert.NotNil(t, e.cache)
	assert.NotNil(t, e.clock)
	assert.NotNil(t, e.queue)
	assert.Equal(t, DefaultDebounce, e.window)
	assert.Equal(t, DefaultWriteTimeout, e.writeTimeout)
	assert.Equal(t, DefaultErrorBuffer, cap(e.errs))
}

func TestEngine_DefaultsBeforeIdentity(t *testing.T) {
	f := newFixture(t)
	v := f.eng.View()

	assert.Equal(t, PhaseUninitialized, v.Phase)
	assert.Equal(t, "", v.UserID)
	assert.Equal(t, state.DefaultDevice(), v.Device)
	assert.Equal(t, 25.0, v.Sensor.Temperature)
	assert.Equal(t, 60.0, v.Sensor.Humidity)
	assert.False(t, v.Sensor.DoorAlert)
	assert.False(t, v.Connected)
}

func TestEngine_LoadingUntilFirstSnapshot(t *testing.T) {
	f := newFixture(t)
	f.node.SetOnline(false)

	f.login("alice")
	v := f.eng.View()
	assert.Equal(t, PhaseLoading, v.Phase)
	assert.True(t, v.Loading)
	assert.False(t, v.Connected)
	assert.Equal(t, state.Default(), v.Entry())

	f.node.SetOnline(true)
	f.settle()
	v = f.eng.View()
	assert.Equal(t, PhaseSynced, v.Phase)
	assert.False(t, v.Loading)
	assert.True(t, v.Connected)
}

func TestEngine_SnapshotPopulatesView(t *testing.T) {
	f := newFixture(t)
	f.node.Seed("alice", map[string]any{
		"devices/door":          true,
		"sensors/temperature":   19.5,
		"sensors/humidityAlert": true,
	})

	f.login("alice")
	v := f.eng.View()
	assert.True(t, v.Device.Door)
	assert.False(t, v.Device.Lamp)
	assert.Equal(t, 19.5, v.Sensor.Temperature)
	assert.Equal(t, 60.0, v.Sensor.Humidity, "absent field keeps its default")
	assert.True(t, v.Sensor.HumidityAlert)

	assert.True(t, f.cached("alice").Device.Door)
}

func TestEngine_OptimisticUpdateIsImmediate(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	f.update("lamp", true)

	v := f.eng.View()
	assert.True(t, v.Device.Lamp)
	assert.Equal(t, f.clock.Now(), v.LastUpdated)
	assert.Equal(t, []state.Key{state.KeyLamp}, v.Pending)
	assert.True(t, f.cached("alice").Device.Lamp)
	assert.Empty(t, f.node.Writes(), "nothing is sent inside the window")
}

func TestEngine_WriteAfterWindow(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	res := f.update("lamp", true)

	f.advance(testWindow - time.Millisecond)
	assert.Empty(t, f.fieldWrites("alice", "devices/lamp"))

	f.advance(time.Millisecond)
	writes := f.fieldWrites("alice", "devices/lamp")
	require.Len(t, writes, 1)
	assert.Equal(t, true, writes[0].Value)

	require.NoError(t, waitResult(t, res))
	assert.Equal(t, "w-1", res.WriteID())
	assert.False(t, res.Coalesced())

	v := f.eng.View()
	assert.True(t, v.Device.Lamp)
	assert.True(t, v.Connected)
	assert.Empty(t, v.Pending)
}

func TestEngine_CoalescesBurst(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	first := f.update("lamp", true)
	f.advance(50 * time.Millisecond)
	second := f.update("lamp", false)
	f.advance(50 * time.Millisecond)
	third := f.update("lamp", true)
	f.advance(99 * time.Millisecond)
	assert.Empty(t, f.fieldWrites("alice", "devices/lamp"), "each update restarts the window")

	f.advance(time.Millisecond)
	writes := f.fieldWrites("alice", "devices/lamp")
	require.Len(t, writes, 1, "one write for the whole burst")
	assert.Equal(t, true, writes[0].Value, "newest value wins")

	for _, r := range []*Result{first, second, third} {
		require.NoError(t, waitResult(t, r))
		assert.Equal(t, "w-1", r.WriteID())
	}
	assert.True(t, first.Coalesced())
	assert.True(t, second.Coalesced())
	assert.False(t, third.Coalesced())
}

func TestEngine_KeysAreDebouncedIndependently(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	f.update("lamp", true)
	f.advance(60 * time.Millisecond)
	f.update("door", true)

	f.advance(40 * time.Millisecond)
	assert.Len(t, f.fieldWrites("alice", "devices/lamp"), 1)
	assert.Empty(t, f.fieldWrites("alice", "devices/door"))

	f.advance(60 * time.Millisecond)
	assert.Len(t, f.fieldWrites("alice", "devices/door"), 1)
}

func TestEngine_RevertOnFailure(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	drainErrors(f.eng)

	f.node.FailWrites(errors.New("permission denied"))
	res := f.update("lamp", true)
	assert.True(t, f.eng.View().Device.Lamp)

	f.advance(testWindow)

	err := waitResult(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWrite))

	v := f.eng.View()
	assert.False(t, v.Device.Lamp, "field reverts to the confirmed value")
	assert.False(t, v.Connected)
	assert.Equal(t, PhaseDisconnected, v.Phase)
	assert.Contains(t, v.Error, "permission denied")
	assert.False(t, f.cached("alice").Device.Lamp, "cache is rewritten with the reverted value")

	errs := drainErrors(f.eng)
	require.Len(t, errs, 1)
	assert.True(t, IsWriteError(errs[0]))

	assert.Equal(t, 1, f.countOps(OpRevert))
	assert.Empty(t, f.fieldWrites("alice", "lastUpdated"), "no stamp after a failed write")
}

func TestEngine_RevertUsesLastSnapshotValue(t *testing.T) {
	f := newFixture(t)
	f.node.Seed("alice", map[string]any{"devices/window": true})
	f.login("alice")

	f.node.FailWrites(errors.New("offline"))
	res := f.update("window", false)
	f.advance(testWindow)
	require.Error(t, waitResult(t, res))

	assert.True(t, f.eng.View().Device.Window)
}

func TestEngine_FailureKeepsNewerPendingValue(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	release := f.node.HoldWrites()
	f.node.FailWrites(errors.New("denied"))
	first := f.update("lamp", true)
	f.clock.Add(testWindow)
	f.settleQueued()

	// A second change starts its own window while the first write is out.
	f.update("lamp", false)
	f.update("lamp", true)
	release()
	require.Error(t, waitResult(t, first))
	f.settle()

	v := f.eng.View()
	assert.True(t, v.Device.Lamp, "newer optimistic value stays on screen")
	assert.Equal(t, []state.Key{state.KeyLamp}, v.Pending)
	assert.Equal(t, 0, f.countOps(OpRevert))
}

func TestEngine_RemoteWinsOverPending(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	f.update("lamp", true)
	f.node.Set("alice", "devices/lamp", false)
	f.settle()

	v := f.eng.View()
	assert.False(t, v.Device.Lamp, "snapshot overrides the optimistic value")
	assert.Equal(t, []state.Key{state.KeyLamp}, v.Pending, "the pending write is still queued")

	f.advance(testWindow)
	assert.Len(t, f.fieldWrites("alice", "devices/lamp"), 1)
	assert.True(t, f.eng.View().Device.Lamp, "the transmitted value comes back in the next snapshot")
}

func TestEngine_SensorReadingsFollowRemote(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	f.node.Set("alice", remote.PathTemperature, 31.5)
	f.node.Set("alice", remote.PathHumidity, 40.0)
	f.settle()

	v := f.eng.View()
	assert.Equal(t, 31.5, v.Sensor.Temperature)
	assert.Equal(t, 40.0, v.Sensor.Humidity)
}

func TestEngine_StampAfterDeviceWrite(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	f.clock.Add(time.Hour)

	f.update("door", true)
	f.advance(testWindow)

	stamps := f.fieldWrites("alice", "lastUpdated")
	require.Len(t, stamps, 1)
	assert.Equal(t, remote.FormatStamp(f.clock.Now()), stamps[0].Value)
	assert.Equal(t, 1, f.countOps(OpStamp))

	v := f.eng.View()
	assert.True(t, f.clock.Now().Equal(v.LastUpdated), "lastUpdated comes back from the remote")
}

func TestEngine_NoStampAfterAlertWrite(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	res, err := f.eng.UpdateSensorAlert("doorAlert", true)
	require.NoError(t, err)
	f.advance(testWindow)
	require.NoError(t, waitResult(t, res))

	assert.Len(t, f.fieldWrites("alice", "sensors/doorAlert"), 1)
	assert.Empty(t, f.fieldWrites("alice", "lastUpdated"))
	assert.True(t, f.eng.View().Sensor.DoorAlert)
}

func TestEngine_StampFailureIsNotAWriteFailure(t *testing.T) {
	f := newFixtureWith(t, func(src *remote.NodeSource) remote.Source {
		return testutil.FailKeySource{Source: src, Key: remote.KeyLastUpdated, Err: errors.New("stamp rejected")}
	})
	f.login("alice")
	drainErrors(f.eng)

	res := f.update("lamp", true)
	f.advance(testWindow)
	require.NoError(t, waitResult(t, res))

	v := f.eng.View()
	assert.True(t, v.Connected)
	assert.Equal(t, PhaseSynced, v.Phase)
	assert.Empty(t, v.Error)
	assert.Empty(t, drainErrors(f.eng), "stamp failures are only logged")
	assert.Equal(t, 1, f.countOps(OpStamp))
}

func TestEngine_CacheRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	f.update("window", true)
	f.advance(testWindow)

	require.NoError(t, f.eng.Logout())
	f.settle()
	assert.Equal(t, PhaseUninitialized, f.eng.View().Phase)
	assert.Equal(t, state.Default(), f.eng.View().Entry())

	f.node.SetOnline(false)
	f.login("alice")
	v := f.eng.View()
	assert.True(t, v.Loading)
	assert.True(t, v.Device.Window, "cached state renders before any snapshot")
}

func TestEngine_IdentityIsolation(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	pending := f.update("lamp", true)
	f.login("bob")

	err := waitResult(t, pending)
	assert.True(t, errors.Is(err, ErrDiscarded))
	assert.Empty(t, pending.WriteID())

	f.advance(testWindow)
	assert.Empty(t, f.node.Writes(), "discarded writes are never sent")

	v := f.eng.View()
	assert.Equal(t, "bob", v.UserID)
	assert.False(t, v.Device.Lamp)
	assert.True(t, f.cached("alice").Device.Lamp, "old user's cache row is left alone")
	assert.False(t, f.cached("bob").Device.Lamp)
	assert.Equal(t, 1, f.countOps(OpDiscard))
	assert.Equal(t, 0, f.node.Subscribers("alice"), "old stream is closed")
}

func TestEngine_InFlightWriteAcrossIdentityChange(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	release := f.node.HoldWrites()
	res := f.update("lamp", true)
	f.clock.Add(testWindow)
	f.settleQueued()

	require.NoError(t, f.eng.SetIdentity("bob"))
	release()

	require.NoError(t, waitResult(t, res), "in-flight write keeps its real outcome")
	f.settle()

	v := f.eng.View()
	assert.Equal(t, "bob", v.UserID)
	assert.False(t, v.Device.Lamp, "late ack does not touch the new user's state")
	assert.Empty(t, f.fieldWrites("alice", "lastUpdated"), "no stamp for a stale ack")
}

func TestEngine_SameIdentityIsNoop(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	res := f.update("lamp", true)

	f.login("alice")
	f.advance(testWindow)
	require.NoError(t, waitResult(t, res))
	assert.Equal(t, 1, f.countOps(OpIdentity))
}

func TestEngine_ConnectivityFlips(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	require.True(t, f.eng.View().Connected)

	f.node.Interrupt(errors.New("socket reset"))
	f.settle()
	v := f.eng.View()
	assert.False(t, v.Connected)
	assert.Equal(t, PhaseDisconnected, v.Phase)
	assert.Contains(t, v.Error, "socket reset")

	f.node.Set("alice", "devices/motion", true)
	f.settle()
	v = f.eng.View()
	assert.True(t, v.Connected)
	assert.Equal(t, PhaseSynced, v.Phase)
	assert.Empty(t, v.Error, "a snapshot clears the subscription error")
}

func TestEngine_WriteSuccessReconnects(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	f.node.FailWrites(errors.New("timeout"))
	f.update("lamp", true)
	f.advance(testWindow)
	require.Equal(t, PhaseDisconnected, f.eng.View().Phase)

	f.node.FailWrites(nil)
	f.update("door", true)
	f.advance(testWindow)

	v := f.eng.View()
	assert.True(t, v.Connected)
	assert.Equal(t, PhaseSynced, v.Phase)
	assert.Empty(t, v.Error)
}

func TestEngine_SubscriptionErrorBeforeSnapshot(t *testing.T) {
	f := newFixture(t)
	f.node.SetOnline(false)
	f.login("alice")

	f.node.Interrupt(errors.New("refused"))
	f.settle()

	v := f.eng.View()
	assert.False(t, v.Loading, "an error ends loading")
	assert.Equal(t, PhaseDisconnected, v.Phase)
}

func TestEngine_NoIdentity(t *testing.T) {
	f := newFixture(t)
	before := f.eng.View()

	res, err := f.eng.UpdateDevice("lamp", true)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrNoIdentity))

	after := f.eng.View()
	assert.Equal(t, before, after, "nothing changes")
	assert.Equal(t, 0, f.cache.Puts())
}

func TestEngine_UnknownKey(t *testing.T) {
	f := newFixture(t)
	f.login("alice")

	_, err := f.eng.UpdateDevice("heater", true)
	assert.True(t, errors.Is(err, state.ErrUnknownKey))

	_, err = f.eng.UpdateDevice("doorAlert", true)
	assert.True(t, errors.Is(err, state.ErrUnknownKey), "alert keys go through UpdateSensorAlert")

	_, err = f.eng.UpdateSensorAlert("lamp", true)
	assert.True(t, errors.Is(err, state.ErrUnknownKey))
}

func TestEngine_MisconfiguredSource(t *testing.T) {
	e := New(testutil.RejectingSource{}, nil, WithClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	require.NoError(t, e.SetIdentity("alice"))
	v := e.View()
	assert.Equal(t, PhaseError, v.Phase)
	assert.False(t, v.Loading)
	assert.Contains(t, v.Error, "bad endpoint")

	err := <-e.Errors()
	assert.True(t, IsSubscriptionError(err))
	assert.True(t, errors.Is(err, ErrMisconfigured))
}

func TestEngine_CacheFailureIsBestEffort(t *testing.T) {
	node := remote.NewNode()
	e := New(remote.NewNodeSource(node, remote.DefaultPathMap()), &testutil.BrokenCache{}, WithClock(clock.NewMock()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	require.NoError(t, e.SetIdentity("alice"))
	_, err := e.UpdateDevice("lamp", true)
	require.NoError(t, err)

	assert.True(t, e.View().Device.Lamp)
	assert.Empty(t, e.View().Error, "cache failures do not surface in the view")

	sawCache := false
	for _, err := range drainErrors(e) {
		if errors.Is(err, ErrCache) {
			sawCache = true
		}
	}
	assert.True(t, sawCache)
}

func TestEngine_ErrorsDropOldest(t *testing.T) {
	f := newFixture(t, WithErrorBuffer(2))
	f.login("alice")
	drainErrors(f.eng)

	for i := 0; i < 4; i++ {
		f.node.Interrupt(errors.Newf("drop %d", i))
		f.settle()
	}

	errs := drainErrors(f.eng)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "drop 2")
	assert.Contains(t, errs[1].Error(), "drop 3")
}

func TestEngine_Watch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.eng.Watch(ctx)

	first := <-ch
	assert.Equal(t, PhaseUninitialized, first.Phase)

	f.login("alice")
	f.update("lamp", true)

	var latest View
	require.Eventually(t, func() bool {
		select {
		case latest = <-ch:
		default:
		}
		return latest.Device.Lamp
	}, time.Second, time.Millisecond)
	assert.Equal(t, "alice", latest.UserID)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestEngine_StopResolvesPending(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	res := f.update("lamp", true)

	f.eng.Stop()
	require.NoError(t, <-f.done)
	f.done <- nil

	assert.True(t, errors.Is(waitResult(t, res), ErrStopped))

	_, err := f.eng.UpdateDevice("lamp", false)
	assert.True(t, errors.Is(err, ErrStopped))
	assert.True(t, errors.Is(f.eng.SetIdentity("bob"), ErrStopped))
}

func TestEngine_RunTwice(t *testing.T) {
	f := newFixture(t)
	f.settle()
	assert.Error(t, f.eng.Run(context.Background()))
}

func TestEngine_TraceOrder(t *testing.T) {
	f := newFixture(t)
	f.login("alice")
	f.update("lamp", true)
	f.update("lamp", false)
	f.advance(testWindow)

	assert.Equal(t, []string{
		OpIdentity,
		OpPhase, // loading
		OpSnapshot,
		OpPhase, // synced
		OpUpdate,
		OpUpdate,
		OpSend,
		OpSnapshot,
		OpAck,
		OpSnapshot,
		OpStamp,
	}, f.ops())
}
