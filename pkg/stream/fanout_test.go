package stream

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/branchwatch/branchwatch/pkg/logger"
	"github.com/branchwatch/branchwatch/pkg/models"
)

func change(ip string) models.StatusChange {
	return models.StatusChange{
		DeviceID:  uuid.New(),
		DeviceIP:  ip,
		OldStatus: models.DeviceStatusUp,
		NewStatus: models.DeviceStatusDown,
		Timestamp: time.Now(),
	}
}

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	f := NewFanout(logger.NewTestLogger())

	ch1, cancel1 := f.Subscribe()
	defer cancel1()
	ch2, cancel2 := f.Subscribe()
	defer cancel2()

	require.Equal(t, 2, f.Subscribers())

	f.Publish(change("10.1.1.1"))

	got1 := <-ch1
	got2 := <-ch2
	assert.Equal(t, "10.1.1.1", got1.DeviceIP)
	assert.Equal(t, "10.1.1.1", got2.DeviceIP)
}

func TestFanoutDropsWhenSubscriberFull(t *testing.T) {
	f := NewFanout(logger.NewTestLogger())

	_, cancel := f.Subscribe()
	defer cancel()

	// Fill the buffer without draining, then publish one more.
	for i := 0; i <= subscriberBuffer; i++ {
		f.Publish(change("10.1.1.2"))
	}

	assert.Equal(t, uint64(1), f.Dropped())
}

func TestFanoutUnsubscribeClosesChannel(t *testing.T) {
	f := NewFanout(logger.NewTestLogger())

	ch, cancel := f.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, f.Subscribers())

	// Publishing after unsubscribe must not panic.
	f.Publish(change("10.1.1.3"))
}
