package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoffDoubles(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryBackoff(1))
	assert.Equal(t, 10*time.Second, RetryBackoff(2))
	assert.Equal(t, 20*time.Second, RetryBackoff(3))
}

func TestRetryBackoffClampsLowAttempts(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryBackoff(0))
	assert.Equal(t, 5*time.Second, RetryBackoff(-3))
}

func TestQueueKeys(t *testing.T) {
	assert.Equal(t, "jobs:resource-process", queueKey(QueueResourceProcess))
	assert.Equal(t, "jobs:resource-process:processing", processingKey(QueueResourceProcess))
	assert.Equal(t, "jobs:document-process:delayed", delayedKey(QueueDocumentProcess))
	assert.Equal(t, "jobs:resource-process:completed", completedKey(QueueResourceProcess))
	assert.Equal(t, "jobs:resource-process:failed", failedKey(QueueResourceProcess))
}

// fakeListMover scripts LMove results: queued payloads first, then the
// empty-list sentinel.
type fakeListMover struct {
	payloads []string
	moves    [][2]string
	err      error
}

func (f *fakeListMover) LMove(ctx context.Context, src, dst, srcpos, destpos string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	f.moves = append(f.moves, [2]string{src, dst})
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	if len(f.payloads) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(f.payloads[0])
	f.payloads = f.payloads[1:]
	return cmd
}

func TestDrainProcessingRequeuesOrphans(t *testing.T) {
	mover := &fakeListMover{payloads: []string{`{"id":"a"}`, `{"id":"b"}`}}

	moved, err := drainProcessing(context.Background(), mover, QueueResourceProcess)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	// Orphans move from the processing list back to the live queue.
	require.Len(t, mover.moves, 3)
	for _, m := range mover.moves {
		assert.Equal(t, "jobs:resource-process:processing", m[0])
		assert.Equal(t, "jobs:resource-process", m[1])
	}
}

func TestDrainProcessingPropagatesBrokerError(t *testing.T) {
	mover := &fakeListMover{err: errors.New("dial tcp: connection refused")}

	moved, err := drainProcessing(context.Background(), mover, QueueDocumentProcess)
	require.Error(t, err)
	assert.Equal(t, 0, moved)
}

func TestQueueConcurrency(t *testing.T) {
	assert.Equal(t, 1, queueConcurrency[QueueResourceProcess])
	assert.Equal(t, 2, queueConcurrency[QueueDocumentProcess])
}
