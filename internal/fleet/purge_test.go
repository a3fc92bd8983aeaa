package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/runferry/portal/internal/config"
)

func TestPurger_run(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.PutShare(ctx, Share{Key: "gone", ExpiresAt: f.now.Add(-time.Hour)}))
	require.NoError(t, f.store.PutShare(ctx, Share{Key: "kept", ExpiresAt: f.now.Add(time.Hour)}))

	p, err := NewPurger(f.svc, "@every 1h", zaptest.NewLogger(t))
	require.NoError(t, err)
	p.run()

	assert.Equal(t, 1, f.rec.n)
	_, err = f.store.GetShare(ctx, "kept")
	assert.NoError(t, err)
}

func TestPurger_badSchedule(t *testing.T) {
	_, err := NewPurger(NewService(NewMemoryStore(), config.FleetConfig{}), "every hour", nil)
	assert.Error(t, err)
}

func TestPurger_startStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := NewPurger(NewService(NewMemoryStore(), config.FleetConfig{}), "@every 1h", nil)
	require.NoError(t, err)
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
}
