package sweeper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type refsMock struct {
	mock.Mock
}

func (m *refsMock) BatchTempFiles(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

type cronMock struct {
	mock.Mock
}

func (m *cronMock) Start() { m.Called() }

func (m *cronMock) Stop() context.Context { return m.Called().Get(0).(context.Context) }

func (m *cronMock) Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID {
	return m.Called(schedule, cmd).Get(0).(cron.EntryID)
}

func TestSweeper_Sweep(t *testing.T) {
	dir := t.TempDir()
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	stale := writeFile(t, dir, "stale.jsonl", old)
	inUse := writeFile(t, dir, "batch-in-use.jsonl", old)
	fresh := writeFile(t, dir, "fresh.jsonl", time.Now())
	sub := filepath.Join(dir, "subdir")
	require.NoError(t, os.Mkdir(sub, 0o700))
	require.NoError(t, os.Chtimes(sub, old, old))

	refs := &refsMock{}
	refs.On("BatchTempFiles", mock.Anything).Return([]string{inUse, "/somewhere/else.jsonl"}, nil).Once()

	s := Sweeper{Dir: dir, MaxAge: 24 * time.Hour, Refs: refs}
	removed, err := s.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
	for _, p := range []string{inUse, fresh, sub} {
		_, err = os.Stat(p)
		assert.NoError(t, err, p)
	}
	refs.AssertExpectations(t)
}

func TestSweeper_SweepKeepsReferencesInAnyForm(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "temp")
	require.NoError(t, os.Mkdir(dir, 0o700))
	link := filepath.Join(root, "temp-link")
	require.NoError(t, os.Symlink(dir, link))
	old := time.Now().Add(-48 * time.Hour)

	byName := writeFile(t, dir, "batch.jsonl", old)
	viaLink := writeFile(t, dir, "linked.jsonl", old)
	unclean := writeFile(t, dir, "unclean.jsonl", old)
	stale := writeFile(t, dir, "stale.jsonl", old)

	refs := &refsMock{}
	refs.On("BatchTempFiles", mock.Anything).Return([]string{
		"batch.jsonl",
		filepath.Join(link, "linked.jsonl"),
		dir + "/./sub/../unclean.jsonl",
	}, nil).Once()

	// sweeper configured with the symlinked path sees the same files
	s := Sweeper{Dir: link, MaxAge: 24 * time.Hour, Refs: refs}
	removed, err := s.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for _, p := range []string{byName, viaLink, unclean} {
		_, err = os.Stat(p)
		assert.NoError(t, err, p)
	}
	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
	refs.AssertExpectations(t)
}

func TestCanonical(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, link))

	assert.Equal(t, resolved, canonical(link))
	assert.Equal(t, filepath.Join(resolved, "missing"), canonical(filepath.Join(resolved, "x", "..", "missing")))
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(canonical("relative.txt")))
	assert.Equal(t, filepath.Join(wd, "relative.txt"), canonical("relative.txt"))
}

func TestSweeper_SweepErrors(t *testing.T) {
	t.Run("refs failed", func(t *testing.T) {
		dir := t.TempDir()
		stale := writeFile(t, dir, "stale.jsonl", time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))

		refs := &refsMock{}
		refs.On("BatchTempFiles", mock.Anything).Return([]string(nil), errors.New("db is gone")).Once()
		s := Sweeper{Dir: dir, MaxAge: time.Hour, Refs: refs}
		_, err := s.Sweep(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db is gone")

		_, err = os.Stat(stale)
		assert.NoError(t, err, "nothing removed without knowing references")
	})

	t.Run("missing dir", func(t *testing.T) {
		refs := &refsMock{}
		refs.On("BatchTempFiles", mock.Anything).Return([]string{}, nil).Once()
		s := Sweeper{Dir: filepath.Join(t.TempDir(), "nope"), MaxAge: time.Hour, Refs: refs}
		_, err := s.Sweep(t.Context())
		require.Error(t, err)
	})
}

func TestSweeper_Run(t *testing.T) {
	dir := t.TempDir()
	stale := writeFile(t, dir, "stale.jsonl", time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))

	refs := &refsMock{}
	refs.On("BatchTempFiles", mock.Anything).Return([]string{}, nil)

	stopped, stop := context.WithCancel(context.Background())
	stop()
	cr := &cronMock{}
	var job cron.Job
	cr.On("Schedule", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		job = args.Get(1).(cron.Job)
	}).Return(cron.EntryID(1)).Once()
	cr.On("Start").Once()
	cr.On("Stop").Return(stopped).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s := Sweeper{Dir: dir, MaxAge: time.Hour, Refs: refs, Cron: cr}
	require.NoError(t, s.Run(ctx, "@every 1h"))
	cr.AssertExpectations(t)

	// scheduled job sweeps
	require.NotNil(t, job)
	job.Run()
	_, err := os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSweeper_RunBadSpec(t *testing.T) {
	s := Sweeper{Dir: t.TempDir(), MaxAge: time.Hour, Refs: &refsMock{}, Cron: &cronMock{}}
	err := s.Run(t.Context(), "not a spec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a spec")
}

func writeFile(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}
