package backup

import (
	"io"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drand/ordering/common/testlogger"
)

func readAll(t *testing.T, b *Log) []byte {
	t.Helper()
	r, err := b.Loader()
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	return content
}

func TestBackupAbsentIsEmpty(t *testing.T) {
	folder := path.Join(t.TempDir(), "backup")
	b, err := Open(testlogger.New(t), folder, 3)
	require.NoError(t, err)
	defer b.Close()

	require.Equal(t, path.Join(folder, "3.units"), b.Path())
	require.Empty(t, readAll(t, b))

	_, err = os.Stat(b.Path())
	require.NoError(t, err)
}

func TestBackupReplayAcrossSessions(t *testing.T) {
	folder := t.TempDir()
	l := testlogger.New(t)

	b, err := Open(l, folder, 0)
	require.NoError(t, err)
	require.Empty(t, readAll(t, b))
	_, err = b.Saver().Write([]byte("first "))
	require.NoError(t, err)
	_, err = b.Saver().Write([]byte("session"))
	require.NoError(t, err)
	require.Equal(t, int64(13), b.Appended())
	require.NoError(t, b.Close())

	b, err = Open(l, folder, 0)
	require.NoError(t, err)
	require.Equal(t, "first session", string(readAll(t, b)))
	_, err = b.Saver().Write([]byte(" second"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(l, folder, 0)
	require.NoError(t, err)
	defer b.Close()
	require.Equal(t, "first session second", string(readAll(t, b)))
}

func TestBackupReplayOnce(t *testing.T) {
	b, err := Open(testlogger.New(t), t.TempDir(), 1)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Loader()
	require.NoError(t, err)
	_, err = b.Loader()
	require.ErrorIs(t, err, ErrReplayed)
}

func TestBackupAppendBeforeReplay(t *testing.T) {
	b, err := Open(testlogger.New(t), t.TempDir(), 1)
	require.NoError(t, err)

	_, err = b.Saver().Write([]byte("too early"))
	require.ErrorIs(t, err, ErrReplayPending)

	readAll(t, b)
	require.NoError(t, b.Close())
	_, err = b.Saver().Write([]byte("too late"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestBackupParticipantsDoNotCollide(t *testing.T) {
	folder := t.TempDir()
	l := testlogger.New(t)

	b0, err := Open(l, folder, 0)
	require.NoError(t, err)
	b1, err := Open(l, folder, 1)
	require.NoError(t, err)
	readAll(t, b0)
	readAll(t, b1)
	_, err = b0.Saver().Write([]byte("zero"))
	require.NoError(t, err)
	_, err = b1.Saver().Write([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, b0.Close())
	require.NoError(t, b1.Close())

	b0, err = Open(l, folder, 0)
	require.NoError(t, err)
	defer b0.Close()
	require.Equal(t, "zero", string(readAll(t, b0)))
}

func TestBackupOpenFailure(t *testing.T) {
	file := path.Join(t.TempDir(), "not-a-folder")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	_, err := Open(testlogger.New(t), file, 0)
	require.Error(t, err)
}
