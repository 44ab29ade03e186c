package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/quayforge/ociregistry/pkg/models"
)

func openTestDB(t *testing.T) *bbolt.DB {
	path := filepath.Join(t.TempDir(), "audit.db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	log, err := NewLog(openTestDB(t), logger)
	require.NoError(t, err)

	log.Record(models.Event{Type: models.EventBlobFinalized, Digest: "sha256:aaa"})
	log.Record(models.Event{Type: models.EventManifestPut, Repo: "r", Reference: "v1", Digest: "sha256:bbb"})

	events, err := log.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Recent returns newest first.
	assert.Equal(t, models.EventManifestPut, events[0].Type)
	assert.Equal(t, models.EventBlobFinalized, events[1].Type)
}

func TestRecentRespectsLimit(t *testing.T) {
	logger := logrus.New()
	log, err := NewLog(openTestDB(t), logger)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		log.Record(models.Event{Type: models.EventGCRun})
	}

	events, err := log.Recent(2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRecordSwallowsErrorOnNilLog(t *testing.T) {
	var log *Log
	assert.NotPanics(t, func() {
		log.Record(models.Event{Type: models.EventGCRun})
	})
}
