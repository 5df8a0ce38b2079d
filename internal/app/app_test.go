package app

import (
	"context"
	"testing"

	"codequiz/internal/config"
	"codequiz/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogProgress(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := LogProgress(zap.New(core))

	sink.Report(model.ProgressEntry{Severity: model.SeveritySuccess, Step: model.StepSendPhoto, Message: "photo sent", TaskID: 7, Language: "en"})
	sink.Report(model.ProgressEntry{Severity: model.SeverityWarning, Step: model.StepSendButton, Message: "button failed"})
	sink.Report(model.ProgressEntry{Severity: model.SeverityError, Step: model.StepDispatch, Message: "dispatch failed"})

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, int64(7), entries[0].ContextMap()["task_id"])
	assert.Equal(t, "en", entries[0].ContextMap()["language"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.NotContains(t, entries[1].ContextMap(), "task_id")
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestCreateObjectStore_Unconfigured(t *testing.T) {
	f := NewComponentFactory(&config.Config{}, zap.NewNop())
	store, err := f.CreateObjectStore(context.Background())
	require.NoError(t, err)

	_, err = store.PutImage(context.Background(), []byte("png"), "code-images/x.png")
	assert.True(t, model.IsKind(err, model.KindConfigurationMissing))
	_, err = store.PutVideo(context.Background(), "/tmp/x.mp4", "videos/x.mp4")
	assert.True(t, model.IsKind(err, model.KindConfigurationMissing))
	_, err = store.Delete(context.Background(), "https://cdn.example/code-images/x.png")
	assert.True(t, model.IsKind(err, model.KindConfigurationMissing))
}

func TestCreateDatabase_MissingURL(t *testing.T) {
	f := NewComponentFactory(&config.Config{}, zap.NewNop())
	_, err := f.CreateDatabase(context.Background())
	assert.True(t, model.IsKind(err, model.KindConfigurationMissing))
}
