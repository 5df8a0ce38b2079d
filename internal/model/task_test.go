package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAnswers(t *testing.T) {
	tests := []struct {
		name        string
		answers     StringList
		correct     string
		expected    StringList
		wantChanged bool
	}{
		{
			name:     "Без изменений",
			answers:  StringList{"1", "2", "3"},
			correct:  "2",
			expected: StringList{"1", "2", "3"},
		},
		{
			name:        "Дубликат правильного ответа",
			answers:     StringList{"1", "2", "2", "3"},
			correct:     "2",
			expected:    StringList{"1", "2", "3"},
			wantChanged: true,
		},
		{
			name:        "Пробелы и пустые строки",
			answers:     StringList{" 1", "", "2 "},
			correct:     " 2",
			expected:    StringList{"1", "2"},
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := TaskTranslation{Language: "en", Question: "q", Answers: tt.answers, CorrectAnswer: tt.correct}
			changed := tr.NormalizeAnswers()
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.expected, tr.Answers)
			assert.NoError(t, tr.Validate())
		})
	}
}

func TestTranslationValidate(t *testing.T) {
	tests := []struct {
		name    string
		tr      TaskTranslation
		wantErr bool
	}{
		{
			name: "Валидный перевод",
			tr:   TaskTranslation{Language: "ru", Question: "q", Answers: StringList{"1", "2"}, CorrectAnswer: "2"},
		},
		{
			name:    "Правильный ответ отсутствует",
			tr:      TaskTranslation{Language: "ru", Question: "q", Answers: StringList{"1", "2"}, CorrectAnswer: "3"},
			wantErr: true,
		},
		{
			name:    "Один вариант",
			tr:      TaskTranslation{Language: "ru", Question: "q", Answers: StringList{"1"}, CorrectAnswer: "1"},
			wantErr: true,
		},
		{
			name:    "Нет языка",
			tr:      TaskTranslation{Question: "q", Answers: StringList{"1", "2"}, CorrectAnswer: "1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tr.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindValidationFailed, KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTaskValidate(t *testing.T) {
	created := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	before := created.Add(-time.Hour)
	after := created.Add(time.Hour)
	msg := int64(10)

	valid := Task{TranslationGroupID: uuid.New(), TopicID: 1, Difficulty: DifficultyEasy, CreateDate: created}
	assert.NoError(t, valid.Validate())

	published := valid
	published.Published = true
	assert.Error(t, published.Validate())

	published.PublishDate = &after
	published.MessageID = &msg
	assert.NoError(t, published.Validate())

	early := published
	early.PublishDate = &before
	assert.Error(t, early.Validate())

	bad := valid
	bad.Difficulty = "extreme"
	bad.ExternalLink = "not a url"
	var ve ValidationErrors
	require.True(t, errors.As(bad.Validate(), &ve))
	assert.Len(t, ve, 2)
}

func TestIncorrectAnswers(t *testing.T) {
	tr := TaskTranslation{Answers: StringList{"a", "b", "c"}, CorrectAnswer: "b"}
	assert.Equal(t, []string{"a", "c"}, tr.IncorrectAnswers())
}
