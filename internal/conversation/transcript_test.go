package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketforge/pocketforge/internal/domain"
)

func TestTranscriptAppendReturnsLength(t *testing.T) {
	tr := NewTranscript(nil)

	assert.Equal(t, 1, tr.Append(msg(domain.RoleUser, "a")))
	assert.Equal(t, 2, tr.Append(msg(domain.RoleAssistant, "b")))
	assert.Equal(t, 2, tr.Len())
}

func TestTranscriptSnapshotIsACopy(t *testing.T) {
	tr := NewTranscript([]domain.Message{msg(domain.RoleUser, "a")})

	snap := tr.Snapshot()
	snap[0].Content = "mutated"
	_ = append(snap, msg(domain.RoleAssistant, "extra"))

	require.Equal(t, 1, tr.Len())
	assert.Equal(t, "a", tr.Snapshot()[0].Content)
}

func TestTranscriptEmptySnapshotIsNotNil(t *testing.T) {
	tr := NewTranscript(nil)
	assert.NotNil(t, tr.Snapshot())
	assert.Empty(t, tr.Snapshot())
}

func TestTranscriptReplaceDetachesInput(t *testing.T) {
	tr := NewTranscript(nil)
	seq := []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}

	tr.Replace(seq)
	seq[0].Content = "changed"

	assert.Equal(t, []domain.Message{msg(domain.RoleUser, "U1"), msg(domain.RoleAssistant, "A1")}, tr.Snapshot())
}

func TestNewTranscriptCopiesInitial(t *testing.T) {
	initial := []domain.Message{msg(domain.RoleUser, "U1")}
	tr := NewTranscript(initial)
	initial[0].Content = "changed"

	assert.Equal(t, "U1", tr.Snapshot()[0].Content)
}
