package docflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobValidate(t *testing.T) {
	valid := func() *Job {
		return &Job{
			UserID:      "user-1",
			DocumentRef: "s3://docs/invoice-42.pdf",
			RawInput:    map[string]any{"text": "INVOICE #42"},
		}
	}

	t.Run("valid job passes", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("nil job rejected", func(t *testing.T) {
		var job *Job
		err := job.Validate()
		require.Error(t, err)
		require.True(t, MatchesKind(err, KindValidation))
	})

	t.Run("missing user id rejected", func(t *testing.T) {
		job := valid()
		job.UserID = ""
		require.ErrorContains(t, job.Validate(), "user id")
	})

	t.Run("missing document ref rejected", func(t *testing.T) {
		job := valid()
		job.DocumentRef = ""
		require.ErrorContains(t, job.Validate(), "document ref")
	})

	t.Run("missing raw input rejected for fresh job", func(t *testing.T) {
		job := valid()
		job.RawInput = nil
		require.ErrorContains(t, job.Validate(), "raw input")
	})

	t.Run("resume needs a correlation id but no raw input", func(t *testing.T) {
		job := valid()
		job.Resume = true
		job.RawInput = nil
		require.ErrorContains(t, job.Validate(), "correlation id")

		job.CorrelationID = "doc_existing"
		require.NoError(t, job.Validate())
	})
}
