package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCommandFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "commands.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		job     string
		event   string
		status  string
		wantErr string
	}{
		{
			name:   "change status inactive",
			line:   "sendevent -E CHANGE_STATUS -s INACTIVE -J WMA_ESL_5481_DEV_DMSH_PRCSSNG_orders",
			job:    "WMA_ESL_5481_DEV_DMSH_PRCSSNG_orders",
			event:  "CHANGE_STATUS",
			status: "INACTIVE",
		},
		{
			name:  "absolute program path",
			line:  "  /opt/autosys/bin/sendevent -E FORCE_STARTJOB -J JOB.A#1  ",
			job:   "JOB.A#1",
			event: "FORCE_STARTJOB",
		},
		{
			name:    "blank",
			line:    "   ",
			wantErr: "blank line",
		},
		{
			name:    "other program",
			line:    "echo 'TEST_CMD_1'",
			wantErr: "expected sendevent command",
		},
		{
			name:    "missing job",
			line:    "sendevent -E CHANGE_STATUS -s INACTIVE",
			wantErr: "missing -J",
		},
		{
			name:    "missing event",
			line:    "sendevent -s INACTIVE -J JOB_A",
			wantErr: "missing -E",
		},
		{
			name:    "flag without value",
			line:    "sendevent -E CHANGE_STATUS -J",
			wantErr: "has no value",
		},
		{
			name:    "job name with shell metacharacters",
			line:    "sendevent -E CHANGE_STATUS -J JOB;rm",
			wantErr: "invalid job name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse(7, tt.line, "")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, 7, rec.LineNumber)
			assert.Equal(t, tt.job, rec.JobName)
			assert.Equal(t, tt.event, rec.Event)
			assert.Equal(t, tt.status, rec.Status)
			assert.Equal(t, strings.TrimSpace(tt.line), rec.RawText)
		})
	}
}

func TestParse_CustomProgram(t *testing.T) {
	rec, err := Parse(1, "sendevent_stub -E CHANGE_STATUS -J JOB_A", "sendevent_stub")
	require.NoError(t, err)
	assert.Equal(t, "JOB_A", rec.JobName)

	_, err = Parse(1, "sendevent -E CHANGE_STATUS -J JOB_A", "sendevent_stub")
	assert.Error(t, err)
}

func TestRecordArgvIsCopy(t *testing.T) {
	rec, err := Parse(1, "sendevent -E CHANGE_STATUS -J JOB_A", "")
	require.NoError(t, err)

	argv := rec.Argv()
	argv[0] = "rm"

	assert.Equal(t, "sendevent", rec.Args[0])
}

func TestLoad(t *testing.T) {
	path := writeCommandFile(t, strings.Join([]string{
		"sendevent -E CHANGE_STATUS -s INACTIVE -J JOB_A",
		"",
		"sendevent -E CHANGE_STATUS -s INACTIVE -J JOB_B",
		"not a command",
		"sendevent -E CHANGE_STATUS -s INACTIVE -J JOB_A",
		"sendevent -E CHANGE_STATUS -s INACTIVE -J JOB_C",
	}, "\n")+"\n")

	batch, err := Load(path, Options{})
	require.NoError(t, err)

	require.Len(t, batch.Records, 3)
	assert.Equal(t, "JOB_A", batch.Records[0].JobName)
	assert.Equal(t, 1, batch.Records[0].LineNumber)
	assert.Equal(t, "JOB_B", batch.Records[1].JobName)
	assert.Equal(t, 3, batch.Records[1].LineNumber)
	assert.Equal(t, "JOB_C", batch.Records[2].JobName)
	assert.Equal(t, 6, batch.Records[2].LineNumber)

	assert.Equal(t, 1, batch.Duplicates)
	require.Len(t, batch.Rejected, 2)
	assert.Equal(t, 2, batch.Rejected[0].Line)
	assert.Equal(t, 4, batch.Rejected[1].Line)
	for _, rej := range batch.Rejected {
		assert.Equal(t, ParseError, rej.Kind)
	}
	assert.Equal(t, path, batch.Path)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"), Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, NotFound))
}

func TestLoad_Directory(t *testing.T) {
	_, err := Load(t.TempDir(), Options{})
	require.Error(t, err)
	assert.True(t, IsKind(err, Unreadable))
}

func TestLoad_Empty(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "zero bytes", content: ""},
		{name: "only blanks", content: "\n\n   \n"},
		{name: "only malformed", content: "echo 'TEST_CMD_1'\necho 'TEST_CMD_2'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCommandFile(t, tt.content)

			_, err := Load(path, Options{})
			require.Error(t, err)
			assert.True(t, IsKind(err, Empty))
			assert.Contains(t, err.Error(), path)
		})
	}
}

func TestLoad_OversizedLine(t *testing.T) {
	huge := "sendevent -E CHANGE_STATUS -J " + strings.Repeat("A", 2*maxLineBytes)

	tests := []struct {
		name    string
		content string
	}{
		{name: "terminated", content: "sendevent -E CHANGE_STATUS -J JOB_A\n" + huge + "\nsendevent -E CHANGE_STATUS -J JOB_B\n"},
		{name: "last line", content: "sendevent -E CHANGE_STATUS -J JOB_A\nsendevent -E CHANGE_STATUS -J JOB_B\n" + huge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := Load(writeCommandFile(t, tt.content), Options{})
			require.NoError(t, err)

			require.Len(t, batch.Records, 2)
			assert.Equal(t, "JOB_A", batch.Records[0].JobName)
			assert.Equal(t, "JOB_B", batch.Records[1].JobName)

			require.Len(t, batch.Rejected, 1)
			assert.Equal(t, ParseError, batch.Rejected[0].Kind)
			assert.Contains(t, batch.Rejected[0].Error(), "exceeds")
		})
	}
}

func TestRead_OversizedLineKeepsNumbering(t *testing.T) {
	content := "sendevent -E CHANGE_STATUS -J JOB_A\n" +
		"sendevent -E CHANGE_STATUS -J " + strings.Repeat("B", maxLineBytes+1) + "\n" +
		"sendevent -E CHANGE_STATUS -J JOB_C\n"

	batch, err := Read(strings.NewReader(content), Options{})
	require.NoError(t, err)

	require.Len(t, batch.Records, 2)
	assert.Equal(t, 1, batch.Records[0].LineNumber)
	assert.Equal(t, 3, batch.Records[1].LineNumber)

	require.Len(t, batch.Rejected, 1)
	assert.Equal(t, 2, batch.Rejected[0].Line)
}

func TestBatchSample(t *testing.T) {
	var lines []string
	for _, job := range []string{"A", "B", "C"} {
		lines = append(lines, "sendevent -E CHANGE_STATUS -J JOB_"+job)
	}

	batch, err := Read(strings.NewReader(strings.Join(lines, "\n")), Options{})
	require.NoError(t, err)

	assert.Len(t, batch.Sample(2), 2)
	assert.Len(t, batch.Sample(10), 3)
}

func TestIsKind_NonSourceError(t *testing.T) {
	assert.False(t, IsKind(os.ErrNotExist, NotFound))
}
