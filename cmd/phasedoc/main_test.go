package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phasedoc/pkg/agent/llm"
	"phasedoc/pkg/agent/llmtest"
	"phasedoc/pkg/config"
)

// execute runs the CLI against a fresh project dir with a fake model.
func execute(t *testing.T, dir, stdin string, fake llm.LLMClient, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { config.SetConfigForTesting(nil) })

	c := &cli{
		baseClient: fake,
		now:        func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) },
	}
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--project-dir", dir}, args...))
	err := root.Execute()
	return out.String(), err
}

func constant(text string) *llmtest.FakeClient {
	f := llmtest.NewFakeClient()
	f.Respond = func(llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: text, StopReason: "STOP"}, nil
	}
	return f
}

func TestPhasesCommand(t *testing.T) {
	out, err := execute(t, t.TempDir(), "", constant("x"), "phases")
	require.NoError(t, err)

	assert.Contains(t, out, "1. Initial Inquiry (initial_inquiry)")
	assert.Contains(t, out, "4. Document Drafting (document_drafting)")
	assert.Less(t, strings.Index(out, "initial_inquiry"), strings.Index(out, "requirements_gathering"))
}

func TestOutlinesCommand(t *testing.T) {
	out, err := execute(t, t.TempDir(), "", constant("x"), "outlines")
	require.NoError(t, err)

	assert.Contains(t, out, "project_proposal")
	assert.Contains(t, out, "meeting_minutes")
}

func TestBuildWritesDocument(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "docs")
	fake := constant("Generated text.")

	out, err := execute(t, dir, "", fake, "build", "project_proposal",
		"--set", "project_name=Acme", "--out", outDir, "--timestamp=false")
	require.NoError(t, err)

	path := filepath.Join(outDir, "Acme_project_proposal.md")
	assert.Contains(t, out, "Document written to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# "))
	assert.Contains(t, string(data), "Generated text.")
	assert.Equal(t, 6, fake.Calls())
}

func TestBuildTimestampedName(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "docs")

	_, err := execute(t, dir, "", constant("ok"), "build", "project_proposal",
		"--set", "project_name=Acme", "--out", outDir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outDir, "Acme_project_proposal_20240301_093000.md"))
	assert.NoError(t, err)
}

func TestBuildUnknownOutline(t *testing.T) {
	_, err := execute(t, t.TempDir(), "", constant("x"), "build", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outline not found")
	assert.Contains(t, err.Error(), "project_proposal")
}

func TestInterviewThenSessions(t *testing.T) {
	dir := t.TempDir()
	fake := constant("What problem does the project solve?")

	script := "Billing is slow\nyes\nIt must be fast\nquit\nno\n"
	out, err := execute(t, dir, script, fake, "interview")
	require.NoError(t, err)

	assert.Contains(t, out, "Welcome! Session: cli_session")
	assert.Contains(t, out, "Question: What problem does the project solve?")
	assert.Equal(t, 2, strings.Count(out, "Answer recorded."))
	assert.Contains(t, out, "Phase: Requirements Gathering")
	assert.Contains(t, out, "Skipping document generation.")
	assert.Equal(t, 2, fake.Calls())

	out, err = execute(t, dir, "", constant("x"), "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "cli_session")
	assert.Contains(t, out, "requirements_gathering")

	out, err = execute(t, dir, "", constant("x"), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "initial_inquiry: Billing is slow")
	assert.Contains(t, out, "requirements_gathering: It must be fast")
	assert.Equal(t, 2, strings.Count(out, "question"))
}

func TestHistoryUnknownSession(t *testing.T) {
	out, err := execute(t, t.TempDir(), "", constant("x"), "history", "--session", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "No events recorded for session nobody.")
}

func TestInterviewResumesStoredPhase(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "first\nyes\n", constant("Q?"), "interview")
	require.NoError(t, err)

	out, err := execute(t, dir, "", constant("Q?"), "interview")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase: Requirements Gathering")
	assert.NotContains(t, out, "Phase: Initial Inquiry")
}

func TestInterviewResetStartsOver(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "first\nyes\n", constant("Q?"), "interview")
	require.NoError(t, err)

	out, err := execute(t, dir, "", constant("Q?"), "interview", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase: Initial Inquiry")
	assert.NotContains(t, out, "Phase: Requirements Gathering")

	out, err = execute(t, dir, "", constant("x"), "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "initial_inquiry")
	assert.NotContains(t, out, "requirements_gathering")
}

func TestInterviewResetCompletedSession(t *testing.T) {
	dir := t.TempDir()

	// Walk all four phases to the end of the chain.
	script := strings.Repeat("answer\nyes\n", 4) + "no\n"
	out, err := execute(t, dir, script, constant("Q?"), "interview")
	require.NoError(t, err)
	require.Contains(t, out, "No more phases. Interaction will end here.")

	out, err = execute(t, dir, "", constant("Q?"), "interview", "--reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Phase: Initial Inquiry")
	assert.NotContains(t, out, "Phase: Document Drafting")
}

func TestSecretsSet(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(passwordEnv, "hunter2")

	out, err := execute(t, dir, "sk-test\n", constant("x"), "secrets", "set", "GEMINI_API_KEY")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved GEMINI_API_KEY")

	secrets, err := config.DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", secrets["GEMINI_API_KEY"])
}

func TestParseSets(t *testing.T) {
	got, err := parseSets([]string{"a=1", " b =x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)

	for _, bad := range []string{"novalue", "=v"} {
		_, err := parseSets([]string{bad})
		assert.Error(t, err, bad)
	}
}
