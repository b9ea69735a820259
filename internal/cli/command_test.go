package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dynabo/dynabo/internal/meta"
	"github.com/dynabo/dynabo/internal/store"
)

func seedHelpdeskModule(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.CreateModule(context.Background(), &meta.Module{
		Code: "helpdesk", Name: "Helpdesk",
	}))
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "ticket.yaml", ticketYAML)

	out, err := runCommand(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 definition(s) valid")
}

func TestValidateCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "bad.yaml", "code: ticket\nname: Ticket\nfields:\n  - code: x\n    name: X\n    type: varchar\n")

	out, err := runCommand(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Validation failed")
}

func TestValidateCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "ticket.yaml", ticketYAML)

	out, err := runCommand(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestApplyCommand(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "ticket.yaml", ticketYAML)
	dbPath := filepath.Join(t.TempDir(), "apply.db")

	// ticketYAML references module helpdesk; create it first.
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	seedHelpdeskModule(t, st)
	require.NoError(t, st.Close())

	out, err := runCommand(t, "apply", dir, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 created, 0 updated")

	// Applying the same documents again updates instead of creating.
	out, err = runCommand(t, "apply", dir, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "0 created, 1 updated")

	st, err = store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	def, err := st.GetDefinition(context.Background(), "ticket")
	require.NoError(t, err)
	assert.True(t, def.TableCreated)
	assert.Len(t, def.Fields, 2)
}

func TestApplyCommandBadDatabasePath(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "ticket.yaml", ticketYAML)

	_, err := runCommand(t, "apply", dir,
		"--db", filepath.Join(t.TempDir(), "no", "such", "dir", "x.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
