package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachvisio/coachvisio/internal/persona"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	return s, dir
}

func TestStore_InitializesMetadata(t *testing.T) {
	_, dir := newTestStore(t)

	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestStore_SaveListGet(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.Save("manager", 540, "20250115_01_manager.pdf", []byte("%PDF-1.4 premier"))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	_, err = time.Parse(time.RFC3339, first.CreatedAt)
	require.NoError(t, err, "createdAt must be ISO-8601")

	// A later save lists first.
	time.Sleep(1100 * time.Millisecond)
	second, err := s.Save("client", 120, "20250115_02_client.pdf", []byte("%PDF-1.4 deuxième"))
	require.NoError(t, err)

	records := s.List()
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID, "most recent first")
	assert.Equal(t, first.ID, records[1].ID)

	rec, path, err := s.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "manager", rec.Persona)
	assert.Equal(t, 540, rec.DurationSeconds)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 premier", string(data))
}

func TestStore_GetUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.Get("unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetMissingFileIsNotFound(t *testing.T) {
	s, dir := newTestStore(t)

	rec, err := s.Save("manager", 60, "r.pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, rec.ID+".pdf")))

	_, _, err = s.Get(rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MalformedMetadataResets(t *testing.T) {
	s, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{broken"), 0o644))

	assert.Empty(t, s.List())

	// The store stays usable afterwards.
	_, err := s.Save("prospect", 30, "p.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Len(t, s.List(), 1)
}

func TestStore_FiltersInvalidRecords(t *testing.T) {
	s, dir := newTestStore(t)

	bad := `[
	  {"id":"a","createdAt":"2025-01-15T10:00:00Z","persona":"pirate","durationSeconds":60,"fileName":"a.pdf"},
	  {"id":"","createdAt":"2025-01-15T10:00:00Z","persona":"manager","durationSeconds":60,"fileName":"b.pdf"},
	  {"id":"c","createdAt":"2025-01-15T10:00:00Z","persona":"manager","durationSeconds":-1,"fileName":"c.pdf"},
	  {"id":"d","createdAt":"2025-01-15T10:00:00Z","persona":"manager","durationSeconds":60,"fileName":"d.pdf"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(bad), 0o644))

	records := s.List()
	require.Len(t, records, 1)
	assert.Equal(t, "d", records[0].ID)
}

func TestFileName(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "20250115_01_manager.pdf", FileName(now, 1, persona.Manager))
	assert.Equal(t, "20250115_12_conflit.pdf", FileName(now, 12, persona.Conflit))
}

func TestBuildPDF(t *testing.T) {
	pdf, err := BuildPDF(Session{
		Persona:         persona.Get(persona.Manager),
		DurationSeconds: 545,
		Summary: "### Forces observées\n- Bonne structure\n\n" +
			"### Axes d'amélioration\n- Plus de chiffres\n\n" +
			"### Recommandations concrètes\nPréparer trois indicateurs clés.",
		Transcript: []Entry{
			{Role: "user", Content: "Bonjour, voici l'avancement du projet."},
			{Role: "assistant", Content: "Quels sont vos indicateurs ?"},
			{Role: "error", Content: "[Erreur réseau] Impossible de contacter le serveur."},
		},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")), "output must be a PDF document")
	assert.Greater(t, len(pdf), 1000)
}

func TestBuildPDF_EmptySession(t *testing.T) {
	pdf, err := BuildPDF(Session{Persona: persona.Get(persona.DefaultID)})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}
