package chunk

import (
	"strings"
	"testing"
	"time"
)

func TestEmbeddingInput(t *testing.T) {
	c := &Chunk{Title: "Cats", Content: "Cats are mammals"}
	got := c.EmbeddingInput()
	want := "Title: Cats\n\nContent: Cats are mammals"
	if got != want {
		t.Errorf("embedding input mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestChunkValidate(t *testing.T) {
	base := Chunk{
		ID:      "c1",
		OwnerID: "w1",
		Title:   "Cats",
		Content: "Cats are mammals",
	}

	tests := []struct {
		name    string
		mutate  func(*Chunk)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Chunk) {}},
		{name: "missing owner", mutate: func(c *Chunk) { c.OwnerID = "" }, wantErr: true},
		{name: "missing title", mutate: func(c *Chunk) { c.Title = "  " }, wantErr: true},
		{name: "missing content", mutate: func(c *Chunk) { c.Content = "" }, wantErr: true},
		{name: "title too long", mutate: func(c *Chunk) { c.Title = strings.Repeat("x", MaxTitleLen+1) }, wantErr: true},
		{name: "title at limit", mutate: func(c *Chunk) { c.Title = strings.Repeat("x", MaxTitleLen) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocumentDerivesEpochs(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	c := &Chunk{
		ID:        "c1",
		OwnerID:   "w1",
		Title:     "Cats",
		Content:   "Cats are mammals",
		SourceURL: "https://example.com/cats",
		CreatedAt: created,
		UpdatedAt: &updated,
	}

	doc := c.Document()
	if doc.CreatedAtEpoch != created.UnixMilli() {
		t.Errorf("created epoch = %d, want %d", doc.CreatedAtEpoch, created.UnixMilli())
	}
	if doc.UpdatedAtEpoch == nil || *doc.UpdatedAtEpoch != updated.UnixMilli() {
		t.Errorf("updated epoch = %v, want %d", doc.UpdatedAtEpoch, updated.UnixMilli())
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("derived document failed validation: %v", err)
	}
}

func TestDocumentNilUpdatedAt(t *testing.T) {
	c := &Chunk{
		ID:        "c1",
		OwnerID:   "w1",
		Title:     "Cats",
		Content:   "Cats are mammals",
		CreatedAt: time.Now().UTC(),
	}

	doc := c.Document()
	if doc.UpdatedAtEpoch != nil {
		t.Errorf("expected nil updated epoch, got %d", *doc.UpdatedAtEpoch)
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("document failed validation: %v", err)
	}
}

func TestIndexedDocumentValidateRejectsDrift(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Chunk{ID: "c1", OwnerID: "w1", Title: "t", Content: "c", CreatedAt: created}

	doc := c.Document()
	doc.CreatedAtEpoch++
	if err := doc.Validate(); err == nil {
		t.Error("expected validation error for drifted created_at_epoch")
	}

	doc = c.Document()
	epoch := created.UnixMilli()
	doc.UpdatedAtEpoch = &epoch
	if err := doc.Validate(); err == nil {
		t.Error("expected validation error for epoch without timestamp")
	}
}
