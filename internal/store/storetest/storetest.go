// Package storetest holds behaviour checks shared by every links.Repository
// and audit.Repository implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sundayezeilo/golinks/internal/audit"
	"github.com/sundayezeilo/golinks/internal/errx"
	"github.com/sundayezeilo/golinks/internal/links"
)

// LinkFactory returns an empty repository for one subtest.
type LinkFactory func(t *testing.T) links.Repository

// AuditFactory returns an empty repository for one subtest.
type AuditFactory func(t *testing.T) audit.Repository

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func sample(code string) links.Link {
	return links.Link{
		ShortCode: code,
		TargetURL: "https://example.com/" + code,
		Title:     "Title " + code,
		IsActive:  true,
		OwnerID:   7,
	}
}

func mustInsert(t *testing.T, repo links.Repository, l links.Link) links.Link {
	t.Helper()
	got, err := repo.Insert(context.Background(), l)
	if err != nil {
		t.Fatalf("Insert(%q) error = %v", l.ShortCode, err)
	}
	return got
}

func wantKind(t *testing.T, err error, kind errx.Kind) {
	t.Helper()
	if errx.KindOf(err) != kind {
		t.Errorf("error kind = %v, want %v (err=%v)", errx.KindOf(err), kind, err)
	}
}

// RunLinks exercises a links.Repository.
func RunLinks(t *testing.T, newRepo LinkFactory) {
	ctx := context.Background()

	t.Run("insert and find", func(t *testing.T) {
		repo := newRepo(t)

		in := sample("abc123")
		in.Description = strPtr("first link")
		created := mustInsert(t, repo, in)

		if created.ID <= 0 {
			t.Errorf("ID = %d, want store-assigned positive id", created.ID)
		}
		if created.CreatedAt.IsZero() || created.UpdatedAt != nil || created.LastAccessedAt != nil {
			t.Errorf("timestamps = %v / %v / %v", created.CreatedAt, created.UpdatedAt, created.LastAccessedAt)
		}
		if created.AccessCount != 0 {
			t.Errorf("AccessCount = %d, want 0", created.AccessCount)
		}

		byCode, err := repo.FindByCode(ctx, "abc123")
		if err != nil {
			t.Fatalf("FindByCode() error = %v", err)
		}
		byID, err := repo.FindByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}

		for name, got := range map[string]links.Link{"FindByCode": byCode, "FindByID": byID} {
			if got.ID != created.ID || got.TargetURL != in.TargetURL || got.Title != in.Title ||
				!got.IsActive || got.OwnerID != in.OwnerID {
				t.Errorf("%s() = %+v", name, got)
			}
			if got.Description == nil || *got.Description != "first link" {
				t.Errorf("%s() Description = %v", name, got.Description)
			}
		}

		plain := mustInsert(t, repo, sample("nodesc"))
		if plain.Description != nil {
			t.Errorf("Description = %q, want nil", *plain.Description)
		}
	})

	t.Run("missing rows", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.FindByCode(ctx, "nothere")
		wantKind(t, err, errx.NotFound)
		_, err = repo.FindByID(ctx, 424242)
		wantKind(t, err, errx.NotFound)
		_, err = repo.Update(ctx, 424242, links.UpdateSpec{Title: strPtr("x")})
		wantKind(t, err, errx.NotFound)
		wantKind(t, repo.Delete(ctx, 424242), errx.NotFound)
		_, err = repo.IncrementAccess(ctx, 424242)
		wantKind(t, err, errx.NotFound)
	})

	t.Run("duplicate code conflicts", func(t *testing.T) {
		repo := newRepo(t)

		orig := mustInsert(t, repo, sample("taken"))
		dup := sample("taken")
		dup.TargetURL = "https://evil.example.com"

		_, err := repo.Insert(ctx, dup)
		wantKind(t, err, errx.Conflict)

		got, err := repo.FindByID(ctx, orig.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got.TargetURL != orig.TargetURL {
			t.Errorf("TargetURL = %q, want unchanged %q", got.TargetURL, orig.TargetURL)
		}
	})

	t.Run("partial update", func(t *testing.T) {
		repo := newRepo(t)
		orig := mustInsert(t, repo, sample("upd"))

		got, err := repo.Update(ctx, orig.ID, links.UpdateSpec{Title: strPtr("Renamed")})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.Title != "Renamed" || got.TargetURL != orig.TargetURL || got.IsActive != orig.IsActive {
			t.Errorf("Update() = %+v", got)
		}
		if got.UpdatedAt == nil {
			t.Error("UpdatedAt not set")
		}
		if got.ShortCode != orig.ShortCode || !got.CreatedAt.Equal(orig.CreatedAt) {
			t.Errorf("immutable fields changed: %+v", got)
		}

		got, err = repo.Update(ctx, orig.ID, links.UpdateSpec{
			TargetURL:   strPtr("https://example.org/new"),
			Description: strPtr("now described"),
			IsActive:    boolPtr(false),
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.TargetURL != "https://example.org/new" || got.IsActive || got.Title != "Renamed" {
			t.Errorf("Update() = %+v", got)
		}
		if got.Description == nil || *got.Description != "now described" {
			t.Errorf("Description = %v", got.Description)
		}

		if _, err := repo.Update(ctx, orig.ID, links.UpdateSpec{}); err != nil {
			t.Errorf("empty Update() error = %v", err)
		}
	})

	t.Run("empty description clears it", func(t *testing.T) {
		repo := newRepo(t)
		in := sample("desc")
		in.Description = strPtr("to be removed")
		orig := mustInsert(t, repo, in)

		got, err := repo.Update(ctx, orig.ID, links.UpdateSpec{Description: strPtr("")})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		if got.Description != nil {
			t.Errorf("Description = %q, want nil", *got.Description)
		}

		found, err := repo.FindByID(ctx, orig.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if found.Description != nil {
			t.Errorf("stored Description = %q, want nil", *found.Description)
		}
		if found.Title != orig.Title {
			t.Errorf("Title = %q, want %q", found.Title, orig.Title)
		}
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		l := mustInsert(t, repo, sample("gone"))

		if err := repo.Delete(ctx, l.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		_, err := repo.FindByCode(ctx, "gone")
		wantKind(t, err, errx.NotFound)
		wantKind(t, repo.Delete(ctx, l.ID), errx.NotFound)

		again := mustInsert(t, repo, sample("gone"))
		if again.ID == l.ID {
			t.Errorf("reinserted link reused id %d", l.ID)
		}
	})

	t.Run("search", func(t *testing.T) {
		repo := newRepo(t)

		a := sample("first")
		a.Title = "Example Site"
		b := sample("second")
		b.Title = "Other"
		b.Description = strPtr("an EXAMPLE description")
		c := sample("exa999")
		c.Title = "Code match"
		d := sample("third")
		d.Title = "100% unrelated"
		for _, l := range []links.Link{a, b, c, d} {
			mustInsert(t, repo, l)
		}

		tests := []struct {
			name      string
			params    links.SearchParams
			wantTotal int64
			wantCodes []string
		}{
			{"term across fields", links.SearchParams{Limit: 10, Term: "exa"}, 3, []string{"first", "second", "exa999"}},
			{"window", links.SearchParams{Skip: 1, Limit: 1, Term: "EXA"}, 3, []string{"second"}},
			{"past end", links.SearchParams{Skip: 5, Limit: 10, Term: "exa"}, 3, nil},
			{"no term", links.SearchParams{Limit: 2}, 4, []string{"first", "second"}},
			{"percent is literal", links.SearchParams{Limit: 10, Term: "100%"}, 1, []string{"third"}},
			{"underscore is literal", links.SearchParams{Limit: 10, Term: "_"}, 0, nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, total, err := repo.Search(ctx, tt.params)
				if err != nil {
					t.Fatalf("Search() error = %v", err)
				}
				if total != tt.wantTotal {
					t.Errorf("total = %d, want %d", total, tt.wantTotal)
				}
				var codes []string
				for _, l := range got {
					codes = append(codes, l.ShortCode)
				}
				if fmt.Sprint(codes) != fmt.Sprint(tt.wantCodes) {
					t.Errorf("codes = %v, want %v", codes, tt.wantCodes)
				}
			})
		}
	})

	t.Run("concurrent increments", func(t *testing.T) {
		repo := newRepo(t)
		l := mustInsert(t, repo, sample("busy"))

		const n = 25
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := repo.IncrementAccess(ctx, l.ID); err != nil {
					t.Errorf("IncrementAccess() error = %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := repo.FindByID(ctx, l.ID)
		if err != nil {
			t.Fatalf("FindByID() error = %v", err)
		}
		if got.AccessCount != n {
			t.Errorf("AccessCount = %d, want %d", got.AccessCount, n)
		}
		if got.LastAccessedAt == nil {
			t.Error("LastAccessedAt not set")
		}
	})
}

// RunUnicodeSearch checks that search folds case beyond ASCII. Only stores
// whose matching is Unicode-aware run it; SQLite's LIKE folds ASCII only.
func RunUnicodeSearch(t *testing.T, newRepo LinkFactory) {
	ctx := context.Background()
	repo := newRepo(t)

	l := sample("ete")
	l.Title = "Été à Paris"
	mustInsert(t, repo, l)

	tests := []struct {
		term      string
		wantTotal int64
	}{
		{"été", 1},
		{"ÉTÉ", 1},
		{"À PARIS", 1},
		{"hiver", 0},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			_, total, err := repo.Search(ctx, links.SearchParams{Limit: 10, Term: tt.term})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("Search(%q) total = %d, want %d", tt.term, total, tt.wantTotal)
			}
		})
	}
}

// RunAudit exercises an audit.Repository.
func RunAudit(t *testing.T, newRepo AuditFactory) {
	ctx := context.Background()

	t.Run("insert", func(t *testing.T) {
		repo := newRepo(t)
		linkID := int64(99)

		rec, err := repo.Insert(ctx, audit.Entry{
			ActorID:   5,
			Action:    audit.ActionCreate,
			LinkID:    &linkID,
			Detail:    "Created link abc",
			Requester: audit.Requester{IP: "203.0.113.5", UserAgent: "curl/8"},
		})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if rec.ID <= 0 || rec.CreatedAt.IsZero() {
			t.Errorf("Insert() = %+v, want id and created_at", rec)
		}
		if rec.ActorID != 5 || rec.Action != audit.ActionCreate || rec.LinkID == nil || *rec.LinkID != 99 {
			t.Errorf("Insert() = %+v", rec)
		}
		if rec.Detail != "Created link abc" || rec.IPAddress != "203.0.113.5" || rec.UserAgent != "curl/8" {
			t.Errorf("Insert() = %+v", rec)
		}

		anon, err := repo.Insert(ctx, audit.Entry{ActorID: audit.AnonymousActorID, Action: audit.ActionAccess})
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if anon.LinkID != nil || anon.IPAddress != "" || anon.UserAgent != "" {
			t.Errorf("Insert() = %+v, want empty optional fields", anon)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		repo := newRepo(t)
		linkA, linkB := int64(1), int64(2)

		entries := []audit.Entry{
			{ActorID: 10, Action: audit.ActionCreate, LinkID: &linkA},
			{ActorID: 11, Action: audit.ActionCreate, LinkID: &linkB},
			{ActorID: audit.AnonymousActorID, Action: audit.ActionAccess, LinkID: &linkA},
			{ActorID: 10, Action: audit.ActionUpdate, LinkID: &linkA},
			{ActorID: 10, Action: audit.ActionDelete, LinkID: &linkA},
		}
		for _, e := range entries {
			if _, err := repo.Insert(ctx, e); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}

		byLink, err := repo.ListByLink(ctx, linkA, 0, 10)
		if err != nil {
			t.Fatalf("ListByLink() error = %v", err)
		}
		wantActions := []audit.Action{audit.ActionDelete, audit.ActionUpdate, audit.ActionAccess, audit.ActionCreate}
		if len(byLink) != len(wantActions) {
			t.Fatalf("ListByLink() len = %d, want %d", len(byLink), len(wantActions))
		}
		for i, want := range wantActions {
			if byLink[i].Action != want {
				t.Errorf("ListByLink()[%d].Action = %s, want %s", i, byLink[i].Action, want)
			}
		}

		page, err := repo.ListByLink(ctx, linkA, 1, 2)
		if err != nil {
			t.Fatalf("ListByLink() error = %v", err)
		}
		if len(page) != 2 || page[0].Action != audit.ActionUpdate {
			t.Errorf("ListByLink(skip=1, limit=2) = %+v", page)
		}

		byActor, err := repo.ListByActor(ctx, 10, 0, 10)
		if err != nil {
			t.Fatalf("ListByActor() error = %v", err)
		}
		if len(byActor) != 3 {
			t.Errorf("ListByActor() len = %d, want 3", len(byActor))
		}

		none, err := repo.ListByActor(ctx, 12345, 0, 10)
		if err != nil {
			t.Fatalf("ListByActor() error = %v", err)
		}
		if len(none) != 0 {
			t.Errorf("ListByActor(unknown) len = %d, want 0", len(none))
		}
	})
}
