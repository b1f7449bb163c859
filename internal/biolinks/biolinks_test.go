package biolinks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"ExoLab-Agents/internal/embedding"
	xerrors "ExoLab-Agents/internal/errors"
)

const galleryHTML = `<html><body><ul>
<li class="gallery-cards__item featured"><div><a role="button" aria-label="Heart" href="/viewer/heart">x</a></div></li>
<li class="gallery-cards__item"><a href="/ignored">plain</a><a role="button">no label</a></li>
<li class="gallery-cards__item"><span>no link</span></li>
<li class="other"><a role="button" aria-label="Skip" href="/skip"></a></li>
</ul></body></html>`

type lengthEmbedder struct{}

// Embed 返回以名称长度为首元素的向量，便于预测排序。
func (lengthEmbedder) Embed(_ context.Context, _, input string) ([]float64, error) {
	return []float64{float64(len(input)), 1}, nil
}

func TestParse(t *testing.T) {
	links, err := Parse(strings.NewReader(galleryHTML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %+v", links)
	}
	if links[0].Name != "Heart" || links[0].Href != "https://human.biodigital.com/viewer/heart" {
		t.Fatalf("unexpected first link: %+v", links[0])
	}
	if links[1].Name != "No Name" || links[1].Href != "https://human.biodigital.comNo Link" {
		t.Fatalf("unexpected defaults: %+v", links[1])
	}
}

func TestMemoryRepositoryOrdersByNegativeInnerProduct(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	_ = repo.Insert(ctx, []Record{
		{Link: Link{Name: "small"}, Vector: []float64{1, 0}},
		{Link: Link{Name: "large"}, Vector: []float64{5, 0}},
		{Link: Link{Name: "mid"}, Vector: []float64{3, 0}},
	})

	results, err := repo.Search(ctx, []float64{1, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].Name != "large" || results[1].Name != "mid" {
		t.Fatalf("unexpected ordering: %+v", results)
	}
	if results[0].Similarity != -5 {
		t.Fatalf("unexpected similarity: %v", results[0].Similarity)
	}
}

func TestPostgresRepository(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(insertSQL)
	prep.ExpectExec().WithArgs("Heart", "https://h/heart", "[1,2]").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("Lung", "https://h/lung", "[3,4]").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err = repo.Insert(ctx, []Record{
		{Link: Link{Name: "Heart", Href: "https://h/heart"}, Vector: []float64{1, 2}},
		{Link: Link{Name: "Lung", Href: "https://h/lung"}, Vector: []float64{3, 4}},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	mock.ExpectQuery(searchSQL).WithArgs("[0.5,0.5]", 3).WillReturnRows(
		sqlmock.NewRows([]string{"name", "href", "similarity"}).
			AddRow("Lung", "https://h/lung", -3.5).
			AddRow("Heart", "https://h/heart", -1.5),
	)
	results, err := repo.Search(ctx, []float64{0.5, 0.5}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].Name != "Lung" || results[0].Similarity != -3.5 {
		t.Fatalf("unexpected results: %+v", results)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServiceExtractAndSearch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gallery.html")
	if err := os.WriteFile(path, []byte(galleryHTML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	repo := NewMemoryRepository()
	svc := NewService(embedding.NewService(lengthEmbedder{}, embedding.WithDimensions(2)), repo, 2)

	n, err := svc.Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 2 || InsertedMessage(n) != "Inserted 2 records." {
		t.Fatalf("unexpected count %d", n)
	}

	results, err := svc.Search(context.Background(), "q", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].Name != "No Name" {
		t.Fatalf("unexpected results: %+v", results)
	}

	if _, err := svc.Extract(context.Background(), filepath.Join(dir, "missing.html")); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
