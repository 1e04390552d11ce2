package collection

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/export"
	"github.com/heartline/keyset/pkg/pagination"
	"github.com/heartline/keyset/pkg/store/memory"
)

var profilesConfig = config.CollectionConfig{
	Name: "profiles",
	Fields: []config.FieldConfig{
		{Name: "id", Type: "int", Sort: "asc"},
		{Name: "score", Type: "int", Sort: "desc", Filter: true},
		{Name: "city", Type: "string", Filter: true},
	},
	DefaultSort: []string{"score"},
}

func profileDocs(n int) []Document {
	cities := []string{"Rome", "Oslo"}
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			"id":    int64(i + 1),
			"score": int64(i%3) * 10,
			"city":  cities[i%2],
		}
	}
	return docs
}

func newProfileService(t *testing.T, cfg config.CollectionConfig, n int, settings Settings) *Service[Document] {
	t.Helper()
	store := memory.NewCollection("profiles", memory.Documents[Document](), profileDocs(n)...)
	def, err := DocumentDefinition(cfg, store)
	if err != nil {
		t.Fatalf("DocumentDefinition() error = %v", err)
	}
	svc, err := NewService(def, settings)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func ids(items []Document) []int64 {
	out := make([]int64, len(items))
	for i, d := range items {
		out[i] = d["id"].(int64)
	}
	return out
}

func TestService_KeysetWalksEveryRecordOnce(t *testing.T) {
	ctx := context.Background()
	svc := newProfileService(t, profilesConfig, 11, Settings{})

	seen := map[int64]bool{}
	var order []Document
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
		values := url.Values{"limit": {"2"}}
		if cursor != "" {
			values.Set("cursor", cursor)
		}
		page, err := svc.FetchPage(ctx, pagination.ParseKeysetRequest(values, svc.executor.Limits()), values)
		if err != nil {
			t.Fatalf("FetchPage() error = %v", err)
		}
		for _, d := range page.Items {
			id := d["id"].(int64)
			if seen[id] {
				t.Fatalf("record %d served twice", id)
			}
			seen[id] = true
			order = append(order, d)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 11 {
		t.Fatalf("served %d records, want 11", len(seen))
	}
	for i := 1; i < len(order); i++ {
		prev, cur := order[i-1], order[i]
		ps, cs := prev["score"].(int64), cur["score"].(int64)
		if ps < cs || (ps == cs && prev["id"].(int64) > cur["id"].(int64)) {
			t.Fatalf("order broken between %v and %v", prev, cur)
		}
	}
}

func TestService_KeysetFilters(t *testing.T) {
	ctx := context.Background()
	svc := newProfileService(t, profilesConfig, 10, Settings{})

	got, err := svc.Keyset(ctx, url.Values{"city": {"Rome"}, "limit": {"50"}})
	if err != nil {
		t.Fatalf("Keyset() error = %v", err)
	}
	page := got.(*pagination.Page[Document])
	if len(page.Items) != 5 {
		t.Fatalf("got %d Rome profiles, want 5", len(page.Items))
	}
	for _, d := range page.Items {
		if d["city"] != "Rome" {
			t.Errorf("unexpected city in %v", d)
		}
	}

	got, err = svc.Keyset(ctx, url.Values{"score": {"0", "20"}, "sortBy": {"id"}, "limit": {"50"}})
	if err != nil {
		t.Fatalf("Keyset() error = %v", err)
	}
	for _, d := range got.(*pagination.Page[Document]).Items {
		if d["score"] == int64(10) {
			t.Errorf("score filter let through %v", d)
		}
	}
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	svc := newProfileService(t, profilesConfig, 3, Settings{})

	if _, err := svc.Keyset(ctx, url.Values{"score": {"high"}}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("bad filter value error = %v, want ErrInvalidFilter", err)
	}
	if _, err := svc.Keyset(ctx, url.Values{"sortBy": {"city"}}); !errors.Is(err, pagination.ErrUnknownSortField) {
		t.Errorf("unknown sort error = %v, want ErrUnknownSortField", err)
	}
	if _, err := svc.Offset(ctx, url.Values{"sortBy": {"id", "score"}}); !errors.Is(err, pagination.ErrInvalidSortSpec) {
		t.Errorf("tiebreaker not last error = %v, want ErrInvalidSortSpec", err)
	}
}

func TestService_RequiredFilter(t *testing.T) {
	cfg := profilesConfig
	cfg.PartitionKey = "city"
	svc := newProfileService(t, cfg, 4, Settings{})

	if _, err := svc.Keyset(context.Background(), url.Values{}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("missing partition error = %v, want ErrInvalidFilter", err)
	}
	if _, err := svc.Keyset(context.Background(), url.Values{"city": {"Rome", "Oslo"}}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("two partitions error = %v, want ErrInvalidFilter", err)
	}
	if _, err := svc.Keyset(context.Background(), url.Values{"city": {"Rome"}}); err != nil {
		t.Errorf("pinned partition error = %v", err)
	}
}

func TestService_PrefetchHintsNextPage(t *testing.T) {
	ctx := context.Background()
	svc := newProfileService(t, profilesConfig, 10, Settings{PrefetchCount: 3})

	values := url.Values{"limit": {"2"}, "prefetch": {"true"}, "sortBy": {"id"}}
	got, err := svc.Keyset(ctx, values)
	if err != nil {
		t.Fatalf("Keyset() error = %v", err)
	}
	first := got.(*pagination.Page[Document])
	if want := []string{"3", "4", "5"}; strings.Join(first.PrefetchIDs, ",") != strings.Join(want, ",") {
		t.Fatalf("PrefetchIDs = %v, want %v", first.PrefetchIDs, want)
	}

	values.Set("cursor", first.NextCursor)
	values.Del("prefetch")
	got, err = svc.Keyset(ctx, values)
	if err != nil {
		t.Fatalf("Keyset() error = %v", err)
	}
	if next := ids(got.(*pagination.Page[Document]).Items); next[0] != 3 || next[1] != 4 {
		t.Errorf("second page = %v, want [3 4]", next)
	}
}

func TestService_Offset(t *testing.T) {
	svc := newProfileService(t, profilesConfig, 10, Settings{})

	got, err := svc.Offset(context.Background(), url.Values{"page": {"2"}, "limit": {"4"}, "sortBy": {"id"}})
	if err != nil {
		t.Fatalf("Offset() error = %v", err)
	}
	page := got.(*pagination.OffsetPage[Document])
	if page.Pagination.Total != 10 || page.Pagination.TotalPages != 3 || !page.Pagination.HasNext || !page.Pagination.HasPrev {
		t.Errorf("pagination = %+v", page.Pagination)
	}
	if got := ids(page.Items); len(got) != 4 || got[0] != 5 || got[3] != 8 {
		t.Errorf("page 2 ids = %v, want [5 6 7 8]", got)
	}
}

func TestService_CountKey(t *testing.T) {
	svc := newProfileService(t, profilesConfig, 1, Settings{})
	key := svc.countKey(url.Values{"city": {"Rome", "Oslo"}, "page": {"3"}, "score": {"10"}})
	if key != "profiles|city=Oslo,Rome|score=10" {
		t.Errorf("countKey() = %q", key)
	}
	if key := svc.countKey(url.Values{}); key != "profiles" {
		t.Errorf("unfiltered countKey() = %q", key)
	}
}

func TestService_Export(t *testing.T) {
	svc := newProfileService(t, profilesConfig, 9, Settings{})
	var buf bytes.Buffer

	runner, err := svc.Export(ExportRequest{
		Filter:    url.Values{"city": {"Oslo"}},
		Sink:      export.NewWriterSink(&buf),
		ChunkSize: 2,
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	summary, err := runner.Run(context.Background(), export.RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Records != 4 || summary.Chunks != 2 {
		t.Errorf("summary = %+v, want 4 records in 2 chunks", summary)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 4 {
		t.Errorf("wrote %d lines, want 4", lines)
	}

	if _, err := svc.Export(ExportRequest{Filter: url.Values{"score": {"x"}}, Sink: export.NewWriterSink(&buf)}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("bad export filter error = %v", err)
	}
}

func TestNewService_Validation(t *testing.T) {
	store := memory.NewCollection("profiles", memory.Documents[Document]())
	def, err := DocumentDefinition(profilesConfig, store)
	if err != nil {
		t.Fatal(err)
	}

	broken := def
	broken.Name = ""
	if _, err := NewService(broken, Settings{}); err == nil {
		t.Error("empty name should fail")
	}
	broken = def
	broken.Store = nil
	if _, err := NewService(broken, Settings{}); err == nil {
		t.Error("nil store should fail")
	}
	if _, err := NewService(def, Settings{CountMode: pagination.CountCached}); err == nil {
		t.Error("cached counts without a cache should fail")
	}
	if _, err := NewService(def, Settings{CountMode: "sometimes"}); err == nil {
		t.Error("unknown count mode should fail")
	}
}
