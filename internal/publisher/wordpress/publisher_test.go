package wordpress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
)

var testCategories = []pipeline.Category{
	{ID: 1, Name: "未分類", Slug: "uncategorized", Parent: 0},
	{ID: 10, Name: "東京", Slug: "tokyo", Parent: 0},
	{ID: 11, Name: "千代田区", Slug: "chiyoda", Parent: 10},
	{ID: 20, Name: "料理ジャンル", Slug: "genre", Parent: 0},
	{ID: 21, Name: "焼き鳥", Slug: "yakitori", Parent: 20},
	{ID: 22, Name: "寿司", Slug: "sushi", Parent: 20},
}

type wpServer struct {
	srv           *httptest.Server
	categoryCalls atomic.Int64

	lastPost map[string]any
}

func newWPServer(t *testing.T) *wpServer {
	t.Helper()
	ws := &wpServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/wp-json/wp/v2/categories", func(w http.ResponseWriter, r *http.Request) {
		ws.categoryCalls.Add(1)
		if r.URL.Query().Get("page") == "1" {
			json.NewEncoder(w).Encode(testCategories)
			return
		}
		json.NewEncoder(w).Encode([]pipeline.Category{})
	})

	mux.HandleFunc("/wp-json/wp/v2/tags", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if r.URL.Query().Get("search") == "神田" {
				json.NewEncoder(w).Encode([]tagObject{{ID: 300, Name: "神田"}})
				return
			}
			json.NewEncoder(w).Encode([]tagObject{})
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(tagObject{ID: 301, Name: body["name"]})
	})

	mux.HandleFunc("/wp-json/wp/v2/posts", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "editor", user)
		require.Equal(t, "abcdwxyz", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&ws.lastPost))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(postResponse{ID: 77, Link: "https://blog.example.com/?p=77"})
	})

	ws.srv = httptest.NewServer(mux)
	t.Cleanup(ws.srv.Close)
	return ws
}

func newPublisher(t *testing.T, ws *wpServer) *Publisher {
	t.Helper()
	return New(Config{
		BaseURL:  ws.srv.URL,
		Username: "editor",
		// Application passwords arrive with display spaces.
		AppPassword: "abcd wxyz",
	}, zap.NewNop())
}

func TestCreatePost(t *testing.T) {
	t.Parallel()

	ws := newWPServer(t)
	pub := newPublisher(t, ws)

	article := pipeline.Article{
		Title:           "炭火焼鳥 とり福 | 神田の焼鳥",
		HTML:            "<h2>本文</h2>",
		Slug:            "torifuku-kanda",
		Tags:            []string{"神田", "焼鳥"},
		MetaDescription: "神田の焼鳥店を紹介。",
	}
	post, err := pub.CreatePost(context.Background(), article, []int{10, 21}, pipeline.PostDraft)
	require.NoError(t, err)
	require.Equal(t, 77, post.ID)
	require.Equal(t, "https://blog.example.com/?p=77", post.URL)

	require.Equal(t, "<!-- wp:html -->\n<h2>本文</h2>\n<!-- /wp:html -->", ws.lastPost["content"])
	require.Equal(t, "draft", ws.lastPost["status"])
	require.Equal(t, "torifuku-kanda", ws.lastPost["slug"])
	require.Equal(t, []any{float64(10), float64(21)}, ws.lastPost["categories"])
	// Existing tag resolved, missing tag created.
	require.Equal(t, []any{float64(300), float64(301)}, ws.lastPost["tags"])

	meta := ws.lastPost["meta"].(map[string]any)
	require.Equal(t, "神田の焼鳥店を紹介。", meta["_yoast_wpseo_metadesc"])
	require.Equal(t, "炭火焼鳥 とり福 | 神田の焼鳥", meta["ssp_meta_title"])
}

func TestCreatePostErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"rest_cannot_create"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	pub := New(Config{BaseURL: srv.URL, Username: "u", AppPassword: "p"}, zap.NewNop())
	_, err := pub.CreatePost(context.Background(), pipeline.Article{Title: "t", HTML: "x"}, nil, pipeline.PostPublish)
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestCategoriesCached(t *testing.T) {
	t.Parallel()

	ws := newWPServer(t)
	pub := newPublisher(t, ws)

	first, err := pub.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, first, len(testCategories))
	calls := ws.categoryCalls.Load()

	second, err := pub.Categories(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, calls, ws.categoryCalls.Load())
}

func TestResolveCategories(t *testing.T) {
	t.Parallel()

	ws := newWPServer(t)
	pub := newPublisher(t, ws)

	t.Run("city and genre with parents", func(t *testing.T) {
		ids, err := pub.ResolveCategories(context.Background(), pipeline.Listing{
			Name:       "とり福",
			Address:    "東京都千代田区1-2-3",
			Categories: []string{"焼鳥", "居酒屋"},
		})
		require.NoError(t, err)
		// City, its prefecture parent, the genre, and the genre parent.
		require.ElementsMatch(t, []int{11, 10, 21, 20}, ids)
	})

	t.Run("prefecture only", func(t *testing.T) {
		ids, err := pub.ResolveCategories(context.Background(), pipeline.Listing{
			Name:    "すし処",
			Address: "東京都小笠原村父島",
			Categories: []string{
				"寿司",
			},
		})
		require.NoError(t, err)
		require.ElementsMatch(t, []int{10, 22, 20}, ids)
	})

	t.Run("uncategorized fallback", func(t *testing.T) {
		ids, err := pub.ResolveCategories(context.Background(), pipeline.Listing{
			Name:       "name",
			Address:    "Somewhere abroad",
			Categories: []string{"unknown cuisine"},
		})
		require.NoError(t, err)
		require.Equal(t, []int{1}, ids)
	})
}

func TestSynonymMatching(t *testing.T) {
	t.Parallel()

	matches := genreCategories(testCategories, []string{"やきとり"}, pipeline.Category{}, false)
	require.Len(t, matches, 1)
	require.Equal(t, 21, matches[0].ID)
}

func TestCategoryCacheExpires(t *testing.T) {
	t.Parallel()

	ws := newWPServer(t)
	pub := New(Config{
		BaseURL:          ws.srv.URL,
		Username:         "editor",
		AppPassword:      "abcd wxyz",
		CategoryCacheTTL: time.Nanosecond,
	}, zap.NewNop())

	_, err := pub.Categories(context.Background())
	require.NoError(t, err)
	calls := ws.categoryCalls.Load()

	time.Sleep(time.Millisecond)
	_, err = pub.Categories(context.Background())
	require.NoError(t, err)
	require.Greater(t, ws.categoryCalls.Load(), calls)
}
