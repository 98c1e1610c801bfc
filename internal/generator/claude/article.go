package claude

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/umaten/autopress/internal/pipeline"
)

// articlePayload is the JSON document the model is asked to produce.
type articlePayload struct {
	SEOTitle        string   `json:"seo_title"`
	MetaDescription string   `json:"meta_description"`
	Slug            string   `json:"slug"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	RatingDisplay   struct {
		Overall    float64 `json:"overall"`
		Food       float64 `json:"food"`
		Service    float64 `json:"service"`
		Atmosphere float64 `json:"atmosphere"`
		Value      float64 `json:"value"`
	} `json:"rating_display"`
	Menus []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Price       string `json:"price"`
	} `json:"menus"`
	ReviewsSummary []struct {
		ReviewerInitial string  `json:"reviewer_initial"`
		Date            string  `json:"date"`
		Rating          float64 `json:"rating"`
		Content         string  `json:"content"`
	} `json:"reviews_summary"`
	DetailedAnalysis struct {
		Sections []struct {
			Heading string `json:"heading"`
			Content string `json:"content"`
		} `json:"sections"`
	} `json:"detailed_analysis"`
	Recommendation struct {
		Content string `json:"content"`
	} `json:"recommendation"`
	SEOText string `json:"seo_text"`
}

// buildPrompt produces the compact generation prompt. Only the fields the
// model actually needs go over the wire to keep input tokens down.
func buildPrompt(listing pipeline.Listing) string {
	category := "グルメ"
	if len(listing.Categories) > 0 {
		category = listing.Categories[0]
	}
	compact := map[string]any{
		"name":     listing.Name,
		"category": category,
		"rating":   listing.Rating,
		"address":  listing.Address,
		"budget":   map[string]string{"lunch": listing.Budget.Lunch, "dinner": listing.Budget.Dinner},
		"hours":    listing.BusinessHours,
	}
	data, _ := json.Marshal(compact)

	var b strings.Builder
	b.WriteString("店舗データからSEO最適化された記事データをJSON形式で生成してください。\n\n")
	b.WriteString("【店舗データ】\n")
	b.Write(data)
	b.WriteString("\n\n【著作権・独自性に関する重要指示】\n")
	b.WriteString("- 他サイトのレビューをコピーせず、店舗の特徴から独自の視点で魅力を表現\n")
	b.WriteString("- 事実情報（住所・価格等）以外は必ずオリジナルの文章で作成\n")
	b.WriteString("\n【SEO最適化指示】\n")
	fmt.Fprintf(&b, "- タイトル：「%s | %s」を意識した60字以内\n", listing.Name, category)
	b.WriteString("- meta_description：店舗の魅力→具体的情報→行動喚起の構成（120-160字）\n")
	b.WriteString("\n【文章スタイル】\n")
	b.WriteString("- 読者が行きたくなる感情的価値を伝える。語尾は多様化し「〜ます」の連続禁止\n")
	b.WriteString("\n【出力JSON】JSONのみ出力。説明文不要。\n")
	b.WriteString(`{"seo_title":"60字以内","meta_description":"120-160字","slug":"english-slug","category":"japanese-food/western-food/chinese-food/cafe/bar/other","tags":["タグ1","タグ2"],"rating_display":{"overall":3.5,"food":3.6,"service":3.5,"atmosphere":3.4,"value":3.7},"menus":[{"name":"名","description":"30字","price":"¥1000"}],"reviews_summary":[{"reviewer_initial":"A","date":"2024/01","rating":4,"content":"独自視点の80字評価文"}],"detailed_analysis":{"sections":[{"heading":"見出し","content":"150-200字の独自分析"}]},"recommendation":{"content":"150字のおすすめポイント"},"seo_text":"150字のSEO文"}`)
	b.WriteString("\n【生成量】menus:3個, reviews_summary:3個, detailed_analysis.sections:4個\n")
	return b.String()
}

// renderHTML assembles the article body. Images always come from the scraped
// listing, never from the model.
func renderHTML(payload articlePayload, listing pipeline.Listing) string {
	var b strings.Builder

	if len(listing.Images) > 0 {
		fmt.Fprintf(&b, `<figure class="hero"><img src="%s" alt="%s"></figure>`+"\n",
			html.EscapeString(listing.Images[0]), html.EscapeString(listing.Name))
	}

	rating := listing.Rating
	if rating == 0 {
		rating = payload.RatingDisplay.Overall
	}
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(listing.Name))
	fmt.Fprintf(&b, `<p class="rating">%s %.2f</p>`+"\n", stars(rating), rating)

	b.WriteString("<h3>店舗情報</h3>\n<table>\n")
	writeRow(&b, "住所", listing.Address)
	writeRow(&b, "アクセス", listing.Station)
	writeRow(&b, "営業時間", listing.BusinessHours)
	writeRow(&b, "定休日", listing.Holiday)
	writeRow(&b, "予算（昼）", listing.Budget.Lunch)
	writeRow(&b, "予算（夜）", listing.Budget.Dinner)
	writeRow(&b, "電話番号", listing.Phone)
	b.WriteString("</table>\n")

	if len(payload.Menus) > 0 {
		b.WriteString("<h3>おすすめメニュー</h3>\n<ul>\n")
		for _, m := range payload.Menus {
			fmt.Fprintf(&b, "<li><strong>%s</strong>（%s） %s</li>\n",
				html.EscapeString(m.Name), html.EscapeString(m.Price), html.EscapeString(m.Description))
		}
		b.WriteString("</ul>\n")
	}

	if len(listing.Images) > 1 {
		b.WriteString(`<div class="gallery">` + "\n")
		gallery := listing.Images[1:]
		if len(gallery) > 12 {
			gallery = gallery[:12]
		}
		for _, img := range gallery {
			fmt.Fprintf(&b, `<img src="%s" alt="%sの写真">`+"\n",
				html.EscapeString(img), html.EscapeString(listing.Name))
		}
		b.WriteString("</div>\n")
	}

	if len(payload.ReviewsSummary) > 0 {
		b.WriteString("<h3>口コミまとめ</h3>\n")
		for _, r := range payload.ReviewsSummary {
			fmt.Fprintf(&b, `<blockquote><p>%s</p><cite>%sさん（%s） %s</cite></blockquote>`+"\n",
				html.EscapeString(r.Content), html.EscapeString(r.ReviewerInitial),
				html.EscapeString(r.Date), stars(r.Rating))
		}
	}

	for _, section := range payload.DetailedAnalysis.Sections {
		fmt.Fprintf(&b, "<h3>%s</h3>\n<p>%s</p>\n",
			html.EscapeString(section.Heading), html.EscapeString(section.Content))
	}

	if payload.Recommendation.Content != "" {
		fmt.Fprintf(&b, "<h3>おすすめポイント</h3>\n<p>%s</p>\n", html.EscapeString(payload.Recommendation.Content))
	}
	if payload.SEOText != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(payload.SEOText))
	}
	fmt.Fprintf(&b, `<p class="source">出典: <a href="%s" rel="nofollow">食べログ</a></p>`+"\n",
		html.EscapeString(listing.URL))
	return b.String()
}

func writeRow(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "<tr><th>%s</th><td>%s</td></tr>\n", html.EscapeString(label), html.EscapeString(value))
}

// stars renders a five-star display with a half step.
func stars(rating float64) string {
	if rating < 0 {
		rating = 0
	}
	if rating > 5 {
		rating = 5
	}
	full := int(rating)
	half := 0
	if rating-float64(full) >= 0.5 {
		half = 1
	}
	return strings.Repeat("★", full) + strings.Repeat("☆", half) + strings.Repeat("・", 5-full-half)
}
