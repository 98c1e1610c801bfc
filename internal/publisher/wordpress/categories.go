package wordpress

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
)

// prefectures maps full prefecture names to the short form used in category
// names, ordered tables are unnecessary since address matching is exact.
var prefectures = map[string]string{
	"北海道": "北海道", "青森県": "青森", "岩手県": "岩手", "宮城県": "宮城",
	"秋田県": "秋田", "山形県": "山形", "福島県": "福島", "茨城県": "茨城",
	"栃木県": "栃木", "群馬県": "群馬", "埼玉県": "埼玉", "千葉県": "千葉",
	"東京都": "東京", "神奈川県": "神奈川", "新潟県": "新潟", "富山県": "富山",
	"石川県": "石川", "福井県": "福井", "山梨県": "山梨", "長野県": "長野",
	"岐阜県": "岐阜", "静岡県": "静岡", "愛知県": "愛知", "三重県": "三重",
	"滋賀県": "滋賀", "京都府": "京都", "大阪府": "大阪", "兵庫県": "兵庫",
	"奈良県": "奈良", "和歌山県": "和歌山", "鳥取県": "鳥取", "島根県": "島根",
	"岡山県": "岡山", "広島県": "広島", "山口県": "山口", "徳島県": "徳島",
	"香川県": "香川", "愛媛県": "愛媛", "高知県": "高知", "福岡県": "福岡",
	"佐賀県": "佐賀", "長崎県": "長崎", "熊本県": "熊本", "大分県": "大分",
	"宮崎県": "宮崎", "鹿児島県": "鹿児島", "沖縄県": "沖縄",
}

// genreSynonyms maps cuisine keyword variants onto the canonical substring
// expected in category names.
var genreSynonyms = map[string]string{
	"いざかや": "居酒屋",
	"すし":   "寿司", "スシ": "寿司",
	"らーめん": "ラーメン",
	"やきにく": "焼肉",
	"焼鳥":   "焼き鳥", "やきとり": "焼き鳥",
	"イタリア料理": "イタリア", "イタリアン": "イタリア",
	"フランス料理": "フレンチ",
	"中国料理":   "中華",
	"cafe": "カフェ", "Cafe": "カフェ",
}

var cityPattern = regexp.MustCompile(`([^\s]+?[市区町村])`)

// Categories returns the site's category tree, cached between calls.
func (p *Publisher) Categories(ctx context.Context) ([]pipeline.Category, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil && time.Now().Before(p.cachedUntil) {
		return p.cached, nil
	}

	var all []pipeline.Category
	for page := 1; ; page++ {
		var batch []pipeline.Category
		path := fmt.Sprintf("/wp-json/wp/v2/categories?per_page=100&page=%d", page)
		if err := p.do(ctx, http.MethodGet, path, nil, http.StatusOK, &batch); err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			break
		}
	}
	p.cached = all
	p.cachedUntil = time.Now().Add(p.cfg.CategoryCacheTTL)
	return all, nil
}

// ResolveCategories picks categories for a listing: the city under its
// prefecture from the address, up to two cuisine genres from the listing
// categories, each with its ancestor chain. With no match at all it falls
// back to the uncategorized category.
func (p *Publisher) ResolveCategories(ctx context.Context, listing pipeline.Listing) ([]int, error) {
	cats, err := p.Categories(ctx)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, nil
	}

	byID := make(map[int]pipeline.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	var picked []int
	seen := make(map[int]struct{})
	addWithParents := func(c pipeline.Category) {
		for {
			if _, dup := seen[c.ID]; !dup {
				seen[c.ID] = struct{}{}
				picked = append(picked, c.ID)
			}
			parent, ok := byID[c.Parent]
			if c.Parent == 0 || !ok {
				return
			}
			c = parent
		}
	}

	prefCat, prefOK := prefectureCategory(cats, listing.Address)
	if region, ok := cityCategory(cats, listing.Address, prefCat, prefOK); ok {
		addWithParents(region)
	} else if prefOK {
		addWithParents(prefCat)
	}

	for _, genre := range genreCategories(cats, listing.Categories, prefCat, prefOK) {
		addWithParents(genre)
	}

	if len(picked) == 0 {
		for _, c := range cats {
			if c.Slug == "uncategorized" {
				p.logger.Info("no category matched, using uncategorized",
					zap.String("restaurant", listing.Name))
				return []int{c.ID}, nil
			}
		}
		return nil, nil
	}
	return picked, nil
}

func prefectureCategory(cats []pipeline.Category, address string) (pipeline.Category, bool) {
	short := ""
	for full, s := range prefectures {
		if strings.Contains(address, full) || strings.Contains(address, s) {
			short = s
			break
		}
	}
	if short == "" {
		return pipeline.Category{}, false
	}
	for _, c := range cats {
		if c.Parent == 0 && strings.Contains(c.Name, short) {
			return c, true
		}
	}
	return pipeline.Category{}, false
}

func cityCategory(cats []pipeline.Category, address string, pref pipeline.Category, prefOK bool) (pipeline.Category, bool) {
	if !prefOK {
		return pipeline.Category{}, false
	}
	for _, city := range cityPattern.FindAllString(address, -1) {
		base := strings.TrimRight(city, "市区町村")
		for _, c := range cats {
			if c.Parent != pref.ID {
				continue
			}
			if strings.Contains(c.Name, base) || strings.Contains(c.Name, city) ||
				strings.Contains(city, c.Name) {
				return c, true
			}
		}
	}
	return pipeline.Category{}, false
}

func genreCategories(cats []pipeline.Category, keywords []string, pref pipeline.Category, prefOK bool) []pipeline.Category {
	var genreParent pipeline.Category
	genreParentOK := false
	for _, c := range cats {
		if c.Parent == 0 && (strings.Contains(c.Name, "ジャンル") ||
			strings.Contains(c.Name, "料理") || strings.Contains(c.Name, "グルメ")) {
			genreParent = c
			genreParentOK = true
			break
		}
	}

	var matches []pipeline.Category
	for _, keyword := range keywords {
		if len(matches) >= 2 {
			break
		}
		canonical := keyword
		if mapped, ok := genreSynonyms[keyword]; ok {
			canonical = mapped
		}
		clean := strings.NewReplacer("・", "", " ", "").Replace(canonical)

		for _, c := range cats {
			genreChild := genreParentOK && c.Parent == genreParent.ID
			topLevel := c.Parent == 0 && (!prefOK || c.ID != pref.ID)
			if !genreChild && !topLevel {
				continue
			}
			cleanName := strings.NewReplacer("・", "", " ", "").Replace(c.Name)
			if strings.Contains(c.Name, canonical) ||
				strings.Contains(cleanName, clean) ||
				(c.Name != "" && strings.Contains(canonical, c.Name)) {
				matches = append(matches, c)
				break
			}
		}
	}
	return matches
}
