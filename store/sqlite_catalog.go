package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rushteam/dropfeed/core"
)

func (s *SQLStore) queryRaw(ctx context.Context, what, query string, args ...any) ([]core.RawRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", what, err)
	}
	defer rows.Close()
	out, err := scanRawRows(rows)
	if err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", what, err)
	}
	return out, nil
}

// ListDrops 返回已发布商品，按热度降序。
func (s *SQLStore) ListDrops(ctx context.Context, limit int) ([]core.RawRow, error) {
	return s.queryRaw(ctx, "list drops",
		`SELECT * FROM drops WHERE status = 'published'
		 ORDER BY popularity DESC, created_at DESC LIMIT ?`, limit)
}

// ListShops 返回店铺，按商品数降序。
func (s *SQLStore) ListShops(ctx context.Context, limit int) ([]core.RawRow, error) {
	return s.queryRaw(ctx, "list shops",
		`SELECT * FROM shops ORDER BY drops_count DESC, created_at DESC LIMIT ?`, limit)
}

// ListCards 返回启用中的 swipe 卡片。
func (s *SQLStore) ListCards(ctx context.Context, limit int) ([]core.RawRow, error) {
	return s.queryRaw(ctx, "list cards",
		`SELECT * FROM cards WHERE active = 1
		 ORDER BY popularity DESC, created_at DESC LIMIT ?`, limit)
}

// ShopTagCounts 返回标签属于 tags 的店铺-标签频次。
func (s *SQLStore) ShopTagCounts(ctx context.Context, tags []string, limit int) ([]core.ShopTagCount, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, core.NormalizeToken(t))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT st.shop_slug, COALESCE(sh.name, ''), st.tag, st.item_count
		 FROM shop_tags st
		 LEFT JOIN shops sh ON sh.slug = st.shop_slug
		 WHERE st.tag IN (`+placeholders(len(tags))+`)
		 ORDER BY st.item_count DESC, st.shop_slug
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: shop tag counts: %w", err)
	}
	defer rows.Close()

	var out []core.ShopTagCount
	for rows.Next() {
		var c core.ShopTagCount
		if err := rows.Scan(&c.ShopSlug, &c.ShopName, &c.Tag, &c.ItemCount); err != nil {
			return nil, fmt.Errorf("store: scan shop tag count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SellerListings 返回卖家自己的商品（任意状态），新→旧。
func (s *SQLStore) SellerListings(ctx context.Context, sellerID string, limit int) ([]core.RawRow, error) {
	return s.queryRaw(ctx, "seller listings",
		`SELECT * FROM drops WHERE seller_id = ? ORDER BY created_at DESC LIMIT ?`, sellerID, limit)
}

// PeerPrices 返回同 brand/size/condition 的其他卖家已发布商品价格。
func (s *SQLStore) PeerPrices(ctx context.Context, brand, size, condition, excludeSeller string, limit int) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT price FROM drops
		 WHERE status = 'published' AND price > 0
		   AND lower(brand) = ? AND lower(size) = ? AND lower(condition) = ?
		   AND seller_id <> ?
		 LIMIT ?`,
		core.NormalizeToken(brand), core.NormalizeToken(size), core.NormalizeToken(condition), excludeSeller, limit)
	if err != nil {
		return nil, fmt.Errorf("store: peer prices: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scan peer price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavedCombos 统计 since 之后买家对品牌属于 brands 的商品的收藏，按 brand+size 汇总。
func (s *SQLStore) SavedCombos(ctx context.Context, brands []string, since time.Time, limit int) ([]core.SavedCombo, error) {
	if len(brands) == 0 {
		return nil, nil
	}
	args := []any{since.UnixMilli()}
	for _, b := range brands {
		args = append(args, core.NormalizeToken(b))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT lower(d.brand), lower(d.size), COUNT(*) AS n
		 FROM feedback_events f
		 JOIN impressions i ON i.id = f.impression_id AND i.target_type = 'drop'
		 JOIN drops d ON d.id = i.target_key
		 WHERE f.kind = 'action' AND f.action = 'save' AND f.created_at >= ?
		   AND lower(d.brand) IN (`+placeholders(len(brands))+`)
		 GROUP BY lower(d.brand), lower(d.size)
		 ORDER BY n DESC, lower(d.brand), lower(d.size)
		 LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: saved combos: %w", err)
	}
	defer rows.Close()

	var out []core.SavedCombo
	for rows.Next() {
		var c core.SavedCombo
		if err := rows.Scan(&c.Brand, &c.Size, &c.Count); err != nil {
			return nil, fmt.Errorf("store: scan saved combo: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IsShopOwner 判断用户是否拥有店铺。
func (s *SQLStore) IsShopOwner(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shops WHERE owner_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: is shop owner: %w", err)
	}
	return n > 0, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Fixtures 是目录数据的种子文件格式（开发环境与测试使用），字段与表列一一对应。
type Fixtures struct {
	Drops []DropFixture `yaml:"drops"`
	Shops []ShopFixture `yaml:"shops"`
	Cards []CardFixture `yaml:"cards"`
	// ShopTags 的 key 是店铺 slug，value 是 tag -> item_count
	ShopTags map[string]map[string]int `yaml:"shop_tags"`
}

type DropFixture struct {
	ID         string   `yaml:"id"`
	SellerID   string   `yaml:"seller_id"`
	ShopSlug   string   `yaml:"shop_slug"`
	Title      string   `yaml:"title"`
	Brand      string   `yaml:"brand"`
	Size       string   `yaml:"size"`
	Condition  string   `yaml:"condition"`
	Price      float64  `yaml:"price"`
	ImageURL   string   `yaml:"image_url"`
	CoverURL   string   `yaml:"cover_url"`
	Photos     []string `yaml:"photos"`
	Tags       []string `yaml:"tags"`
	Popularity float64  `yaml:"popularity"`
	Status     string   `yaml:"status"`
}

type ShopFixture struct {
	Slug       string  `yaml:"slug"`
	OwnerID    string  `yaml:"owner_id"`
	Name       string  `yaml:"name"`
	LogoURL    string  `yaml:"logo_url"`
	BannerURL  string  `yaml:"banner_url"`
	BuyRate    float64 `yaml:"buy_rate"`
	DropsCount int     `yaml:"drops_count"`
}

type CardFixture struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	ImageURL   string   `yaml:"image_url"`
	Tags       []string `yaml:"tags"`
	ShopSlug   string   `yaml:"shop_slug"`
	Popularity float64  `yaml:"popularity"`
	Inactive   bool     `yaml:"inactive"`
}

// Seed 在单个事务中写入（覆盖）种子数据。
func (s *SQLStore) Seed(ctx context.Context, f Fixtures) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: seed begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixMilli()
	for i, d := range f.Drops {
		status := d.Status
		if status == "" {
			status = "published"
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO drops
			 (id, seller_id, shop_slug, title, brand, size, condition, price, image_url, cover_url, photos, tags, popularity, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.SellerID, d.ShopSlug, d.Title, d.Brand, d.Size, d.Condition, d.Price,
			emptyToNull(d.ImageURL), emptyToNull(d.CoverURL), jsonList(d.Photos), jsonList(d.Tags),
			d.Popularity, status, now-int64(i),
		)
		if err != nil {
			return fmt.Errorf("store: seed drop %s: %w", d.ID, err)
		}
	}
	for _, sh := range f.Shops {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO shops (slug, owner_id, name, logo_url, banner_url, buy_rate, drops_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sh.Slug, sh.OwnerID, sh.Name, emptyToNull(sh.LogoURL), emptyToNull(sh.BannerURL), sh.BuyRate, sh.DropsCount, now,
		)
		if err != nil {
			return fmt.Errorf("store: seed shop %s: %w", sh.Slug, err)
		}
	}
	for i, c := range f.Cards {
		active := 1
		if c.Inactive {
			active = 0
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO cards (id, title, image_url, tags, shop_slug, popularity, active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Title, emptyToNull(c.ImageURL), jsonList(c.Tags), c.ShopSlug, c.Popularity, active, now-int64(i),
		)
		if err != nil {
			return fmt.Errorf("store: seed card %s: %w", c.ID, err)
		}
	}
	for slug, tags := range f.ShopTags {
		for tag, n := range tags {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO shop_tags (shop_slug, tag, item_count) VALUES (?, ?, ?)`,
				slug, core.NormalizeToken(tag), n,
			)
			if err != nil {
				return fmt.Errorf("store: seed shop tag %s/%s: %w", slug, tag, err)
			}
		}
	}
	return tx.Commit()
}

func emptyToNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonList(list []string) any {
	if len(list) == 0 {
		return nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil
	}
	return string(b)
}
