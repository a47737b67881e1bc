// Package rank 提供各 Surface 的打分逻辑：基础热度 + 按算法变体的个性化加权 + 稳定噪声。
package rank

// Weights 是打分常数。它们是可调参数，不是不变量：
// 唯一保证是“其他条件相同时，liked 信号越多分数越高”。
type Weights struct {
	// swipe 卡片
	CardLikedTag     float64 `yaml:"card_liked_tag"`
	CardDislikedTag  float64 `yaml:"card_disliked_tag"`
	CardTagCap       float64 `yaml:"card_tag_cap"`
	CardVectorTagCap float64 `yaml:"card_vector_tag_cap"`
	CardVectorNoise  float64 `yaml:"card_vector_noise"`
	CardHybridNoise  float64 `yaml:"card_hybrid_noise"`

	// 商品（旧版 Feed）
	DropBrand         float64 `yaml:"drop_brand"`
	DropSize          float64 `yaml:"drop_size"`
	DropShop          float64 `yaml:"drop_shop"`
	DropPrice         float64 `yaml:"drop_price"`
	DropPriceBand     float64 `yaml:"drop_price_band"` // 相对均价的容差比例
	DropDislikedBrand float64 `yaml:"drop_disliked_brand"`
	DropDislikedSize  float64 `yaml:"drop_disliked_size"`
	DropDislikedShop  float64 `yaml:"drop_disliked_shop"`
	DropVectorNoise   float64 `yaml:"drop_vector_noise"`
	DropHybridNoise   float64 `yaml:"drop_hybrid_noise"`

	// 店铺（旧版 Feed）
	ShopLiked       float64 `yaml:"shop_liked"`
	ShopDisliked    float64 `yaml:"shop_disliked"`
	ShopBuyRate     float64 `yaml:"shop_buy_rate"`
	ShopVectorNoise float64 `yaml:"shop_vector_noise"`
}

// DefaultWeights 返回默认打分常数。
func DefaultWeights() Weights {
	return Weights{
		CardLikedTag:     2,
		CardDislikedTag:  3,
		CardTagCap:       6,
		CardVectorTagCap: 3,
		CardVectorNoise:  2,
		CardHybridNoise:  1,

		DropBrand:         5,
		DropSize:          3,
		DropShop:          4,
		DropPrice:         2,
		DropPriceBand:     0.4,
		DropDislikedBrand: 6,
		DropDislikedSize:  4,
		DropDislikedShop:  5,
		DropVectorNoise:   1.5,
		DropHybridNoise:   0.8,

		ShopLiked:       6,
		ShopDisliked:    8,
		ShopBuyRate:     3,
		ShopVectorNoise: 1.0,
	}
}
