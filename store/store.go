// Package store 提供 core.Store（KV）、core.DurableCache 以及各仓储接口的实现。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
//	var kv core.Store = store.NewMemoryStore()
//	kv, _ := store.NewRedisStore(store.RedisOptions{Addr: "localhost:6379"})
//	db, _ := store.OpenSQL("feed.db")   // core.DurableCache + ImpressionStore + FeedbackStore + CatalogStore
package store
