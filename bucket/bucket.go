// Package bucket 提供确定性的 A/B 分桶与稳定噪声。
//
// 两者都基于 FNV-1a 非加密哈希，不依赖任何进程级随机种子：
// 同一个 userID 在任意请求、任意进程重启后都落在同一个桶；
// 同一个 (userID, candidateID) 得到的噪声永远相同，缓存命中不会导致重排。
package bucket

import (
	"hash/fnv"
	"strings"

	"github.com/rushteam/dropfeed/core"
)

// Assignment 是用户的实验分组结果。
type Assignment struct {
	Group     int            `json:"group"`
	Name      string         `json:"abGroup"` // "A" / "B" / "C"
	Algorithm core.Algorithm `json:"algorithm"`
}

var variants = [...]struct {
	name string
	algo core.Algorithm
}{
	{"A", core.AlgoCollaborative},
	{"B", core.AlgoVector},
	{"C", core.AlgoHybrid},
}

// Assign 把 userID 映射到三个算法变体之一。
func Assign(userID string) Assignment {
	g := int(Hash32(userID) % uint32(len(variants)))
	return Assignment{
		Group:     g,
		Name:      variants[g].name,
		Algorithm: variants[g].algo,
	}
}

// Hash32 是 FNV-1a 32 位哈希。
func Hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Noise 返回 [-1, 1] 内的确定性伪随机值，种子为各部分以 ':' 连接。
func Noise(parts ...string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(parts, ":")))
	// 取高 53 位映射到 [0,1]，再平移到 [-1,1]
	u := float64(h.Sum64()>>11) / float64(1<<53-1)
	return u*2 - 1
}
