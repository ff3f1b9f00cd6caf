package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeyFunc 将 URL 映射为稳定的 64 位缓存键，Resolver 通过它派生条目文件名。
type KeyFunc func(input string) uint64

const (
	// KeyHashLegacy 与历史磁盘布局兼容的滚动求和算法。
	KeyHashLegacy = "legacy"
	// KeyHashXX 使用 xxhash64，碰撞概率更低，适合新部署。
	KeyHashXX = "xxhash"
)

// LegacyKey 以 UTF-8 字节长度为初值，逐字节左移 (n*5)%56 位后累加，溢出按 uint64 回绕。
// 该算法不具备抗碰撞性，仅用于生成定长、文件系统安全的文件名。
func LegacyKey(input string) uint64 {
	value := uint64(len(input))
	for n := 0; n < len(input); n++ {
		value += uint64(input[n]) << ((n * 5) % 56)
	}
	return value
}

// XXHashKey returns the xxhash64 digest of the input.
func XXHashKey(input string) uint64 {
	return xxhash.Sum64String(input)
}

// KeyFuncByName 根据配置中的 KeyHash 名称返回对应的 KeyFunc，空值回退 legacy。
func KeyFuncByName(name string) (KeyFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", KeyHashLegacy:
		return LegacyKey, nil
	case KeyHashXX:
		return XXHashKey, nil
	default:
		return nil, fmt.Errorf("unsupported key hash: %s", name)
	}
}

// FileName renders a cache key as its on-disk entry name.
func FileName(key uint64) string {
	return strconv.FormatUint(key, 10)
}
