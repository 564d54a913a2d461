package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RootKey 是源站根文档在清单中的规范键。
const RootKey = "/"

// ErrInvalidManifest 表示清单内容不满足约束（空键、空校验和、Core 不在资源表中等）。
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest 是一次部署的只读资源清单。
type Manifest struct {
	resources map[string]string
	core      []string
	digest    string
}

// New 校验并构造 Manifest，调用方传入的 map/slice 会被复制。
func New(resources map[string]string, core []string) (*Manifest, error) {
	if len(resources) == 0 {
		return nil, fmt.Errorf("%w: resources must not be empty", ErrInvalidManifest)
	}

	copied := make(map[string]string, len(resources))
	for key, sum := range resources {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: empty resource key", ErrInvalidManifest)
		}
		if strings.TrimSpace(sum) == "" {
			return nil, fmt.Errorf("%w: empty checksum for %s", ErrInvalidManifest, key)
		}
		copied[key] = sum
	}

	seen := make(map[string]struct{}, len(core))
	coreCopy := make([]string, 0, len(core))
	for _, key := range core {
		if _, ok := copied[key]; !ok {
			return nil, fmt.Errorf("%w: core entry %s missing from resources", ErrInvalidManifest, key)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		coreCopy = append(coreCopy, key)
	}

	m := &Manifest{resources: copied, core: coreCopy}
	// 摘要覆盖资源表与外壳列表，只改 core 的部署也是新代际。
	encoded, err := json.Marshal(File{Resources: copied, Core: coreCopy})
	if err != nil {
		return nil, fmt.Errorf("encode manifest digest: %w", err)
	}
	sum := sha256.Sum256(encoded)
	m.digest = hex.EncodeToString(sum[:])
	return m, nil
}

// Checksum 返回键对应的校验和。
func (m *Manifest) Checksum(key string) (string, bool) {
	sum, ok := m.resources[key]
	return sum, ok
}

// Has 判断键是否出现在清单中。
func (m *Manifest) Has(key string) bool {
	_, ok := m.resources[key]
	return ok
}

// Len 返回资源数量。
func (m *Manifest) Len() int {
	return len(m.resources)
}

// Keys 返回按字典序排序的全部资源键。
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.resources))
	for key := range m.resources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Core 返回应用外壳列表的副本，保持声明顺序。
func (m *Manifest) Core() []string {
	return append([]string(nil), m.core...)
}

// Resources 返回资源表的副本。
func (m *Manifest) Resources() map[string]string {
	out := make(map[string]string, len(m.resources))
	for key, sum := range m.resources {
		out[key] = sum
	}
	return out
}

// Digest 是资源表与外壳列表的 sha256，用作部署代际标识。
func (m *Manifest) Digest() string {
	return m.digest
}

// Encode 输出持久化到 manifest 缓存仓的 JSON 记录（仅资源表）。
func (m *Manifest) Encode() ([]byte, error) {
	// encoding/json 对 map 键排序，输出稳定。
	return json.Marshal(m.resources)
}

// DecodeResources 解析 Encode 写出的记录。
func DecodeResources(data []byte) (map[string]string, error) {
	var resources map[string]string
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("decode manifest record: %w", err)
	}
	if resources == nil {
		resources = map[string]string{}
	}
	return resources, nil
}
