package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File 是清单文件的结构；YAML 与 JSON 共用同一解析路径（JSON 是 YAML 的子集）。
type File struct {
	Resources map[string]string `yaml:"resources" json:"resources"`
	Core      []string          `yaml:"core" json:"core"`
}

// Load 读取清单文件并构造 Manifest。
func Load(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取清单失败: %w", err)
	}
	return Parse(raw)
}

// Parse 解析清单文件内容。
func Parse(raw []byte) (*Manifest, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析清单失败: %w", err)
	}
	return New(file.Resources, file.Core)
}

// Marshal 将 Manifest 编码为清单文件（YAML）。
func Marshal(m *Manifest) ([]byte, error) {
	return yaml.Marshal(File{Resources: m.Resources(), Core: m.Core()})
}
