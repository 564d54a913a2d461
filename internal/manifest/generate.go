package manifest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// indexDocument 的校验和同时登记为根文档 "/"。
const indexDocument = "index.html"

// Generate 遍历构建目录，为每个文件计算 md5 十六进制摘要并生成 Manifest。
// 若存在 index.html，则以相同校验和登记 "/"。
func Generate(root string, core []string) (*Manifest, error) {
	resources := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		sum, err := fileMD5(path)
		if err != nil {
			return err
		}
		resources[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("扫描构建目录失败: %w", err)
	}

	if sum, ok := resources[indexDocument]; ok {
		resources[RootKey] = sum
	}
	return New(resources, core)
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
