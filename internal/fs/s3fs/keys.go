package s3fs

import (
	"fmt"
	"strings"
)

// RootAlias 可以代替根前缀作为文件夹 id
const RootAlias = "root"

// normalizePrefix 保证前缀为空或以 "/" 结尾, 且不以 "/" 开头
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// folderKey 把文件夹 id 转换为 key 前缀
func (s *Store) folderKey(folderID string) string {
	if folderID == "" || folderID == RootAlias {
		return s.prefix
	}
	return normalizePrefix(folderID)
}

func childKey(folderKey, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return "", fmt.Errorf("s3: invalid object name %q", name)
	}
	return folderKey + name, nil
}

// baseName 返回 key 的最后一段, 忽略结尾的 "/"
func baseName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}

func isFolderKey(key string) bool {
	return strings.HasSuffix(key, "/")
}
