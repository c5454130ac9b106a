package gdrive

import "strings"

const (
	// FolderMimeType Drive 文件夹的 MIME 类型
	FolderMimeType = "application/vnd.google-apps.folder"

	// native Google Docs types carry this prefix and have no binary content
	googleAppsPrefix = "application/vnd.google-apps."

	listFields = "nextPageToken, files(id, name, mimeType, modifiedTime, size)"
	pageSize   = 1000
)

// Options 初始化参数
type Options struct {
	ClientID        string
	ClientSecret    string
	AccessToken     string
	RefreshToken    string
	CredentialsFile string
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// escapeQuery 转义 Drive 查询字符串中的字面量
func escapeQuery(s string) string {
	return queryEscaper.Replace(s)
}

// childrenQuery 列出 folderID 下未删除的子项
func childrenQuery(folderID string) string {
	return "'" + escapeQuery(folderID) + "' in parents and trashed = false"
}

func isGoogleApp(mimeType string) bool {
	return strings.HasPrefix(mimeType, googleAppsPrefix)
}
