package database

import "drivesync/internal/fs"

// Object 代表存储中的一个文件或文件夹
// 存入数据库时会序列化为 JSON
type Object struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Name     string `json:"name"`
	IsFolder bool   `json:"is_folder"`

	// 文件大小 (字节), 文件夹为 0
	Size int64 `json:"size"`

	// 修改时间, 使用远端文本格式 (meta.RemoteLayout)
	ModifiedTime string `json:"modified_time"`

	// 在父目录 children bucket 中的序号, 决定列出顺序
	Seq uint64 `json:"seq"`
}

// Item 转为引擎使用的 RemoteItem
func (o *Object) Item() *fs.RemoteItem {
	return &fs.RemoteItem{
		ID:           o.ID,
		Name:         o.Name,
		IsFolder:     o.IsFolder,
		Size:         o.Size,
		ModifiedTime: o.ModifiedTime,
	}
}
